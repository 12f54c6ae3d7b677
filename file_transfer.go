package iotcore

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
)

// TransferProgress is reported periodically during upload/download so a
// caller can drive a progress bar, §4.11.
type TransferProgress struct {
	BytesDone  int64
	BytesTotal int64
}

// ProgressFunc receives TransferProgress updates; it may be nil.
type ProgressFunc func(TransferProgress)

// UploadRequest describes a set of local paths to archive and ship, §4.11.
// A source may name an individual file or a directory; a directory
// contributes only its top-level files (no recursion into subdirectories),
// §4.9.
type UploadRequest struct {
	Sources     []string
	Destination string // opaque to this package; passed to UploadFunc
	OnProgress  ProgressFunc
	UserData    interface{}
}

// FileTransfer is the payload fanned through the plugin pipeline for
// OpFileUpload/OpFileDownload, §4.9: the (possibly tar-substituted) source
// paths or destination directory, the cloud-side name, the progress
// callback, and a user-data pointer.
type FileTransfer struct {
	Sources     []string
	Destination string
	CloudName   string
	OnProgress  ProgressFunc
	UserData    interface{}
}

// UploadFunc performs the actual network transfer of the archived bytes
// read from r (total known up front as size) to destination. The default
// Library has no built-in transport; a transport plugin (e.g. a websocket
// plugin) supplies this via Library.Uploader.
type UploadFunc func(ctx context.Context, destination string, r io.Reader, size int64) error

// Upload tars req.Sources into a single stream and hands it to upload,
// reporting progress via req.OnProgress, §4.11. The archive is built into a
// temp file first so its total size is known before the transfer starts.
func Upload(ctx context.Context, req UploadRequest, upload UploadFunc) error {
	if upload == nil {
		return withMessage(NotInitialized, "no upload transport configured")
	}
	if len(req.Sources) == 0 {
		return withMessage(BadParameter, "upload request has no sources")
	}

	tmp, err := os.CreateTemp("", "iotcore-upload-*.tar")
	if err != nil {
		return withMessage(IOError, "creating archive temp file: %v", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	tw := tar.NewWriter(tmp)
	for _, src := range req.Sources {
		if err := addToArchive(tw, src); err != nil {
			tw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return withMessage(IOError, "closing archive: %v", err)
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return withMessage(IOError, "measuring archive: %v", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return withMessage(IOError, "rewinding archive: %v", err)
	}

	var r io.Reader = tmp
	if req.OnProgress != nil {
		r = &progressReader{r: tmp, total: size, cb: req.OnProgress}
	}

	if err := upload(ctx, req.Destination, r, size); err != nil {
		return withMessage(IOError, "uploading archive: %v", err)
	}
	return nil
}

// addToArchive adds src to tw. A regular file is added under its own base
// name; a directory contributes only its top-level files, with no
// recursion into subdirectories, §4.9.
func addToArchive(tw *tar.Writer, src string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return withMessage(FileOpenFailed, "stat %q: %v", src, err)
	}
	if !fi.IsDir() {
		return archiveFile(tw, src, filepath.Base(src), fi)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return withMessage(IOError, "reading directory %q: %v", src, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(src, e.Name())
		info, err := e.Info()
		if err != nil {
			return withMessage(IOError, "stat %q: %v", path, err)
		}
		if err := archiveFile(tw, path, e.Name(), info); err != nil {
			return err
		}
	}
	return nil
}

func archiveFile(tw *tar.Writer, path, name string, fi os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return withMessage(IOError, "building header for %q: %v", path, err)
	}
	hdr.Name = filepath.ToSlash(name)
	if err := tw.WriteHeader(hdr); err != nil {
		return withMessage(IOError, "writing header for %q: %v", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return withMessage(FileOpenFailed, "opening %q: %v", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return withMessage(IOError, "archiving %q: %v", path, err)
	}
	return nil
}

type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	cb    ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.done += int64(n)
		p.cb(TransferProgress{BytesDone: p.done, BytesTotal: p.total})
	}
	return n, err
}

// DownloadFunc streams bytes for a remote identifier into w.
type DownloadFunc func(ctx context.Context, identifier string, w io.Writer) (int64, error)

// Download creates destDir (including parents) if needed and streams
// identifier into destDir via fetch, §4.11's download-directory creation
// requirement.
func Download(ctx context.Context, destDir, identifier string, fetch DownloadFunc, onProgress ProgressFunc) (string, error) {
	if fetch == nil {
		return "", withMessage(NotInitialized, "no download transport configured")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", withMessage(IOError, "creating download directory %q: %v", destDir, err)
	}

	destPath := filepath.Join(destDir, filepath.Base(identifier))
	f, err := os.Create(destPath)
	if err != nil {
		return "", withMessage(FileOpenFailed, "creating %q: %v", destPath, err)
	}
	defer f.Close()

	var w io.Writer = f
	if onProgress != nil {
		w = &progressWriter{w: f, cb: onProgress}
	}

	if _, err := fetch(ctx, identifier, w); err != nil {
		os.Remove(destPath)
		return "", withMessage(IOError, "downloading %q: %v", identifier, err)
	}
	return destPath, nil
}

type progressWriter struct {
	w    io.Writer
	done int64
	cb   ProgressFunc
}

func (p *progressWriter) Write(buf []byte) (int, error) {
	n, err := p.w.Write(buf)
	p.done += int64(n)
	p.cb(TransferProgress{BytesDone: p.done})
	return n, err
}
