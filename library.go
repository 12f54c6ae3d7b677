package iotcore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusiot/agentcore/osal"
)

// LibraryVersion is this implementation's runtime version, checked against
// every plugin's SupportedRange on Load, §6.3.
var LibraryVersion = Version{Major: 1, Minor: 0}

// LibraryOptions configures Initialize, §4.5's library-handle constructor.
type LibraryOptions struct {
	// SingleThread runs the dispatcher cooperatively via LoopIteration
	// instead of spawning a worker pool, §3.6.
	SingleThread bool
	// Logger is used for internal diagnostics; a no-op zerolog logger is
	// used if nil.
	Logger *Logger
	// Options seeds the global options map (e.g. from Config.Options()).
	Options *OptionsMap
	// Uploader/Downloader are supplied by a transport plugin; without them
	// Upload/Download return NotInitialized.
	Uploader   UploadFunc
	Downloader DownloadFunc
	// System abstracts the clock, UUID generation and process execution;
	// osal.Default{} is used if nil.
	System osal.System
	// Metrics, if set, is observed by the dispatcher and plugin pipeline.
	// Left nil, every Metrics call is a no-op.
	Metrics *Metrics
}

// Library is the handle tying together every registry, the dispatcher, the
// plugin pipeline, and lifecycle state, §3.10/§4.5. It is the single entry
// point an embedder holds.
type Library struct {
	Actions    *ActionRegistry
	Telemetry  *TelemetryRegistry
	Alarms     *AlarmRegistry
	Plugins    *PluginManager
	Dispatcher *Dispatcher
	Log        *Logger
	Options    *OptionsMap

	Uploader   UploadFunc
	Downloader DownloadFunc
	System     osal.System
	Metrics    *Metrics

	mu          sync.Mutex
	initialized bool
	quit        chan struct{}
}

// Initialize constructs a ready-to-use Library per §4.5's
// iot_lib_initialize: registries and the dispatcher are allocated, but the
// dispatcher's worker pool/cooperative loop is not started until Start.
func Initialize(opts LibraryOptions) (*Library, error) {
	log := opts.Logger
	if log == nil {
		log = NewLogger(zerolog.Nop())
	}
	options := opts.Options
	if options == nil {
		options = NewOptionsMap()
	}
	system := opts.System
	if system == nil {
		system = osal.Default{}
	}

	lib := &Library{
		Log:        log,
		Options:    options,
		Uploader:   opts.Uploader,
		Downloader: opts.Downloader,
		System:     system,
		Metrics:    opts.Metrics,
		quit:       make(chan struct{}),
	}
	lib.Actions = newActionRegistry()
	lib.Telemetry = newTelemetryRegistry(lib)
	lib.Alarms = newAlarmRegistry(lib)
	lib.Plugins = newPluginManager(LibraryVersion, log)
	lib.Dispatcher = newDispatcher(lib, opts.SingleThread)

	lib.mu.Lock()
	lib.initialized = true
	lib.mu.Unlock()
	return lib, nil
}

// Start launches the dispatcher's worker pool (a no-op in single-threaded
// mode), §5's loop_start.
func (l *Library) Start() {
	l.Dispatcher.Start()
}

// LoopIteration drains at most one queued request; meaningful only when
// the library was initialized with SingleThread, §5's loop_iteration.
func (l *Library) LoopIteration() bool {
	return l.Dispatcher.LoopIteration()
}

// LoopForever repeatedly calls LoopIteration until ctx is cancelled,
// sleeping idlePoll between empty iterations, §5's loop_forever.
func (l *Library) LoopForever(ctx context.Context, idlePoll time.Duration) {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if l.Dispatcher.LoopIteration() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch invokes a registered action by name with params, §4.6.
func (l *Library) Dispatch(ctx context.Context, actionName string, params *OptionsMap) (*OptionsMap, error) {
	return l.Dispatcher.Dispatch(ctx, actionName, params)
}

// Reconnect is a retry loop an embedder can drive to
// re-establish a transport plugin's connection, fanning OpConnect through
// the pipeline until a non-TryAgain status is returned or ctx is cancelled.
func (l *Library) Reconnect(ctx context.Context, backoff time.Duration) error {
	for {
		status := l.Plugins.Perform(l, OpConnect, NewDeadline(0), PipelineItem{Options: l.Options})
		if status == Success {
			return nil
		}
		if status != TryAgain {
			return withMessage(status, "reconnect failed")
		}
		select {
		case <-ctx.Done():
			return withMessage(TimedOut, "reconnect cancelled: %v", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// Upload archives req.Sources into one tar stream and transfers it through the
// configured Uploader, first fanning OpFileUpload through the plugin
// pipeline with a FileTransfer payload so transport/logging plugins can
// observe (or veto) the transfer, §4.9.
func (l *Library) Upload(ctx context.Context, req UploadRequest) error {
	item := PipelineItem{Item: &FileTransfer{
		Sources:     req.Sources,
		Destination: req.Destination,
		OnProgress:  req.OnProgress,
		UserData:    req.UserData,
	}}
	if status := l.Plugins.Perform(l, OpFileUpload, NewDeadline(0), item); !status.OK() {
		return status
	}
	return Upload(ctx, req, l.Uploader)
}

// Download fetches identifier into destDir through the configured
// Downloader, first fanning OpFileDownload through the plugin pipeline
// with a FileTransfer payload, §4.9.
func (l *Library) Download(ctx context.Context, destDir, identifier string, onProgress ProgressFunc) (string, error) {
	item := PipelineItem{Item: &FileTransfer{
		Destination: destDir,
		CloudName:   identifier,
		OnProgress:  onProgress,
	}}
	if status := l.Plugins.Perform(l, OpFileDownload, NewDeadline(0), item); !status.OK() {
		return "", status
	}
	return Download(ctx, destDir, identifier, l.Downloader, onProgress)
}

// Terminate stops the dispatcher, disables every plugin, and marks the
// library unusable, §4.5's iot_lib_terminate. Terminate is idempotent.
func (l *Library) Terminate() {
	l.mu.Lock()
	if !l.initialized {
		l.mu.Unlock()
		return
	}
	l.initialized = false
	close(l.quit)
	l.mu.Unlock()

	l.Plugins.Perform(l, OpDisconnect, NewDeadline(0), PipelineItem{})
	l.Dispatcher.Stop()
	l.Plugins.DisableAll(l)
}
