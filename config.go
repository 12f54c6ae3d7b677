package iotcore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/nexusiot/agentcore/osal"
)

// Config owns the global options map the library is initialized with,
// loaded after an optional .env seed, plus a live fsnotify watch for
// hot-reload. The device identity file is handled separately by DeviceID.
type Config struct {
	mu      sync.RWMutex
	options *OptionsMap
	log     *Logger

	path    string
	watcher *fsnotify.Watcher
	onChange func(*OptionsMap)
}

// LoadConfig reads a JSON document from path and flattens its keys into an
// OptionsMap using dotted-path names ("a.b.c"), §4.6's config loader. If an
// adjacent "<path>.env" file exists it is loaded first via godotenv and
// seeds process environment variables the JSON may reference indirectly
// (the JSON loader itself does no env-substitution; see DESIGN.md).
func LoadConfig(path string, log *Logger) (*Config, error) {
	envPath := path + ".env"
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, withMessage(IOError, "loading %q: %v", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, withMessage(FileOpenFailed, "reading config %q: %v", path, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, withMessage(ParseError, "parsing config %q: %v", path, err)
	}

	opts := NewOptionsMap()
	flattenInto(opts, "", raw)

	return &Config{options: opts, log: log, path: path}, nil
}

// flattenInto recursively walks a decoded JSON document, storing each leaf
// under its dotted key path, §4.6's flattening rule.
func flattenInto(opts *OptionsMap, prefix string, node interface{}) {
	switch val := node.(type) {
	case map[string]interface{}:
		for k, v := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(opts, key, v)
		}
	case string:
		v, _ := Set(TypeString, true, val)
		_ = opts.Set(prefix, v)
	case bool:
		v, _ := Set(TypeBool, false, val)
		_ = opts.Set(prefix, v)
	case float64:
		v, _ := Set(TypeFloat64, false, val)
		_ = opts.Set(prefix, v)
	case nil:
		// A JSON null clears rather than sets, consistent with §4.2's
		// NULL-means-clear convention; a no-op here since nothing is set
		// yet, but kept explicit for symmetry with re-loads.
	default:
		// Arrays and any other JSON shape are stored as their literal JSON
		// text, since the options map has no native array type.
		if b, err := json.Marshal(val); err == nil {
			v, _ := Set(TypeString, true, string(b))
			_ = opts.Set(prefix, v)
		}
	}
}

// Options returns the live options map backing this config.
func (c *Config) Options() *OptionsMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.options
}

// Watch starts an fsnotify watch on the config file's directory and invokes
// onChange with a freshly reloaded options map whenever the file is
// rewritten, §A.3's hot-reload enrichment. Callers that don't need live
// reload simply never call Watch.
func (c *Config) Watch(onChange func(*OptionsMap)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return withMessage(Exists, "config already being watched")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return withMessage(Failure, "creating config watcher: %v", err)
	}
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return withMessage(IOError, "watching %q: %v", filepath.Dir(c.path), err)
	}
	c.watcher = w
	c.onChange = onChange

	go c.watchLoop(w)
	return nil
}

func (c *Config) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := LoadConfig(c.path, c.log)
			if err != nil {
				if c.log != nil {
					c.log.Errorf("config", "reload of %q failed: %v", c.path, err)
				}
				continue
			}
			c.mu.Lock()
			c.options = reloaded.options
			cb := c.onChange
			c.mu.Unlock()
			if cb != nil {
				cb(reloaded.options)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if c.log != nil {
				c.log.Errorf("config", "watch error: %v", err)
			}
		}
	}
}

// Close stops any active file watch.
func (c *Config) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}

// DeviceID reads a UUID-formatted device identity from path, generating and
// persisting a fresh one (via system.NewUUID) on first run or if the file
// is present but empty, §4.6's device-id file management. A present file
// holding anything other than a valid UUID (and not merely empty) is a
// ParseError, since that's an operator-introduced inconsistency rather than
// a fresh-start condition.
func DeviceID(path string, system osal.System) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			if _, parseErr := uuid.Parse(id); parseErr == nil {
				return id, nil
			}
			return "", withMessage(ParseError, "device-id file %q does not contain a valid UUID", path)
		}
	} else if !os.IsNotExist(err) {
		return "", withMessage(FileOpenFailed, "reading device-id file %q: %v", path, err)
	}

	id := system.NewUUID()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", withMessage(IOError, "creating device-id directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", withMessage(IOError, "writing device-id file %q: %v", path, err)
	}
	return id, nil
}
