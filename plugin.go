package iotcore

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Operation identifies which library call is being fanned through the
// pipeline, §4.10. Plugins switch on this to decide whether/how to act.
type Operation uint8

const (
	OpActionRegister Operation = iota
	OpActionDeregister
	OpActionComplete
	OpTelemetryRegister
	OpTelemetryDeregister
	OpTelemetryPublish
	OpAlarmRegister
	OpAlarmDeregister
	OpAlarmPublish
	OpEventPublish
	OpAttributePublish
	OpFileUpload
	OpFileDownload
	OpConnect
	OpDisconnect
)

// Step is one of the three traversal phases §4.10 defines.
type Step uint8

const (
	StepBefore Step = iota
	StepDuring
	StepAfter
)

// Version is a packed major.minor.patch.tweak version number, §6.3. Zero on
// either end of a supported-version bracket means unbounded, per Design
// Note 9 ("0 means unbounded for both ends").
type Version struct {
	Major, Minor, Patch, Tweak uint8
}

func (v Version) packed() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Patch)<<8 | uint32(v.Tweak)
}

func (v Version) isZero() bool { return v == Version{} }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Tweak)
}

// VersionBracket is the [min,max] range a plugin declares support for.
type VersionBracket struct {
	Min, Max Version
}

// Brackets reports whether lib falls within the bracket. A zero Min/Max is
// treated as unbounded on that end.
func (b VersionBracket) Brackets(lib Version) bool {
	if !b.Min.isZero() && lib.packed() < b.Min.packed() {
		return false
	}
	if !b.Max.isZero() && lib.packed() > b.Max.packed() {
		return false
	}
	return true
}

// PluginInfo is returned by a plugin's Info() method, §4.10/§6.3.
type PluginInfo struct {
	Name           string
	OrderPriority  int
	Version        Version
	SupportedRange VersionBracket
}

// PipelineItem bundles the arguments §4.10's execute(...) callback receives:
// the entity the operation concerns (an *Action, *Telemetry, *Alarm, a
// FileTransfer request, ...), an associated Value where relevant (e.g. a
// telemetry sample), and the options map in effect for this call.
type PipelineItem struct {
	Item    interface{}
	Value   Value
	Options *OptionsMap
}

// Plugin is the six-callback v-table of §4.10. Every library operation
// (register, publish, connect, ...) is fanned through every enabled
// plugin's Execute across the three Step phases.
type Plugin interface {
	Initialize(lib *Library) (state interface{}, err error)
	Terminate(lib *Library, state interface{})
	Enable(lib *Library, state interface{}) error
	Disable(lib *Library, state interface{}, force bool) error
	Execute(lib *Library, state interface{}, op Operation, step Step, deadline *Deadline, item PipelineItem) Status
	Info() PluginInfo
}

// Deadline is the mutable, pipeline-wide time budget §4.10/§5 describe: a
// single counter carried across plugin calls within one Perform traversal.
// A zero deadline on entry means "no limit" and is never decremented.
type Deadline struct {
	unlimited bool
	remaining int64 // milliseconds
}

// NewDeadline builds a Deadline from a caller-supplied max_time_out_ms. A
// value of 0 is preserved as meaning "indefinite", matching the source's
// convention even though it means a caller can't request a no-wait call.
func NewDeadline(maxTimeoutMs int64) *Deadline {
	if maxTimeoutMs <= 0 {
		return &Deadline{unlimited: true}
	}
	return &Deadline{remaining: maxTimeoutMs}
}

// Spend debits cost milliseconds from the budget and reports whether the
// deadline has now been exhausted (always false when unlimited).
func (d *Deadline) Spend(cost int64) bool {
	if d == nil || d.unlimited {
		return false
	}
	d.remaining -= cost
	return d.remaining <= 0
}

// Exhausted reports whether the deadline has already elapsed.
func (d *Deadline) Exhausted() bool {
	return d != nil && !d.unlimited && d.remaining <= 0
}

type pluginEntry struct {
	plugin Plugin
	state  interface{}
	info   PluginInfo
}

// PluginManager tracks the loaded and enabled plugin sets and implements
// the ordered fan-out of §4.10.
type PluginManager struct {
	mu      sync.RWMutex
	loaded  map[string]*pluginEntry
	enabled []*pluginEntry
	libVer  Version
	log     *Logger
}

func newPluginManager(libVer Version, log *Logger) *PluginManager {
	return &PluginManager{loaded: make(map[string]*pluginEntry), libVer: libVer, log: log}
}

// Load validates and registers p as a loaded (but not yet enabled) plugin.
// A version bracket that does not bracket the runtime library's version is
// rejected, per §4.10.
func (m *PluginManager) Load(lib *Library, p Plugin) error {
	info := p.Info()
	if info.Name == "" {
		return withMessage(BadParameter, "plugin info must declare a name")
	}
	if !info.SupportedRange.Brackets(m.libVer) {
		return withMessage(NotSupported, "plugin %q does not support library version", info.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.loaded[info.Name]; exists {
		return withMessage(Exists, "plugin %q already loaded", info.Name)
	}

	state, err := p.Initialize(lib)
	if err != nil {
		return withMessage(Failure, "initializing plugin %q: %v", info.Name, err)
	}
	m.loaded[info.Name] = &pluginEntry{plugin: p, state: state, info: info}
	return nil
}

// Enable activates a loaded plugin, inserting it into the enabled list in
// ascending OrderPriority order (stable with respect to insertion order for
// equal priorities), per §4.10.
func (m *PluginManager) Enable(lib *Library, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.loaded[name]
	if !ok {
		return withMessage(NotFound, "plugin %q not loaded", name)
	}
	for _, e := range m.enabled {
		if e == entry {
			return withMessage(Exists, "plugin %q already enabled", name)
		}
	}
	if err := entry.plugin.Enable(lib, entry.state); err != nil {
		return withMessage(Failure, "enabling plugin %q: %v", name, err)
	}

	idx := sort.Search(len(m.enabled), func(i int) bool {
		return m.enabled[i].info.OrderPriority > entry.info.OrderPriority
	})
	m.enabled = append(m.enabled, nil)
	copy(m.enabled[idx+1:], m.enabled[idx:])
	m.enabled[idx] = entry
	return nil
}

// Disable deactivates a single enabled plugin. It is removed from the
// enabled list iff its Disable callback returns Success or force is true.
func (m *PluginManager) Disable(lib *Library, name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableLocked(lib, name, force)
}

func (m *PluginManager) disableLocked(lib *Library, name string, force bool) error {
	for i, e := range m.enabled {
		if e.info.Name != name {
			continue
		}
		err := e.plugin.Disable(lib, e.state, force)
		if err == nil || force {
			m.enabled = append(m.enabled[:i], m.enabled[i+1:]...)
			return nil
		}
		return withMessage(Failure, "disabling plugin %q: %v", name, err)
	}
	return withMessage(NotFound, "plugin %q not enabled", name)
}

// DisableAll disables every enabled plugin, forcing removal regardless of
// each plugin's returned status, per §4.10.
func (m *PluginManager) DisableAll(lib *Library) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.enabled) > 0 {
		name := m.enabled[0].info.Name
		_ = m.disableLocked(lib, name, true)
	}
}

// Perform fans op through every enabled plugin across BEFORE/DURING/AFTER,
// in ascending priority order within each step, aggregating the highest
// numerically-ordered Status returned across every call.
// The deadline counter is shared across the whole traversal; once it is
// exhausted (and wasn't unlimited on entry) the outer loop short-circuits.
func (m *PluginManager) Perform(lib *Library, op Operation, deadline *Deadline, item PipelineItem) Status {
	start := time.Now()
	m.mu.RLock()
	entries := make([]*pluginEntry, len(m.enabled))
	copy(entries, m.enabled)
	m.mu.RUnlock()

	result := Success
	for _, step := range []Step{StepBefore, StepDuring, StepAfter} {
		for _, e := range entries {
			s := e.plugin.Execute(lib, e.state, op, step, deadline, item)
			if s > result {
				result = s
			}
		}
		if deadline.Exhausted() {
			break
		}
	}
	if lib != nil {
		lib.Metrics.ObservePipeline(op, time.Since(start))
	}
	return result
}

// EnabledNames returns the names of currently enabled plugins in traversal
// order, for diagnostics and tests.
func (m *PluginManager) EnabledNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.enabled))
	for i, e := range m.enabled {
		names[i] = e.info.Name
	}
	return names
}
