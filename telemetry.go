package iotcore

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Telemetry is a registered measurement stream, §3.7/§4.7: a named,
// typed value that gets published with an associated timestamp. Unlike an
// Action, a Telemetry has no parameters or exclusivity — it is purely a
// named typed slot plus a publish operation.
type Telemetry struct {
	Name         string
	Type         ValueType
	Options      *OptionsMap
	UserData     interface{}
	lastValue    Value
	lastPublish  time.Time
	hasPublished bool
	// pendingTimestamp is a one-shot pre-stamp installed by TimestampSet:
	// it overrides the timestamp of the next Publish call and is then
	// cleared, §4.7.
	pendingTimestamp *time.Time
}

// TelemetryRegistry is the alphabetically-ordered registry of §4.7,
// structurally identical to ActionRegistry but without ActionMax/exec
// concerns.
type TelemetryRegistry struct {
	mu      sync.RWMutex
	entries []*Telemetry
	lib     *Library
}

func newTelemetryRegistry(lib *Library) *TelemetryRegistry {
	return &TelemetryRegistry{lib: lib}
}

func (r *TelemetryRegistry) search(name string) (int, bool) {
	lower := strings.ToLower(name)
	i := sort.Search(len(r.entries), func(i int) bool {
		return strings.ToLower(r.entries[i].Name) >= lower
	})
	if i < len(r.entries) && strings.EqualFold(r.entries[i].Name, name) {
		return i, true
	}
	return i, false
}

// Register adds a new telemetry stream, §4.7.
func (r *TelemetryRegistry) Register(t *Telemetry) error {
	if t.Name == "" || len(t.Name) > NameMax {
		return withMessage(BadParameter, "telemetry name length invalid")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.search(t.Name); found {
		return withMessage(Exists, "telemetry %q already registered", t.Name)
	}
	idx, _ := r.search(t.Name)
	r.entries = append(r.entries, nil)
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = t

	r.lib.Plugins.Perform(r.lib, OpTelemetryRegister, NewDeadline(0), PipelineItem{Item: t})
	return nil
}

// Deregister removes name from the registry.
func (r *TelemetryRegistry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, found := r.search(name)
	if !found {
		return withMessage(NotFound, "telemetry %q not registered", name)
	}
	t := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	r.lib.Plugins.Perform(r.lib, OpTelemetryDeregister, NewDeadline(0), PipelineItem{Item: t})
	return nil
}

// Publish records v as the current sample for name and fans it through the
// pipeline. A type mismatch between v and the stream's declared Type is a
// BadRequest, unless the stream was declared NULL, which is a wildcard
// accepting any value type, §4.7. A pending TimestampSet pre-stamp, if any,
// overrides the supplied timestamp and is consumed (cleared) once the
// pipeline traversal reports Success.
func (r *TelemetryRegistry) Publish(name string, v Value, timestamp time.Time) error {
	r.mu.Lock()
	idx, found := r.search(name)
	if !found {
		r.mu.Unlock()
		return withMessage(NotFound, "telemetry %q not registered", name)
	}
	t := r.entries[idx]
	if t.Type != TypeNull && v.Type() != t.Type {
		r.mu.Unlock()
		return withMessage(BadRequest, "telemetry %q expects %s, got %s", name, t.Type, v.Type())
	}
	effective := timestamp
	if t.pendingTimestamp != nil {
		effective = *t.pendingTimestamp
	}
	t.lastValue = v
	t.lastPublish = effective
	t.hasPublished = true
	r.mu.Unlock()

	status := r.lib.Plugins.Perform(r.lib, OpTelemetryPublish, NewDeadline(0), PipelineItem{Item: t, Value: v})
	if status == Success {
		r.mu.Lock()
		t.pendingTimestamp = nil
		r.mu.Unlock()
	}
	return nil
}

// TimestampSet installs a one-shot timestamp pre-stamp for name: the next
// Publish call uses it in place of its own timestamp argument, then it is
// cleared, matching the source's timestamp_set entry point in §4.7.
func (r *TelemetryRegistry) TimestampSet(name string, timestamp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, found := r.search(name)
	if !found {
		return withMessage(NotFound, "telemetry %q not registered", name)
	}
	ts := timestamp
	r.entries[idx].pendingTimestamp = &ts
	return nil
}

// Last returns the most recently published value and timestamp for name.
func (r *TelemetryRegistry) Last(name string) (Value, time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, found := r.search(name)
	if !found {
		return Value{}, time.Time{}, withMessage(NotFound, "telemetry %q not registered", name)
	}
	t := r.entries[idx]
	if !t.hasPublished {
		return Value{}, time.Time{}, withMessage(NotFound, "telemetry %q has no published value", name)
	}
	return t.lastValue, t.lastPublish, nil
}

// Names returns the sorted telemetry stream names currently registered.
func (r *TelemetryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, t := range r.entries {
		names[i] = t.Name
	}
	return names
}
