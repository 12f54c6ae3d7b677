package iotcore

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// AlarmSeverity ranks an alarm's urgency, §3.8.
type AlarmSeverity uint8

const (
	AlarmInfo AlarmSeverity = iota
	AlarmWarning
	AlarmCritical
)

// AlarmState tracks whether an alarm condition is currently raised.
type AlarmState uint8

const (
	AlarmCleared AlarmState = iota
	AlarmRaised
)

// Alarm is a registered condition that toggles between raised/cleared,
// §3.8/§4.8, each transition published through the pipeline with an
// optional associated Location (e.g. "raised at this position").
type Alarm struct {
	Name     string
	Severity AlarmSeverity
	UserData interface{}

	state     AlarmState
	lastEvent time.Time
}

// AlarmRegistry mirrors TelemetryRegistry's structure: an alphabetically
// ordered table plus a publish operation, §4.8.
type AlarmRegistry struct {
	mu      sync.RWMutex
	entries []*Alarm
	lib     *Library
}

func newAlarmRegistry(lib *Library) *AlarmRegistry {
	return &AlarmRegistry{lib: lib}
}

func (r *AlarmRegistry) search(name string) (int, bool) {
	lower := strings.ToLower(name)
	i := sort.Search(len(r.entries), func(i int) bool {
		return strings.ToLower(r.entries[i].Name) >= lower
	})
	if i < len(r.entries) && strings.EqualFold(r.entries[i].Name, name) {
		return i, true
	}
	return i, false
}

// Register adds a for a new alarm condition, starting Cleared.
func (r *AlarmRegistry) Register(a *Alarm) error {
	if a.Name == "" || len(a.Name) > NameMax {
		return withMessage(BadParameter, "alarm name length invalid")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.search(a.Name); found {
		return withMessage(Exists, "alarm %q already registered", a.Name)
	}
	idx, _ := r.search(a.Name)
	r.entries = append(r.entries, nil)
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = a

	r.lib.Plugins.Perform(r.lib, OpAlarmRegister, NewDeadline(0), PipelineItem{Item: a})
	return nil
}

// Deregister removes name from the registry.
func (r *AlarmRegistry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, found := r.search(name)
	if !found {
		return withMessage(NotFound, "alarm %q not registered", name)
	}
	a := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	r.lib.Plugins.Perform(r.lib, OpAlarmDeregister, NewDeadline(0), PipelineItem{Item: a})
	return nil
}

// AlarmEvent is the payload fanned through the pipeline on every Publish,
// §3.8/§4.8: the alarm (carrying its registered Severity), the transition,
// and an optional human-readable message.
type AlarmEvent struct {
	Alarm   *Alarm
	State   AlarmState
	Message string
}

// Publish raises or clears name and fans the transition through the
// pipeline. loc is optional (zero-value Location to omit); message is an
// optional human-readable note carried alongside the transition.
func (r *AlarmRegistry) Publish(name string, state AlarmState, at time.Time, loc Value, message ...string) error {
	r.mu.Lock()
	idx, found := r.search(name)
	if !found {
		r.mu.Unlock()
		return withMessage(NotFound, "alarm %q not registered", name)
	}
	a := r.entries[idx]
	a.state = state
	a.lastEvent = at
	r.mu.Unlock()

	var msg string
	if len(message) > 0 {
		msg = message[0]
	}
	r.lib.Plugins.Perform(r.lib, OpAlarmPublish, NewDeadline(0), PipelineItem{
		Item:  &AlarmEvent{Alarm: a, State: state, Message: msg},
		Value: loc,
	})
	return nil
}

// State reports the current raised/cleared state and last transition time.
func (r *AlarmRegistry) State(name string) (AlarmState, time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, found := r.search(name)
	if !found {
		return AlarmCleared, time.Time{}, withMessage(NotFound, "alarm %q not registered", name)
	}
	return r.entries[idx].state, r.entries[idx].lastEvent, nil
}

// Names returns the sorted alarm names currently registered.
func (r *AlarmRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, a := range r.entries {
		names[i] = a.Name
	}
	return names
}
