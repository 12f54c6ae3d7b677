package iotcore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// ActionMax and ParameterMax are the registry capacity bounds of §3.5/§4.5.
const (
	ActionMax    = 128
	ParameterMax = 32
)

// forbiddenNameChars mirrors action_command_build's escaping rules from the
// original C source: these characters would let a parameter value break out
// of the "--name=value" shell token it is rendered into, so they are
// rejected outright rather than escaped.
const forbiddenNameChars = "= \t\\;&|"

// ActionFlag is the exclusivity/behavior bitset of §3.5.
type ActionFlag uint32

const (
	// FlagNoReturn marks an action whose completion carries no return value.
	FlagNoReturn ActionFlag = 1 << iota
	// FlagExclusiveApp serializes this action against every other action on
	// the same Library instance (a dispatcher write-lock, §4.6.1).
	FlagExclusiveApp
	// FlagExclusiveDevice implies FlagExclusiveApp (normalized onto the
	// action at registration): a device-exclusive action serializes
	// against every other action, the same as an app-exclusive one.
	FlagExclusiveDevice
	// FlagNoTimeLimit disables the per-action time_limit_ms countdown.
	FlagNoTimeLimit
	// FlagTruncateService lets a command action whose rendered argument list
	// would exceed commandLineMax run with the arguments that fit (the
	// overflowing parameter and every later one are left out) instead of
	// failing with OutOfRange.
	FlagTruncateService
)

// ParameterDirection is IN/OUT direction of a parameter, §3.5.
type ParameterDirection uint8

const (
	DirIn ParameterDirection = iota
	DirOut
	DirInRequired
	DirOutRequired
)

// IsInput reports whether values flow from caller to action for this
// direction (IN and IN_REQUIRED).
func (d ParameterDirection) IsInput() bool {
	return d == DirIn || d == DirInRequired
}

// IsRequired reports whether the parameter must be supplied/returned.
func (d ParameterDirection) IsRequired() bool {
	return d == DirInRequired || d == DirOutRequired
}

// Parameter describes one formal parameter of an Action, §3.5/§4.5.
type Parameter struct {
	Name         string
	Direction    ParameterDirection
	DeclaredType ValueType
	Default      Value
}

func validateParameterName(name string) error {
	if name == "" || len(name) > NameMax {
		return withMessage(BadParameter, "parameter name length invalid")
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return withMessage(BadParameter, "parameter name %q contains a forbidden character", name)
	}
	return nil
}

// ActionState is the lifecycle state machine of §3.5: an action moves
// unregistered -> pending -> registered, and registered -> pending ->
// deregistered on the way out. Neither transition waits for in-flight
// requests: Deregister removes the action at once.
type ActionState uint8

const (
	ActionUnregistered ActionState = iota
	ActionRegisterPending
	ActionRegistered
	ActionDeregisterPending
	ActionDeregistered
)

// ActionHandler is the application-supplied callback form of an action,
// §4.5. It receives the validated parameter options and must return the
// result options plus a Status.
type ActionHandler func(ctx context.Context, params *OptionsMap) (*OptionsMap, Status)

// Action is a single registered operation an external caller can invoke,
// §3.5. Exactly one of Handler or Command is set: a callback action runs
// in-process; a command action is marshalled to argv and exec'd (§4.6.3).
type Action struct {
	Name        string
	Flags       ActionFlag
	Parameters  []Parameter
	TimeLimitMs int64
	UserData    interface{}

	Handler ActionHandler
	Command []string // argv[0] plus any fixed leading arguments

	state ActionState
	mu    sync.Mutex
}

func (a *Action) hasFlag(f ActionFlag) bool { return a.Flags&f != 0 }

// validate checks the static shape of an action definition before it is
// accepted into a registry: name validity, exactly one of Handler/Command,
// parameter count, and parameter-name validity and uniqueness, per §4.5.
func (a *Action) validate() error {
	if a.Name == "" || len(a.Name) > NameMax {
		return withMessage(BadParameter, "action name length invalid")
	}
	if strings.ContainsAny(a.Name, forbiddenNameChars) {
		return withMessage(BadParameter, "action name %q contains a forbidden character", a.Name)
	}
	if (a.Handler == nil) == (len(a.Command) == 0) {
		return withMessage(BadParameter, "action %q must set exactly one of Handler or Command", a.Name)
	}
	if len(a.Parameters) > ParameterMax {
		return Full
	}
	seen := make(map[string]struct{}, len(a.Parameters))
	for _, p := range a.Parameters {
		if err := validateParameterName(p.Name); err != nil {
			return err
		}
		lower := strings.ToLower(p.Name)
		if _, dup := seen[lower]; dup {
			return withMessage(Exists, "duplicate parameter %q", p.Name)
		}
		seen[lower] = struct{}{}
	}
	if a.hasFlag(FlagExclusiveDevice) {
		a.Flags |= FlagExclusiveApp
	}
	return nil
}

// IsCommand reports whether this is a command-action (argv exec) rather
// than an in-process callback action.
func (a *Action) IsCommand() bool { return len(a.Command) > 0 }

// ActionRegistry is the alphabetically-ordered, capacity-bounded action
// table of §4.5, keyed case-insensitively like OptionsMap.
type ActionRegistry struct {
	mu      sync.RWMutex
	entries []*Action
}

func newActionRegistry() *ActionRegistry {
	return &ActionRegistry{}
}

func (r *ActionRegistry) search(name string) (int, bool) {
	lower := strings.ToLower(name)
	i := sort.Search(len(r.entries), func(i int) bool {
		return strings.ToLower(r.entries[i].Name) >= lower
	})
	if i < len(r.entries) && strings.EqualFold(r.entries[i].Name, name) {
		return i, true
	}
	return i, false
}

// Register validates and inserts a new action in sorted position, moving it
// through register_pending before becoming fully Registered, §3.5.
func (r *ActionRegistry) Register(a *Action) error {
	if err := a.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.search(a.Name); found {
		return withMessage(Exists, "action %q already registered", a.Name)
	}
	if len(r.entries) >= ActionMax {
		return Full
	}

	a.state = ActionRegisterPending
	idx, _ := r.search(a.Name)
	r.entries = append(r.entries, nil)
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = a
	a.state = ActionRegistered
	return nil
}

// Deregister transitions name through deregister_pending and removes it.
// Deregistering while requests are in flight against it is the caller's
// responsibility to serialize against the dispatcher (§4.6.1's exclusivity
// locking covers the window between lookup and execution).
func (r *ActionRegistry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, found := r.search(name)
	if !found {
		return withMessage(NotFound, "action %q not registered", name)
	}
	a := r.entries[idx]
	a.mu.Lock()
	a.state = ActionDeregisterPending
	a.mu.Unlock()

	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)

	a.mu.Lock()
	a.state = ActionDeregistered
	a.mu.Unlock()
	return nil
}

// Lookup returns the registered action named name, or NotFound.
func (r *ActionRegistry) Lookup(name string) (*Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, found := r.search(name)
	if !found {
		return nil, withMessage(NotFound, "action %q not registered", name)
	}
	return r.entries[idx], nil
}

// Names returns the alphabetically-ordered list of registered action names,
// letting a caller introspect the registry without going through the cloud.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, a := range r.entries {
		names[i] = a.Name
	}
	return names
}

// Len reports how many actions are currently registered.
func (r *ActionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
