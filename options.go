package iotcore

import (
	"sort"
	"strings"
)

// NameMax and OptionMax are the build-time capacity constants named in
// §3.3/§3.4. They are Go constants rather than compile-time switches (the
// dual stack/heap allocation strategy in the source collapses, per Design
// Note 9, to "heap allocation with these capacities enforced as hard
// limits").
const (
	NameMax   = 64
	OptionMax = 256
)

// Option is a single {name, value} pair, §3.3.
type Option struct {
	Name  string
	Value Value
}

// OptionsMap is the ordered, capacity-bounded name→value map of §3.4.
// Entries are kept sorted by case-insensitive name so Get can binary-search.
type OptionsMap struct {
	entries []Option
}

// NewOptionsMap allocates an empty options map (§4.2's Map allocate).
func NewOptionsMap() *OptionsMap {
	return &OptionsMap{}
}

// Len reports how many options are currently stored.
func (m *OptionsMap) Len() int { return len(m.entries) }

func (m *OptionsMap) search(name string) (int, bool) {
	lower := strings.ToLower(name)
	i := sort.Search(len(m.entries), func(i int) bool {
		return strings.ToLower(m.entries[i].Name) >= lower
	})
	if i < len(m.entries) && strings.EqualFold(m.entries[i].Name, name) {
		return i, true
	}
	return i, false
}

// Set implements the §4.2 algorithm: clearing (NULL-typed incoming value)
// removes the entry and shifts the tail down; otherwise an existing slot is
// overwritten in place, or a new slot is inserted at the sorted position,
// bounded by OptionMax.
func (m *OptionsMap) Set(name string, v Value) error {
	if name == "" || len(name) > NameMax {
		return withMessage(BadParameter, "option name length invalid")
	}
	idx, found := m.search(name)

	if found && v.Type() == TypeNull && !v.HasValue() {
		m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
		return nil
	}
	if found {
		m.entries[idx].Value = v
		return nil
	}
	if v.Type() == TypeNull && !v.HasValue() {
		// Clearing a key that doesn't exist is a no-op success.
		return nil
	}
	if len(m.entries) >= OptionMax {
		return Full
	}
	m.entries = append(m.entries, Option{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = Option{Name: name, Value: v}
	return nil
}

// Clear removes name, equivalent to Set(name, NULL) per §4.2.
func (m *OptionsMap) Clear(name string) error {
	null, _ := Set(TypeNull, false, nil)
	return m.Set(name, null)
}

// Get looks up name, optionally converting the stored value to requested.
func (m *OptionsMap) Get(name string, allowConvert bool, requested ValueType) (Value, error) {
	idx, found := m.search(name)
	if !found {
		return Value{}, withMessage(NotFound, "option %q not set", name)
	}
	return m.entries[idx].Value.Get(allowConvert, requested)
}

// GetRaw returns the stored value without any type coercion.
func (m *OptionsMap) GetRaw(name string) (Value, error) {
	idx, found := m.search(name)
	if !found {
		return Value{}, withMessage(NotFound, "option %q not set", name)
	}
	return m.entries[idx].Value, nil
}

// SetRaw stores v under name without conversion, identical to Set (kept as
// a distinct name to mirror the source's set_raw/get_raw pairing in §4.2).
func (m *OptionsMap) SetRaw(name string, v Value) error { return m.Set(name, v) }

// Typed convenience wrappers, one per scalar type named in §3.1.

func (m *OptionsMap) SetString(name, s string) error {
	v, _ := Set(TypeString, true, s)
	return m.Set(name, v)
}

func (m *OptionsMap) GetString(name string) (string, error) {
	v, err := m.Get(name, true, TypeString)
	if err != nil {
		return "", err
	}
	return v.String()
}

func (m *OptionsMap) SetBool(name string, b bool) error {
	v, _ := Set(TypeBool, false, b)
	return m.Set(name, v)
}

func (m *OptionsMap) GetBool(name string) (bool, error) {
	v, err := m.Get(name, true, TypeBool)
	if err != nil {
		return false, err
	}
	return v.Bool()
}

func (m *OptionsMap) SetInt32(name string, i int32) error {
	v, _ := Set(TypeInt32, false, i)
	return m.Set(name, v)
}

func (m *OptionsMap) GetInt32(name string) (int32, error) {
	v, err := m.Get(name, true, TypeInt32)
	if err != nil {
		return 0, err
	}
	return v.Int32()
}

func (m *OptionsMap) SetInt64(name string, i int64) error {
	v, _ := Set(TypeInt64, false, i)
	return m.Set(name, v)
}

func (m *OptionsMap) GetInt64(name string) (int64, error) {
	v, err := m.Get(name, true, TypeInt64)
	if err != nil {
		return 0, err
	}
	return v.Int64()
}

func (m *OptionsMap) SetFloat64(name string, f float64) error {
	v, _ := Set(TypeFloat64, false, f)
	return m.Set(name, v)
}

func (m *OptionsMap) GetFloat64(name string) (float64, error) {
	v, err := m.Get(name, true, TypeFloat64)
	if err != nil {
		return 0, err
	}
	return v.Float64()
}

func (m *OptionsMap) SetRawBytes(name string, b []byte) error {
	v, _ := Set(TypeRaw, true, b)
	return m.Set(name, v)
}

func (m *OptionsMap) GetRawBytes(name string) ([]byte, error) {
	v, err := m.Get(name, true, TypeRaw)
	if err != nil {
		return nil, err
	}
	return v.Raw()
}

// Names returns the sorted option names currently set, for diagnostics and
// tests asserting the sort-order invariant.
func (m *OptionsMap) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}

// clone deep-copies the map, used when an entity (action/telemetry) needs
// an independent options map snapshot.
func (m *OptionsMap) clone() *OptionsMap {
	out := &OptionsMap{entries: make([]Option, len(m.entries))}
	for i, e := range m.entries {
		v, _ := e.Value.Copy(true)
		out.entries[i] = Option{Name: e.Name, Value: v}
	}
	return out
}
