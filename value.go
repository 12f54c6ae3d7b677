package iotcore

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the discriminant of a Value: null, bool, the float and
// integer widths, raw bytes, string and Location.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeBool
	TypeFloat32
	TypeFloat64
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeRaw
	TypeString
	TypeLocation
)

func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeFloat32:
		return "f32"
	case TypeFloat64:
		return "f64"
	case TypeInt8:
		return "i8"
	case TypeInt16:
		return "i16"
	case TypeInt32:
		return "i32"
	case TypeInt64:
		return "i64"
	case TypeUint8:
		return "u8"
	case TypeUint16:
		return "u16"
	case TypeUint32:
		return "u32"
	case TypeUint64:
		return "u64"
	case TypeRaw:
		return "raw"
	case TypeString:
		return "string"
	case TypeLocation:
		return "location"
	default:
		return "unknown"
	}
}

// ConvertLevel distinguishes the two conversion tiers of §3.2.
type ConvertLevel uint8

const (
	ConvertBasic ConvertLevel = iota
	ConvertAdvanced
)

// Value is the tagged union described in §3.1. hasValue is tracked
// separately from typ so "typed but unset" is distinguishable from "set to
// the zero value" per the invariant in §3.1. raw/str/loc carry owned copies
// when the Value was constructed with owns=true; otherwise they borrow the
// caller's backing storage (owned is false and no copy is made or freed —
// Go's GC makes the explicit "owning pointer" bookkeeping of the C source
// unnecessary, but the owns/borrow distinction is preserved because it
// governs deep-copy semantics in Copy()).
type Value struct {
	typ      ValueType
	hasValue bool
	owned    bool

	b   bool
	f32 float32
	f64 float64
	i8  int8
	i16 int16
	i32 int32
	i64 int64
	u8  uint8
	u16 uint16
	u32 uint32
	u64 uint64
	raw []byte
	str string
	loc Location
}

// NewNull returns an unset Value. has_value is false, matching §3.1.
func NewNull() Value { return Value{typ: TypeNull} }

// Set stores payload into dest per §4.1's value_set. When owns is true and
// the type is Raw, String or Location, the payload is deep-copied; otherwise
// it is borrowed as-is.
func Set(typ ValueType, owns bool, payload interface{}) (Value, error) {
	v := Value{typ: typ, hasValue: true, owned: owns}
	switch typ {
	case TypeNull:
		v.hasValue = false
	case TypeBool:
		v.b, _ = payload.(bool)
	case TypeFloat32:
		v.f32, _ = payload.(float32)
	case TypeFloat64:
		v.f64, _ = payload.(float64)
	case TypeInt8:
		v.i8, _ = payload.(int8)
	case TypeInt16:
		v.i16, _ = payload.(int16)
	case TypeInt32:
		v.i32, _ = payload.(int32)
	case TypeInt64:
		v.i64, _ = payload.(int64)
	case TypeUint8:
		v.u8, _ = payload.(uint8)
	case TypeUint16:
		v.u16, _ = payload.(uint16)
	case TypeUint32:
		v.u32, _ = payload.(uint32)
	case TypeUint64:
		v.u64, _ = payload.(uint64)
	case TypeRaw:
		b, _ := payload.([]byte)
		if owns {
			v.raw = append([]byte(nil), b...)
		} else {
			v.raw = b
		}
	case TypeString:
		s, _ := payload.(string)
		v.str = s
	case TypeLocation:
		loc, _ := payload.(Location)
		if owns {
			v.loc = loc.clone()
		} else {
			v.loc = loc
		}
	default:
		return Value{}, withMessage(BadParameter, "unknown value type %v", typ)
	}
	return v, nil
}

// Type returns the stored discriminant.
func (v Value) Type() ValueType { return v.typ }

// HasValue reports whether the value is "set" (vs. merely typed-but-absent).
func (v Value) HasValue() bool { return v.hasValue }

// Copy implements §4.1's value_copy: a shallow copy, then (if deep) a
// duplication of any owned heap-backed region. On an allocation failure the
// C source marks the destination has_value=false and returns NO_MEMORY; Go
// allocation failures are unrecoverable panics, so the only realistic
// failure mode here is exhausting a caller-imposed size bound, which we
// don't impose — Copy therefore always succeeds, but the signature keeps
// the error return so call sites mirror value_copy's C contract.
func (v Value) Copy(deep bool) (Value, error) {
	out := v
	if deep && v.owned {
		if v.typ == TypeRaw {
			out.raw = append([]byte(nil), v.raw...)
		}
		if v.typ == TypeLocation {
			out.loc = v.loc.clone()
		}
	}
	return out, nil
}

// Get implements §4.1's value_get. If requested equals the stored type, a
// borrowed view is returned; otherwise, when allowConvert is set, Get
// attempts a conversion at the advanced level (which includes every basic
// conversion) and returns the converted value without mutating v.
func (v Value) Get(allowConvert bool, requested ValueType) (Value, error) {
	if requested == v.typ {
		return v, nil
	}
	if !allowConvert {
		return Value{}, withMessage(BadRequest, "value is %v, requested %v without conversion", v.typ, requested)
	}
	out := v
	if ok := out.convert(ConvertAdvanced, requested); !ok {
		return Value{}, withMessage(BadRequest, "cannot convert %v to %v", v.typ, requested)
	}
	return out, nil
}

// Convert mutates obj in place to the requested type at the given
// conversion level, per §4.1's value_convert. It reports whether the
// conversion succeeded; on failure obj is left unchanged.
func (v *Value) Convert(level ConvertLevel, to ValueType) bool {
	return v.convert(level, to)
}

// ConvertCheck is the non-mutating predicate counterpart to Convert.
func (v Value) ConvertCheck(level ConvertLevel, to ValueType) bool {
	cp := v
	return cp.convert(level, to)
}

func (v *Value) convert(level ConvertLevel, to ValueType) bool {
	if !v.hasValue {
		// §3.1: has_value=false always converts successfully to NULL-of-type.
		*v = Value{typ: to, hasValue: false}
		return true
	}
	if v.typ == to {
		return true
	}
	if v.typ == TypeLocation || to == TypeLocation {
		// §3.2: Location converts only to itself.
		return false
	}

	switch to {
	case TypeNull:
		if level < ConvertAdvanced {
			return false
		}
		*v = Value{typ: TypeNull, hasValue: false}
		return true
	case TypeBool:
		return v.convertToBool(level)
	case TypeString:
		return v.convertToString(level)
	case TypeRaw:
		return v.convertRawFromString(level)
	default:
		if isNumericType(to) {
			return v.convertToNumeric(level, to)
		}
	}
	return false
}

func isNumericType(t ValueType) bool {
	switch t {
	case TypeFloat32, TypeFloat64, TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		return true
	}
	return false
}

// asFloat64 renders the current numeric/bool value as a float64 for range
// testing during narrowing conversions.
func (v Value) asFloat64() (float64, bool) {
	switch v.typ {
	case TypeBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case TypeFloat32:
		return float64(v.f32), true
	case TypeFloat64:
		return v.f64, true
	case TypeInt8:
		return float64(v.i8), true
	case TypeInt16:
		return float64(v.i16), true
	case TypeInt32:
		return float64(v.i32), true
	case TypeInt64:
		return float64(v.i64), true
	case TypeUint8:
		return float64(v.u8), true
	case TypeUint16:
		return float64(v.u16), true
	case TypeUint32:
		return float64(v.u32), true
	case TypeUint64:
		return float64(v.u64), true
	}
	return 0, false
}

func numericRange(t ValueType) (min, max float64) {
	switch t {
	case TypeFloat32:
		return -math.MaxFloat32, math.MaxFloat32
	case TypeFloat64:
		return -math.MaxFloat64, math.MaxFloat64
	case TypeInt8:
		return math.MinInt8, math.MaxInt8
	case TypeInt16:
		return math.MinInt16, math.MaxInt16
	case TypeInt32:
		return math.MinInt32, math.MaxInt32
	case TypeInt64:
		return math.MinInt64, math.MaxInt64
	case TypeUint8:
		return 0, math.MaxUint8
	case TypeUint16:
		return 0, math.MaxUint16
	case TypeUint32:
		return 0, math.MaxUint32
	case TypeUint64:
		return 0, math.MaxUint64
	}
	return 0, 0
}

func (v *Value) convertToNumeric(level ConvertLevel, to ValueType) bool {
	var f float64
	var ok bool

	switch v.typ {
	case TypeString:
		if level < ConvertAdvanced {
			return false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return false
		}
		f, ok = parsed, true
	default:
		f, ok = v.asFloat64()
	}
	if !ok {
		return false
	}

	// Float -> int narrowing requires no fractional part. A residual below
	// FLT_MIN at f32 precision is allowed, which in practice means "no
	// visible fraction" for any value that originated as an integer;
	// anything larger is treated as a genuine fraction and rejected.
	if !isFloatType(to) && isFloatType(v.typ) {
		if float32(math.Abs(f-math.Trunc(f))) >= fltMin {
			return false
		}
		f = math.Trunc(f)
	}

	min, max := numericRange(to)
	if f < min || f > max {
		return false
	}

	setNumeric(v, to, f)
	return true
}

// fltMin is C's FLT_MIN, the smallest normal float32.
const fltMin = 0x1p-126

func isFloatType(t ValueType) bool { return t == TypeFloat32 || t == TypeFloat64 }

func setNumeric(v *Value, to ValueType, f float64) {
	v.typ = to
	v.hasValue = true
	switch to {
	case TypeFloat32:
		v.f32 = float32(f)
	case TypeFloat64:
		v.f64 = f
	case TypeInt8:
		v.i8 = int8(f)
	case TypeInt16:
		v.i16 = int16(f)
	case TypeInt32:
		v.i32 = int32(f)
	case TypeInt64:
		v.i64 = int64(f)
	case TypeUint8:
		v.u8 = uint8(f)
	case TypeUint16:
		v.u16 = uint16(f)
	case TypeUint32:
		v.u32 = uint32(f)
	case TypeUint64:
		v.u64 = uint64(f)
	}
}

func (v *Value) convertToBool(level ConvertLevel) bool {
	switch v.typ {
	case TypeBool:
		return true
	case TypeString:
		if level < ConvertAdvanced {
			return false
		}
		s := strings.ToLower(strings.TrimSpace(v.str))
		b := true
		switch {
		case s == "false", s == "no", s == "0", s == "":
			b = false
		case len(s) > 0 && s[0] == 0:
			b = false
		}
		v.typ = TypeBool
		v.hasValue = true
		v.b = b
		return true
	default:
		if f, ok := v.asFloat64(); ok {
			v.typ = TypeBool
			v.hasValue = true
			v.b = f != 0
			return true
		}
	}
	return false
}

func (v *Value) convertToString(level ConvertLevel) bool {
	if level < ConvertAdvanced {
		return false
	}
	var s string
	switch v.typ {
	case TypeBool:
		if v.b {
			s = "true"
		} else {
			s = "false"
		}
	case TypeFloat32:
		s = strconv.FormatFloat(float64(v.f32), 'g', -1, 32)
	case TypeFloat64:
		s = strconv.FormatFloat(v.f64, 'g', -1, 64)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		i, _ := v.asFloat64()
		s = strconv.FormatInt(int64(i), 10)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		i, _ := v.asFloat64()
		s = strconv.FormatUint(uint64(i), 10)
	case TypeRaw:
		s = base64.StdEncoding.EncodeToString(v.raw)
	default:
		return false
	}
	v.typ = TypeString
	v.hasValue = true
	v.str = s
	v.raw = nil
	return true
}

// Raw↔string advanced conversion is handled above for raw->string; the
// reverse (string->raw, via base64 decode) is added here since it shares no
// code path with the numeric/bool/string switch.
func (v *Value) convertRawFromString(level ConvertLevel) bool {
	if level < ConvertAdvanced || v.typ != TypeString {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(v.str)
	if err != nil {
		return false
	}
	v.typ = TypeRaw
	v.hasValue = true
	v.raw = decoded
	v.str = ""
	return true
}

// Accessors. Each panics-free getter returns BadRequest if the stored type
// isn't what's asked for (callers needing conversion should use Get).

func (v Value) Bool() (bool, error) {
	if v.typ != TypeBool {
		return false, withMessage(BadRequest, "value is %v, not bool", v.typ)
	}
	return v.b, nil
}

func (v Value) Float64() (float64, error) {
	if v.typ != TypeFloat64 {
		return 0, withMessage(BadRequest, "value is %v, not f64", v.typ)
	}
	return v.f64, nil
}

func (v Value) Int32() (int32, error) {
	if v.typ != TypeInt32 {
		return 0, withMessage(BadRequest, "value is %v, not i32", v.typ)
	}
	return v.i32, nil
}

func (v Value) Int64() (int64, error) {
	if v.typ != TypeInt64 {
		return 0, withMessage(BadRequest, "value is %v, not i64", v.typ)
	}
	return v.i64, nil
}

func (v Value) Uint64() (uint64, error) {
	if v.typ != TypeUint64 {
		return 0, withMessage(BadRequest, "value is %v, not u64", v.typ)
	}
	return v.u64, nil
}

func (v Value) String() (string, error) {
	if v.typ != TypeString {
		return "", withMessage(BadRequest, "value is %v, not string", v.typ)
	}
	return v.str, nil
}

func (v Value) Raw() ([]byte, error) {
	if v.typ != TypeRaw {
		return nil, withMessage(BadRequest, "value is %v, not raw", v.typ)
	}
	return v.raw, nil
}

func (v Value) LocationValue() (Location, error) {
	if v.typ != TypeLocation {
		return Location{}, withMessage(BadRequest, "value is %v, not location", v.typ)
	}
	return v.loc, nil
}

// renderCommandArg renders v the way §4.6.3 requires when marshalling a
// command-action parameter onto a shell command line.
func (v Value) renderCommandArg() string {
	switch v.typ {
	case TypeBool:
		if v.b {
			return "1"
		}
		return "0"
	case TypeFloat32:
		return strconv.FormatFloat(float64(v.f32), 'f', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(v.f64, 'f', -1, 64)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		f, _ := v.asFloat64()
		return strconv.FormatInt(int64(f), 10)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		f, _ := v.asFloat64()
		return strconv.FormatUint(uint64(f), 10)
	case TypeLocation:
		return fmt.Sprintf("[%g,%g]", v.loc.Longitude, v.loc.Latitude)
	case TypeRaw:
		return base64.StdEncoding.EncodeToString(v.raw)
	case TypeString:
		escaped := strings.ReplaceAll(v.str, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	default:
		return ""
	}
}
