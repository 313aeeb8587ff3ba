package trace

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ValueKind discriminates the closed set of Params payload shapes.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueArray
	ValueObject
)

// Value is a closed tagged-union JSON-like value used for Params payloads.
// It carries no application typing; the recorder stores it verbatim and the
// comparator only ever hashes its canonical encoding.
type Value struct {
	kind ValueKind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: ValueNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Number wraps a finite float64. Non-finite values have no JSON encoding and
// panic; callers converting foreign data should use FromGo, which reports the
// error instead.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic("trace: non-finite number in Value")
	}
	return Value{kind: ValueNumber, num: f}
}

// String wraps a string.
func String(s string) Value { return Value{kind: ValueString, str: s} }

// Array wraps an ordered sequence.
func Array(items ...Value) Value { return Value{kind: ValueArray, arr: items} }

// Object wraps a key-value mapping. Key order is irrelevant; the canonical
// encoding sorts keys.
func Object(m map[string]Value) Value { return Value{kind: ValueObject, obj: m} }

// Kind returns the union discriminant.
func (v Value) Kind() ValueKind { return v.kind }

// FromGo converts plain Go data (the shapes produced by encoding/json:
// nil, bool, float64, string, []any, map[string]any, plus the common
// integer and float widths) into a Value.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, fmt.Errorf("non-finite number %v has no JSON encoding", t)
		}
		return Number(t), nil
	case float32:
		return FromGo(float64(t))
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		arr := make([]Value, len(t))
		for i, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Value{kind: ValueArray, arr: arr}, nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported params value type %T", x)
	}
}

// ParseValue decodes a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("parse params: %w", err)
	}
	return FromGo(raw)
}

// Canonical returns the canonical byte encoding used for content hashing:
// object keys recursively sorted, compact separators, integers emitted
// without a decimal point. Structurally identical values always produce
// identical bytes regardless of construction order.
func (v Value) Canonical() []byte {
	return v.appendCanonical(nil)
}

func (v Value) appendCanonical(dst []byte) []byte {
	switch v.kind {
	case ValueNull:
		return append(dst, "null"...)
	case ValueBool:
		if v.b {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case ValueNumber:
		return appendCanonicalNumber(dst, v.num)
	case ValueString:
		b, _ := json.Marshal(v.str)
		return append(dst, b...)
	case ValueArray:
		dst = append(dst, '[')
		for i, item := range v.arr {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = item.appendCanonical(dst)
		}
		return append(dst, ']')
	case ValueObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, k := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			kb, _ := json.Marshal(k)
			dst = append(dst, kb...)
			dst = append(dst, ':')
			dst = v.obj[k].appendCanonical(dst)
		}
		return append(dst, '}')
	}
	return dst
}

// appendCanonicalNumber writes integral values without a decimal point and
// everything else in Go's shortest round-trip form.
func appendCanonicalNumber(dst []byte, f float64) []byte {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(dst, int64(f), 10)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64)
}

// MarshalJSON emits the canonical encoding, so params.json and the hashed
// bytes can never drift apart.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Canonical(), nil
}

// UnmarshalJSON decodes any JSON value.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
