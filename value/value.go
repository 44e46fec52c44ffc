// Package value defines the data model templates are evaluated against: a
// JSON-like tagged variant with ordered objects. Integers and floats are
// both representable; comparisons promote to a common numeric domain.
// Integers are int64 and overflow wraps; floats are float64.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Value is an immutable template value. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    int64
	f    float64
	s    string
	arr  []Value
	obj  *Object
}

// Object is a string-keyed mapping that preserves insertion order.
type Object struct {
	keys    []string
	entries map[string]Value
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{entries: make(map[string]Value)}
}

// Set inserts or replaces a key. Replacing keeps the original position.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.entries[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.entries[key] = v
}

// Get returns the value for key.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.entries[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	return o.keys
}

// Len returns the number of entries.
func (o *Object) Len() int {
	return len(o.keys)
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an int64.
func Int(n int64) Value { return Value{kind: KindInt, n: n} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a slice of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// ObjectValue wraps an ordered object.
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }

// FromAny converts native Go data (the shapes produced by encoding/json and
// yaml.v3 decoding into any) to a Value. Map keys are sorted so the result
// is deterministic regardless of Go map iteration order.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(int64(x)), nil
	case uint64:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, 0, len(x))
		for _, it := range x {
			cv, err := FromAny(it)
			if err != nil {
				return Null(), err
			}
			items = append(items, cv)
		}
		return Array(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			cv, err := FromAny(x[k])
			if err != nil {
				return Null(), err
			}
			obj.Set(k, cv)
		}
		return ObjectValue(obj), nil
	case Value:
		return x, nil
	default:
		return Null(), fmt.Errorf("cannot convert %T to a template value", v)
	}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber reports whether the value is an int or a float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// AsBool returns the underlying bool.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the value as an int64, truncating floats.
func (v Value) AsInt() int64 {
	if v.kind == KindFloat {
		return int64(v.f)
	}
	return v.n
}

// AsFloat returns the value as a float64.
func (v Value) AsFloat() float64 {
	if v.kind == KindInt {
		return float64(v.n)
	}
	return v.f
}

// AsString returns the underlying string.
func (v Value) AsString() string { return v.s }

// AsArray returns the underlying slice.
func (v Value) AsArray() []Value { return v.arr }

// AsObject returns the underlying object.
func (v Value) AsObject() *Object { return v.obj }

// Truthy reports whether the value counts as true in a condition: null is
// false, numbers are true unless zero, strings and collections are true
// unless empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.n != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return v.obj.Len() > 0
	}
	return false
}

// Equal reports structural equality. Int and float compare numerically.
func (v Value) Equal(other Value) bool {
	if v.IsNumber() && other.IsNumber() {
		if v.kind == KindInt && other.kind == KindInt {
			return v.n == other.n
		}
		return v.AsFloat() == other.AsFloat()
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if v.obj.Len() != other.obj.Len() {
			return false
		}
		for _, k := range v.obj.keys {
			ov, ok := other.obj.Get(k)
			if !ok || !v.obj.entries[k].Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values: numbers numerically, strings
// lexicographically. Other kind pairings are a type mismatch.
func (v Value) Compare(other Value) (int, error) {
	if v.IsNumber() && other.IsNumber() {
		if v.kind == KindInt && other.kind == KindInt {
			switch {
			case v.n < other.n:
				return -1, nil
			case v.n > other.n:
				return 1, nil
			}
			return 0, nil
		}
		a, b := v.AsFloat(), other.AsFloat()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		}
		return 0, nil
	}
	if v.kind == KindString && other.kind == KindString {
		return strings.Compare(v.s, other.s), nil
	}
	return 0, fmt.Errorf("cannot compare %s with %s", v.kind, other.kind)
}

// Str converts a value to output text: null becomes the empty string, bools
// are true/false, numbers use their minimal decimal representation, strings
// pass through, arrays and objects use their JSON form.
func (v Value) Str() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		var sb strings.Builder
		v.writeJSON(&sb, "", "")
		return sb.String()
	}
}

// JSON returns the JSON encoding of the value. Object keys keep their
// insertion order. When indent is non-empty the output is pretty-printed.
func (v Value) JSON(indent string) string {
	var sb strings.Builder
	v.writeJSON(&sb, "", indent)
	return sb.String()
}

func (v Value) writeJSON(sb *strings.Builder, prefix, indent string) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool, KindInt, KindFloat:
		sb.WriteString(v.Str())
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindArray:
		if len(v.arr) == 0 {
			sb.WriteString("[]")
			return
		}
		inner := prefix + indent
		sb.WriteByte('[')
		for i, it := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			if indent != "" {
				sb.WriteByte('\n')
				sb.WriteString(inner)
			}
			it.writeJSON(sb, inner, indent)
		}
		if indent != "" {
			sb.WriteByte('\n')
			sb.WriteString(prefix)
		}
		sb.WriteByte(']')
	case KindObject:
		if v.obj.Len() == 0 {
			sb.WriteString("{}")
			return
		}
		inner := prefix + indent
		sb.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			if indent != "" {
				sb.WriteByte('\n')
				sb.WriteString(inner)
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			if indent != "" {
				sb.WriteByte(' ')
			}
			v.obj.entries[k].writeJSON(sb, inner, indent)
		}
		if indent != "" {
			sb.WriteByte('\n')
			sb.WriteString(prefix)
		}
		sb.WriteByte('}')
	}
}
