// Package document models semi-structured compendium data as a tagged value
// tree so validation, diffing, and snapshot logic can walk any entry or
// character sheet uniformly.
package document

import (
	"fmt"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindNull is the zero value.
	KindNull Kind = iota
	// KindBool holds a boolean.
	KindBool
	// KindNumber holds a float64 (JSON number semantics).
	KindNumber
	// KindString holds a string.
	KindString
	// KindList holds an ordered sequence of values.
	KindList
	// KindMap holds string-keyed values.
	KindMap
)

// String returns the kind name used in validation issues.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a semi-structured document value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int returns a numeric value from an integer.
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value.
func List(items ...Value) Value {
	return Value{kind: KindList, l: items}
}

// Map returns a map value over the given entries. The map is not copied;
// callers hand over ownership.
func Map(entries map[string]Value) Value {
	if entries == nil {
		entries = map[string]Value{}
	}
	return Value{kind: KindMap, m: entries}
}

// Kind reports the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the boolean payload; false for other kinds.
func (v Value) BoolVal() bool {
	if v.kind != KindBool {
		return false
	}
	return v.b
}

// NumberVal returns the numeric payload; 0 for other kinds.
func (v Value) NumberVal() float64 {
	if v.kind != KindNumber {
		return 0
	}
	return v.n
}

// IntVal returns the numeric payload truncated to int64.
func (v Value) IntVal() int64 { return int64(v.NumberVal()) }

// StringVal returns the string payload; empty for other kinds.
func (v Value) StringVal() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// Len returns the element count for lists and maps; 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.l)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Index returns the i-th list element; null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.l) {
		return Value{}
	}
	return v.l[i]
}

// Items returns the list elements; nil for other kinds.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.l
}

// Field returns the named map entry and whether it is present.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	fv, ok := v.m[name]
	return fv, ok
}

// Keys returns the map keys in sorted order; nil for other kinds.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithField returns a map value with name set to fv. The receiver is not
// modified; non-map receivers are replaced by a fresh single-entry map.
func (v Value) WithField(name string, fv Value) Value {
	next := make(map[string]Value, v.Len()+1)
	if v.kind == KindMap {
		for k, existing := range v.m {
			next[k] = existing
		}
	}
	next[name] = fv
	return Map(next)
}

// WithoutField returns a map value with name removed.
func (v Value) WithoutField(name string) Value {
	if v.kind != KindMap {
		return v
	}
	next := make(map[string]Value, len(v.m))
	for k, existing := range v.m {
		if k != name {
			next[k] = existing
		}
	}
	return Map(next)
}

// GetPath walks nested map fields and returns the value at the path.
func (v Value) GetPath(path ...string) (Value, bool) {
	current := v
	for _, seg := range path {
		next, ok := current.Field(seg)
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

// SetPath returns a copy of v with the value at the nested path replaced.
// Intermediate maps are created as needed.
func (v Value) SetPath(path []string, val Value) Value {
	if len(path) == 0 {
		return val
	}
	child, _ := v.Field(path[0])
	return v.WithField(path[0], child.SetPath(path[1:], val))
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.l))
		for i, item := range v.l {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, l: items}
	case KindMap:
		entries := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			entries[k] = item.Clone()
		}
		return Value{kind: KindMap, m: entries}
	default:
		return v
	}
}

// Equal reports deep structural equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.l) != len(b.l) {
			return false
		}
		for i := range a.l {
			if !Equal(a.l[i], b.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromGo converts decoded JSON/YAML values (any, as produced by the goccy
// and yaml decoders) into a Value.
func FromGo(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return Number(n), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		entries := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, err
			}
			entries[k] = v
		}
		return Map(entries), nil
	default:
		return Value{}, fmt.Errorf("unsupported document value type %T", raw)
	}
}

// ToGo converts the value back into plain Go types (map[string]any etc).
func (v Value) ToGo() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		items := make([]any, len(v.l))
		for i, item := range v.l {
			items[i] = item.ToGo()
		}
		return items
	case KindMap:
		entries := make(map[string]any, len(v.m))
		for k, item := range v.m {
			entries[k] = item.ToGo()
		}
		return entries
	default:
		return nil
	}
}

// FromJSON parses a JSON document into a Value.
func FromJSON(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("decode document: %w", err)
	}
	return FromGo(raw)
}

// MarshalJSON encodes the value canonically: map keys are emitted in sorted
// order so equal values always produce byte-identical JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil)
}

// UnmarshalJSON decodes a JSON document in place.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) appendJSON(buf []byte) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(buf, "null"...), nil
	case KindBool:
		return strconv.AppendBool(buf, v.b), nil
	case KindNumber:
		if v.n == float64(int64(v.n)) {
			return strconv.AppendInt(buf, int64(v.n), 10), nil
		}
		return strconv.AppendFloat(buf, v.n, 'g', -1, 64), nil
	case KindString:
		encoded, err := json.Marshal(v.s)
		if err != nil {
			return nil, err
		}
		return append(buf, encoded...), nil
	case KindList:
		buf = append(buf, '[')
		for i, item := range v.l {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = item.appendJSON(buf)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case KindMap:
		buf = append(buf, '{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf = append(buf, ',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, key...)
			buf = append(buf, ':')
			buf, err = v.m[k].appendJSON(buf)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("unsupported document kind %d", v.kind)
	}
}
