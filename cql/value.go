package cql

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Value is a decoded CQL value. A nil *Value is null (unset). Which fields are
// populated depends on the type the value was bound to:
//   - int, bigint, timestamp: Int
//   - double: Float
//   - boolean: Bool
//   - text: Text
//   - blob, uuid: Bytes
//   - list, set: Elems (sets sorted, deduplicated)
//   - map: Keys and Elems pairwise, sorted by key
//   - udt: Fields in declaration order, nil entries are null fields
type Value struct {
	Int    int64    `msgpack:"i,omitempty"`
	Float  float64  `msgpack:"f,omitempty"`
	Bool   bool     `msgpack:"b,omitempty"`
	Text   string   `msgpack:"s,omitempty"`
	Bytes  []byte   `msgpack:"x,omitempty"`
	Keys   []*Value `msgpack:"k,omitempty"`
	Elems  []*Value `msgpack:"e,omitempty"`
	Fields []*Value `msgpack:"u,omitempty"`
}

func IntValue(i int64) *Value      { return &Value{Int: i} }
func DoubleValue(f float64) *Value { return &Value{Float: f} }
func BoolValue(b bool) *Value      { return &Value{Bool: b} }
func TextValue(s string) *Value    { return &Value{Text: s} }
func BlobValue(b []byte) *Value    { return &Value{Bytes: b} }

func UUIDValue(u uuid.UUID) *Value {
	b := make([]byte, len(u))
	copy(b, u[:])
	return &Value{Bytes: b}
}

// ListValue builds a list; element order is kept
func ListValue(elems ...*Value) *Value {
	return &Value{Elems: elems}
}

// SetValue builds a set, sorting and removing duplicates
func SetValue(elems ...*Value) *Value {
	sorted := append([]*Value(nil), elems...)
	sort.SliceStable(sorted, func(i, j int) bool { return Compare(sorted[i], sorted[j]) < 0 })
	out := sorted[:0]
	for _, e := range sorted {
		if len(out) > 0 && Compare(out[len(out)-1], e) == 0 {
			continue
		}
		out = append(out, e)
	}
	return &Value{Elems: out}
}

// MapValue builds a map from parallel key/value slices, sorted by key. On
// duplicate keys the last value wins.
func MapValue(keys, values []*Value) *Value {
	type entry struct{ k, v *Value }
	entries := make([]entry, 0, len(keys))
	for i := range keys {
		entries = append(entries, entry{keys[i], values[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool { return Compare(entries[i].k, entries[j].k) < 0 })
	m := &Value{}
	for _, e := range entries {
		if n := len(m.Keys); n > 0 && Compare(m.Keys[n-1], e.k) == 0 {
			m.Elems[n-1] = e.v
			continue
		}
		m.Keys = append(m.Keys, e.k)
		m.Elems = append(m.Elems, e.v)
	}
	return m
}

// UDTValue builds a UDT value with fields in declaration order
func UDTValue(fields ...*Value) *Value {
	return &Value{Fields: fields}
}

// MapGet looks up key in a map value
func (v *Value) MapGet(key *Value) *Value {
	if v == nil {
		return nil
	}
	i := sort.Search(len(v.Keys), func(i int) bool { return Compare(v.Keys[i], key) >= 0 })
	if i < len(v.Keys) && Compare(v.Keys[i], key) == 0 {
		return v.Elems[i]
	}
	return nil
}

// Index returns the i-th list element or nil when out of range
func (v *Value) Index(i int) *Value {
	if v == nil || i < 0 || i >= len(v.Elems) {
		return nil
	}
	return v.Elems[i]
}

// Field returns the i-th UDT field or nil when absent
func (v *Value) Field(i int) *Value {
	if v == nil || i < 0 || i >= len(v.Fields) {
		return nil
	}
	return v.Fields[i]
}

// Compare orders two values of the same type. Null sorts before any present
// value; collections compare component-wise then by length; UDTs compare field by
// field with missing trailing fields treated as null.
func Compare(a, b *Value) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if c := compareInt(a.Int, b.Int); c != 0 {
		return c
	}
	if c := compareFloat(a.Float, b.Float); c != 0 {
		return c
	}
	if a.Bool != b.Bool {
		if !a.Bool {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.Text, b.Text); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Bytes, b.Bytes); c != 0 {
		return c
	}
	if len(a.Keys) > 0 || len(b.Keys) > 0 {
		return compareEntries(a, b)
	}
	if c := compareSeq(a.Elems, b.Elems); c != 0 {
		return c
	}
	return compareFields(a.Fields, b.Fields)
}

// Equal reports whether two values compare equal; two nulls are equal
func Equal(a, b *Value) bool {
	return Compare(a, b) == 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case math.IsNaN(a) && !math.IsNaN(b):
		return -1
	case !math.IsNaN(a) && math.IsNaN(b):
		return 1
	}
	return 0
}

func compareSeq(a, b []*Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInt(int64(len(a)), int64(len(b)))
}

func compareEntries(a, b *Value) int {
	for i := 0; i < len(a.Keys) && i < len(b.Keys); i++ {
		if c := Compare(a.Keys[i], b.Keys[i]); c != 0 {
			return c
		}
		if c := Compare(a.Elems[i], b.Elems[i]); c != 0 {
			return c
		}
	}
	return compareInt(int64(len(a.Keys)), int64(len(b.Keys)))
}

func compareFields(a, b []*Value) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var fa, fb *Value
		if i < len(a) {
			fa = a[i]
		}
		if i < len(b) {
			fb = b[i]
		}
		if c := Compare(fa, fb); c != 0 {
			return c
		}
	}
	return 0
}

// Format renders v as a CQL literal of type t
func Format(t *Type, v *Value) string {
	if v == nil {
		return "null"
	}
	switch t.Kind {
	case KindInt, KindBigInt, KindTimestamp:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindText:
		return "'" + strings.ReplaceAll(v.Text, "'", "''") + "'"
	case KindBlob:
		return "0x" + hex.EncodeToString(v.Bytes)
	case KindUUID:
		u, err := uuid.FromBytes(v.Bytes)
		if err != nil {
			return "0x" + hex.EncodeToString(v.Bytes)
		}
		return u.String()
	case KindList, KindSet:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = Format(t.Elem, e)
		}
		if t.Kind == KindList {
			return "[" + strings.Join(parts, ", ") + "]"
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindMap:
		parts := make([]string, len(v.Keys))
		for i := range v.Keys {
			parts[i] = Format(t.Key, v.Keys[i]) + ": " + Format(t.Elem, v.Elems[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindUDT:
		parts := make([]string, 0, len(t.Fields))
		for i, f := range t.Fields {
			parts = append(parts, f.Name+": "+Format(f.Type, v.Field(i)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("%v", *v)
}
