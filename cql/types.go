package cql

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a CQL type
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindBigInt
	KindDouble
	KindBoolean
	KindText
	KindBlob
	KindUUID
	KindTimestamp
	KindList
	KindSet
	KindMap
	KindUDT
)

var kindNames = map[Kind]string{
	KindInt:       "int",
	KindBigInt:    "bigint",
	KindDouble:    "double",
	KindBoolean:   "boolean",
	KindText:      "text",
	KindBlob:      "blob",
	KindUUID:      "uuid",
	KindTimestamp: "timestamp",
	KindList:      "list",
	KindSet:       "set",
	KindMap:       "map",
	KindUDT:       "udt",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is a named member of a user-defined type
type Field struct {
	Name string
	Type *Type
}

// Type describes a column or element type. Collections and UDTs are multi-cell
// (each element or field stored and expired independently) unless Frozen.
type Type struct {
	Kind   Kind
	Elem   *Type // list/set element, map value
	Key    *Type // map key
	Name   string
	Fields []Field
	Frozen bool
}

var (
	Int       = &Type{Kind: KindInt}
	BigInt    = &Type{Kind: KindBigInt}
	Double    = &Type{Kind: KindDouble}
	Boolean   = &Type{Kind: KindBoolean}
	Text      = &Type{Kind: KindText}
	Blob      = &Type{Kind: KindBlob}
	UUID      = &Type{Kind: KindUUID}
	Timestamp = &Type{Kind: KindTimestamp}
)

// ListOf returns a non-frozen list type
func ListOf(elem *Type) *Type {
	return &Type{Kind: KindList, Elem: elem}
}

// SetOf returns a non-frozen set type
func SetOf(elem *Type) *Type {
	return &Type{Kind: KindSet, Elem: elem}
}

// MapOf returns a non-frozen map type
func MapOf(key, value *Type) *Type {
	return &Type{Kind: KindMap, Key: key, Elem: value}
}

// UDT returns a non-frozen user-defined type
func UDT(name string, fields ...Field) *Type {
	return &Type{Kind: KindUDT, Name: name, Fields: fields}
}

// Frozen returns a frozen copy of t
func Frozen(t *Type) *Type {
	c := *t
	c.Frozen = true
	return &c
}

// IsCollection reports whether t is a list, set or map
func (t *Type) IsCollection() bool {
	return t.Kind == KindList || t.Kind == KindSet || t.Kind == KindMap
}

// IsMultiCell reports whether values of t are stored as one cell per element or field
func (t *Type) IsMultiCell() bool {
	return (t.IsCollection() || t.Kind == KindUDT) && !t.Frozen
}

// FieldIndex returns the position of a UDT field, or -1
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (t *Type) String() string {
	var s string
	switch t.Kind {
	case KindList, KindSet:
		s = fmt.Sprintf("%s<%s>", t.Kind, t.Elem)
	case KindMap:
		s = fmt.Sprintf("map<%s, %s>", t.Key, t.Elem)
	case KindUDT:
		s = t.Name
	default:
		return t.Kind.String()
	}
	if t.Frozen {
		return "frozen<" + s + ">"
	}
	return s
}

// Describe renders a UDT with its field list, used in error messages
func (t *Type) Describe() string {
	if t.Kind != KindUDT {
		return t.String()
	}
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.Name + " " + f.Type.String()
	}
	return fmt.Sprintf("%s{%s}", t.Name, strings.Join(parts, ", "))
}
