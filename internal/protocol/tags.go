package protocol

import (
	"fmt"
	"strings"
)

// Tag names the wire type of one argument or return value.
type Tag string

const (
	TagFloat32 Tag = "f"
	TagFloat64 Tag = "d"
	TagInt32   Tag = "i"
	TagUint32  Tag = "I"
	TagInt16   Tag = "h"
	TagUint16  Tag = "H"
	TagUint8   Tag = "b"
	TagString  Tag = "+c"

	// Fixed-count arrays: the count is the most recent integer value decoded in
	// the same reply. On encode the count is implied by the size table.
	TagFloat32Array Tag = "*f"
	TagFloat64Array Tag = "*d"
	TagInt32Array   Tag = "*i"
	TagUint32Array  Tag = "*I"

	// Count-prefixed arrays carry an inline int32 element count.
	TagFloat32List Tag = "+*f"
	TagFloat64List Tag = "+*d"
	TagInt32List   Tag = "+*i"
	TagStringList  Tag = "*+c"
)

type countMode int

const (
	countNone countMode = iota
	countFixed
	countPrefixed
)

type elemKind int

const (
	elemFloat32 elemKind = iota
	elemFloat64
	elemInt32
	elemUint32
	elemInt16
	elemUint16
	elemUint8
	elemString
)

type tagShape struct {
	elem  elemKind
	count countMode
}

func (s tagShape) isArray() bool {
	return s.count != countNone
}

var elemByCode = map[string]elemKind{
	"f":  elemFloat32,
	"d":  elemFloat64,
	"i":  elemInt32,
	"I":  elemUint32,
	"h":  elemInt16,
	"H":  elemUint16,
	"b":  elemUint8,
	"+c": elemString,
}

func (k elemKind) size() int {
	switch k {
	case elemFloat64:
		return 8
	case elemFloat32, elemInt32, elemUint32:
		return 4
	case elemInt16, elemUint16:
		return 2
	case elemUint8:
		return 1
	default:
		return -1
	}
}

func (k elemKind) integer() bool {
	switch k {
	case elemInt32, elemUint32, elemInt16, elemUint16, elemUint8:
		return true
	}
	return false
}

// parseTag resolves a tag into element kind and array convention.
//
// "*+c" is the string array convention: the reply carries its own element
// count inline, so it parses as count-prefixed.
func parseTag(t Tag) (tagShape, error) {
	raw := strings.TrimSpace(string(t))
	switch {
	case raw == "*+c":
		return tagShape{elem: elemString, count: countPrefixed}, nil
	case strings.HasPrefix(raw, "+*"):
		k, ok := elemByCode[raw[2:]]
		if !ok || k == elemString {
			return tagShape{}, fmt.Errorf("%w: %q", ErrUnknownTag, raw)
		}
		return tagShape{elem: k, count: countPrefixed}, nil
	case strings.HasPrefix(raw, "*"):
		k, ok := elemByCode[raw[1:]]
		if !ok || k == elemString {
			return tagShape{}, fmt.Errorf("%w: %q", ErrUnknownTag, raw)
		}
		return tagShape{elem: k, count: countFixed}, nil
	default:
		k, ok := elemByCode[raw]
		if !ok {
			return tagShape{}, fmt.Errorf("%w: %q", ErrUnknownTag, raw)
		}
		return tagShape{elem: k}, nil
	}
}

// Valid reports whether t is a recognised tag.
func (t Tag) Valid() bool {
	_, err := parseTag(t)
	return err == nil
}
