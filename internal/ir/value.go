package ir

import (
	"slices"
	"unicode/utf16"
)

// IRValue is a sealed interface for values that may appear in canonical
// JSON. Only IRString, IRInt, IRBool, IRArray, and IRObject implement it.
// There is no float and no null: both break byte-stable hashing.
type IRValue interface {
	irValue()
}

// IRString is a string value.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer value. Always int64, never float64.
type IRInt int64

func (IRInt) irValue() {}

// IRBool is a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an ordered list of values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's sort.Strings compares UTF-8 bytes, which differs for astral runes.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// NodeValue renders a node as a canonical object.
func NodeValue(n Node) IRObject {
	return IRObject{
		"collection": IRString(n.Collection),
		"key":        IRString(n.Key),
	}
}

// EdgeValue renders an edge, including its rule, as a canonical object.
func EdgeValue(e Edge) IRObject {
	return IRObject{
		"name":        IRString(e.Name),
		"source":      NodeValue(e.Source),
		"destination": NodeValue(e.Destination),
		"rule":        IRString(e.Rule),
	}
}
