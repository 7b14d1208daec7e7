package ir

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Node references a record in the store by collection and key.
// A node exists iff the record store holds a value for it.
type Node struct {
	Collection string `json:"collection" yaml:"collection"`
	Key        string `json:"key" yaml:"key"`
}

// N is shorthand for Node{Collection: collection, Key: key}.
func N(collection, key string) Node {
	return Node{Collection: collection, Key: key}
}

// ParseNode parses the "Collection/key" form produced by Node.String.
// The collection ends at the first slash; the key may contain slashes.
func ParseNode(s string) (Node, error) {
	collection, key, ok := strings.Cut(s, "/")
	if !ok {
		return Node{}, fmt.Errorf("node %q: expected Collection/key", s)
	}
	n := Node{Collection: collection, Key: key}
	if err := n.Validate(); err != nil {
		return Node{}, err
	}
	return n, nil
}

// String renders the node as "Collection/key".
func (n Node) String() string {
	return n.Collection + "/" + n.Key
}

// IsZero reports whether n is the zero Node.
func (n Node) IsZero() bool {
	return n.Collection == "" && n.Key == ""
}

// Validate checks that the node can be stored.
// Empty parts are rejected, as are invalid UTF-8, NUL bytes (used as a key
// separator by the badger backend) and slashes in the collection
// (ambiguous String form).
func (n Node) Validate() error {
	if n.Collection == "" {
		return fmt.Errorf("node %q: collection is empty", n.String())
	}
	if n.Key == "" {
		return fmt.Errorf("node %q: key is empty", n.String())
	}
	if !utf8.ValidString(n.Collection) || !utf8.ValidString(n.Key) {
		return fmt.Errorf("node %q: invalid UTF-8", n.String())
	}
	if strings.ContainsRune(n.Collection, '/') {
		return fmt.Errorf("node %q: collection contains '/'", n.String())
	}
	if strings.ContainsRune(n.Collection, 0) || strings.ContainsRune(n.Key, 0) {
		return fmt.Errorf("node %q: contains NUL byte", n.String())
	}
	return nil
}

// CompareNodes orders nodes by collection, then key. Suitable for
// slices.SortFunc wherever results must be deterministic.
func CompareNodes(a, b Node) int {
	if c := strings.Compare(a.Collection, b.Collection); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}
