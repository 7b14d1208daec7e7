// Package schema compiles CUE edge declarations.
//
// A schema file declares each edge name the application uses:
//
//	edge: owns: {
//		source:      "Author"
//		destination: "Book"
//		rule:        "delete_destination_if_source_deleted"
//	}
//
// source and destination are optional collection constraints. The compiled
// Schema checks edges as they are added and fills in the declared rule when
// the caller leaves it empty.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/relgraph/internal/ir"
)

// Decl is one compiled edge declaration.
type Decl struct {
	Name        string        `json:"name"`
	Source      string        `json:"source,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Rule        ir.DeleteRule `json:"rule"`
}

// Schema is a set of edge declarations keyed by name.
type Schema struct {
	decls map[string]Decl
}

// New builds a schema from declarations. Later declarations with the same
// name replace earlier ones.
func New(decls ...Decl) *Schema {
	s := &Schema{decls: make(map[string]Decl, len(decls))}
	for _, d := range decls {
		s.decls[d.Name] = d
	}
	return s
}

// Decls returns the declarations sorted by name.
func (s *Schema) Decls() []Decl {
	out := make([]Decl, 0, len(s.decls))
	for _, d := range s.decls {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Decl) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Lookup returns the declaration for name.
func (s *Schema) Lookup(name string) (Decl, bool) {
	d, ok := s.decls[name]
	return d, ok
}

// Resolve checks e against its declaration and returns it with the
// declared rule filled in. An explicit rule must match the declaration.
func (s *Schema) Resolve(e ir.Edge) (ir.Edge, error) {
	d, ok := s.decls[e.Name]
	if !ok {
		return e, fmt.Errorf("edge %q is not declared", e.Name)
	}
	if d.Source != "" && e.Source.Collection != d.Source {
		return e, fmt.Errorf("edge %q: source must be in %q, got %q", e.Name, d.Source, e.Source.Collection)
	}
	if d.Destination != "" && e.Destination.Collection != d.Destination {
		return e, fmt.Errorf("edge %q: destination must be in %q, got %q", e.Name, d.Destination, e.Destination.Collection)
	}
	switch e.Rule {
	case "":
		e.Rule = d.Rule
	case d.Rule:
	default:
		return e, fmt.Errorf("edge %q: rule %q conflicts with declared %q", e.Name, e.Rule, d.Rule)
	}
	return e, nil
}

// Compile parses the edge declarations in a CUE value. The value is the
// file root; declarations live under the top-level "edge" field.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := New()
	edgesVal := v.LookupPath(cue.ParsePath("edge"))
	if !edgesVal.Exists() {
		return s, nil
	}

	iter, err := edgesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		d, err := compileDecl(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.decls[d.Name] = d
	}
	return s, nil
}

func compileDecl(name string, v cue.Value) (Decl, error) {
	d := Decl{Name: name}
	if strings.ContainsRune(name, 0) {
		return d, &CompileError{Field: "edge." + name, Message: "name contains NUL byte", Pos: v.Pos()}
	}

	ruleVal := v.LookupPath(cue.ParsePath("rule"))
	if !ruleVal.Exists() {
		return d, &CompileError{Field: "rule", Message: fmt.Sprintf("edge %q: rule is required", name), Pos: v.Pos()}
	}
	rule, err := ruleVal.String()
	if err != nil {
		return d, formatCUEError(err)
	}
	d.Rule = ir.DeleteRule(rule)
	if !d.Rule.Valid() {
		return d, &CompileError{
			Field:   "rule",
			Message: fmt.Sprintf("edge %q: unknown delete rule %q", name, rule),
			Pos:     ruleVal.Pos(),
		}
	}

	for _, field := range []struct {
		label string
		dst   *string
	}{{"source", &d.Source}, {"destination", &d.Destination}} {
		fv := v.LookupPath(cue.ParsePath(field.label))
		if !fv.Exists() {
			continue
		}
		coll, err := fv.String()
		if err != nil {
			return d, formatCUEError(err)
		}
		if coll == "" || strings.ContainsRune(coll, '/') {
			return d, &CompileError{
				Field:   field.label,
				Message: fmt.Sprintf("edge %q: invalid collection %q", name, coll),
				Pos:     fv.Pos(),
			}
		}
		*field.dst = coll
	}
	return d, nil
}
