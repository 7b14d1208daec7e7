package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/relgraph/internal/graph"
	"github.com/roach88/relgraph/internal/ir"
)

// ResolutionOutput is a commit's resolution with nodes written as
// Collection/key.
type ResolutionOutput struct {
	Deleted        []string `json:"deleted"`
	Cascaded       []string `json:"cascaded"`
	EdgesInserted  []string `json:"edges_inserted"`
	EdgesRemoved   []string `json:"edges_removed"`
	EdgesDiscarded []string `json:"edges_discarded"`
	Notifications  []string `json:"notifications"`
	Steps          int      `json:"steps"`
}

// EdgeOutput is one stored edge.
type EdgeOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Rule        string `json:"rule"`
}

func newEdgeOutput(e ir.Edge) EdgeOutput {
	return EdgeOutput{
		ID:          e.ID(),
		Name:        e.Name,
		Source:      e.Source.String(),
		Destination: e.Destination.String(),
		Rule:        string(e.Rule),
	}
}

func (e EdgeOutput) String() string {
	return fmt.Sprintf("%s(%s -> %s) %s", e.Name, e.Source, e.Destination, e.Rule)
}

func newResolutionOutput(res *graph.Resolution) ResolutionOutput {
	out := ResolutionOutput{
		Deleted:        nodeStrings(nil),
		Cascaded:       nodeStrings(nil),
		EdgesInserted:  []string{},
		EdgesRemoved:   []string{},
		EdgesDiscarded: []string{},
		Notifications:  []string{},
	}
	if res == nil {
		return out
	}
	out.Deleted = nodeStrings(res.Deleted)
	out.Cascaded = nodeStrings(res.Cascaded)
	out.EdgesInserted = append(out.EdgesInserted, res.EdgesInserted...)
	out.EdgesRemoved = append(out.EdgesRemoved, res.EdgesRemoved...)
	out.EdgesDiscarded = append(out.EdgesDiscarded, res.EdgesDiscarded...)
	for _, n := range res.Notifications {
		out.Notifications = append(out.Notifications, fmt.Sprintf("%s deleted %s", n.Edge, n.Deleted))
	}
	out.Steps = res.Steps
	return out
}

func nodeStrings(nodes []ir.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.String())
	}
	return out
}

// writeResolution prints the non-empty parts of a resolution.
func writeResolution(w io.Writer, r ResolutionOutput) {
	line := func(label string, items []string) {
		if len(items) > 0 {
			fmt.Fprintf(w, "%s: %s\n", label, strings.Join(items, ", "))
		}
	}
	line("deleted", r.Deleted)
	line("cascaded", r.Cascaded)
	if n := len(r.EdgesInserted); n > 0 {
		fmt.Fprintf(w, "edges inserted: %d\n", n)
	}
	if n := len(r.EdgesRemoved); n > 0 {
		fmt.Fprintf(w, "edges removed: %d\n", n)
	}
	if n := len(r.EdgesDiscarded); n > 0 {
		fmt.Fprintf(w, "edges discarded: %d\n", n)
	}
	for _, n := range r.Notifications {
		fmt.Fprintf(w, "notify: %s\n", n)
	}
	if r.Steps > 0 {
		fmt.Fprintf(w, "cascade steps: %d\n", r.Steps)
	}
}
