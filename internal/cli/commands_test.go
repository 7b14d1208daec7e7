package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/badgerstore"
	"github.com/roach88/relgraph/internal/db"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/store"
)

var backends = []string{"sqlite", "badger"}

// database returns global flags for a fresh database on backend.
func database(t *testing.T, backend string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relgraph.db")
	return []string{"--backend", backend, "--db", path}
}

func run(t *testing.T, global []string, args ...string) string {
	t.Helper()
	out, err := execute(t, append(append([]string{}, global...), args...)...)
	require.NoError(t, err, out)
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, sonic.ConfigStd.UnmarshalFromString(out, &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRemove_Cascades(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			g := database(t, backend)
			run(t, g, "set", "Author/frank", `{"name":"Frank Herbert"}`)
			run(t, g, "set", "Book/dune")
			run(t, g, "set", "Reader/ann")
			run(t, g, "link", "owns", "Author/frank", "Book/dune", "--rule", string(ir.RuleDeleteDestinationIfSourceDeleted))
			run(t, g, "link", "watches", "Reader/ann", "Book/dune", "--rule", string(ir.RuleNotifyIfDestinationDeleted))

			out := run(t, g, "--format", "json", "remove", "Author/frank")
			res := decode[ResolutionOutput](t, out)
			assert.Equal(t, []string{"Author/frank", "Book/dune"}, res.Deleted)
			assert.Equal(t, []string{"Book/dune"}, res.Cascaded)
			assert.Len(t, res.EdgesRemoved, 2)
			assert.Equal(t, []string{"watches(Reader/ann -> Book/dune) deleted Book/dune"}, res.Notifications)
			assert.Equal(t, 2, res.Steps)

			out = run(t, g, "--format", "json", "edges")
			assert.Empty(t, decode[[]EdgeOutput](t, out))

			out = run(t, g, "check")
			assert.Contains(t, out, "0 edge(s), 0 dangling")
		})
	}
}

func TestRemove_TextOutput(t *testing.T) {
	g := database(t, "sqlite")
	run(t, g, "set", "Author/a")
	run(t, g, "set", "Book/b")
	run(t, g, "link", "owns", "Author/a", "Book/b", "--rule", string(ir.RuleDeleteDestinationIfSourceDeleted))

	out := run(t, g, "remove", "Author/a")
	assert.Equal(t, "committed\n"+
		"deleted: Author/a, Book/b\n"+
		"cascaded: Book/b\n"+
		"edges removed: 1\n"+
		"cascade steps: 2\n", out)
}

func TestEdges_Filters(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			g := database(t, backend)
			for _, n := range []string{"Author/a", "Book/b", "Book/c"} {
				run(t, g, "set", n)
			}
			run(t, g, "link", "owns", "Author/a", "Book/b")
			run(t, g, "link", "owns", "Author/a", "Book/c")
			run(t, g, "link", "cites", "Book/c", "Book/b")

			all := decode[[]EdgeOutput](t, run(t, g, "--format", "json", "edges"))
			assert.Len(t, all, 3)

			bySource := decode[[]EdgeOutput](t, run(t, g, "--format", "json", "edges", "--source", "Author/a"))
			assert.Len(t, bySource, 2)

			byDest := decode[[]EdgeOutput](t, run(t, g, "--format", "json", "edges", "--destination", "Book/b"))
			assert.Len(t, byDest, 2)

			named := decode[[]EdgeOutput](t, run(t, g, "--format", "json", "edges", "--name", "cites"))
			require.Len(t, named, 1)
			assert.Equal(t, EdgeOutput{
				ID:          ir.Edge{Name: "cites", Source: ir.N("Book", "c"), Destination: ir.N("Book", "b")}.ID(),
				Name:        "cites",
				Source:      "Book/c",
				Destination: "Book/b",
				Rule:        string(ir.RuleNone),
			}, named[0])

			out := run(t, g, "edges", "--name", "cites")
			assert.Equal(t, "cites(Book/c -> Book/b) none\n", out)

			run(t, g, "unlink", "cites", "Book/c", "Book/b")
			assert.Empty(t, decode[[]EdgeOutput](t, run(t, g, "--format", "json", "edges", "--name", "cites")))
		})
	}
}

func TestLink_DanglingDiscarded(t *testing.T) {
	g := database(t, "badger")
	run(t, g, "set", "Book/b")

	res := decode[ResolutionOutput](t, run(t, g, "--format", "json", "link", "cites", "Book/b", "Book/ghost"))
	assert.Empty(t, res.EdgesInserted)
	assert.Len(t, res.EdgesDiscarded, 1)
}

func TestLink_InvalidRule(t *testing.T) {
	g := database(t, "sqlite")
	out, err := execute(t, append(g, "link", "owns", "Author/a", "Book/b", "--rule", "sometimes")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, db.IsInvalidEdgeReference(err))
	assert.Contains(t, out, "Error [E003]")
}

func TestLink_SchemaFillsRule(t *testing.T) {
	g := append(database(t, "sqlite"), "--config", writeConfig(t, "schema: ../schema/testdata/library\n"))
	run(t, g, "set", "Author/a")
	run(t, g, "set", "Book/b")
	run(t, g, "link", "owns", "Author/a", "Book/b")

	edges := decode[[]EdgeOutput](t, run(t, g, "--format", "json", "edges"))
	require.Len(t, edges, 1)
	assert.Equal(t, string(ir.RuleDeleteDestinationIfSourceDeleted), edges[0].Rule)

	_, err := execute(t, append(g, "link", "owns", "Book/b", "Author/a")...)
	assert.True(t, db.IsInvalidEdgeReference(err))
}

func TestSet_InvalidInput(t *testing.T) {
	g := database(t, "sqlite")

	_, err := execute(t, append(g, "set", "Author")...)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, append(g, "set", "Author/a", "{not json")...)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid JSON value")
}

func TestSession_RequiresPath(t *testing.T) {
	t.Setenv("RELGRAPH_PATH", "")
	out, err := execute(t, "edges")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no database")
}

func TestSession_BadConfig(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, "backend: postgres\n"), "--db", "x.db", "edges")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestCheck_Dangling(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			g := database(t, backend)
			run(t, g, "set", "Author/a")

			// Write an edge behind the extension's back.
			b := openRaw(t, backend, g[3])
			w, err := b.BeginWrite(context.Background())
			require.NoError(t, err)
			require.NoError(t, w.InsertEdge(context.Background(), ir.Edge{
				Name: "owns", Source: ir.N("Author", "a"), Destination: ir.N("Book", "gone"), Rule: ir.RuleNone,
			}))
			require.NoError(t, w.Commit())
			require.NoError(t, b.Close())

			out, err := execute(t, append(g, "check")...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "dangling: owns(Author/a -> Book/gone) none")
			assert.Contains(t, out, "1 edge(s), 1 dangling")
		})
	}
}

func openRaw(t *testing.T, backend, path string) db.Backend {
	t.Helper()
	if backend == "badger" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = path
		cfg.GCInterval = 0
		s, err := badgerstore.Open(cfg)
		require.NoError(t, err)
		return s
	}
	s, err := store.Open(path)
	require.NoError(t, err)
	return s
}

func TestValidate(t *testing.T) {
	out := run(t, nil, "validate", "../schema/testdata/library")
	assert.Contains(t, out, "4 edge declaration(s)")
	assert.Contains(t, out, "owns(Author -> Book) delete_destination_if_source_deleted")
	assert.Contains(t, out, "cites(* -> *) none")

	res := decode[ValidationResult](t, run(t, nil, "--format", "json", "validate", "../schema/testdata/library"))
	assert.True(t, res.Valid)
	assert.Len(t, res.Edges, 4)
}

func TestValidate_Errors(t *testing.T) {
	out, err := execute(t, "validate", "../schema/testdata/badrule")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `unknown delete rule "delete_everything"`)

	out, err = execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, out, "no CUE files")
}

func TestRun(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			out := run(t, nil, "--backend", backend, "run", "../harness/testdata/scenarios/author_cascade.yaml")
			assert.Contains(t, out, "scenario author_cascade ("+backend+")")
			assert.Contains(t, out, "cascaded: Book/b, Cover/c")
			assert.Contains(t, out, "\u2713 pass")
		})
	}
}

func TestRun_MissingFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_WithGolden(t *testing.T) {
	out := run(t, nil, "--format", "json", "test", "../harness/testdata/scenarios", "--golden", "../harness/testdata/golden")
	result := decode[TestResult](t, out)
	assert.Equal(t, 8, result.Total)
	assert.Equal(t, 8, result.Passed)
	assert.Zero(t, result.Failed)
}

func TestTest_FilterAndBackend(t *testing.T) {
	out := run(t, nil, "--backend", "badger", "test", "../harness/testdata/scenarios", "--filter", "notify*")
	assert.Contains(t, out, "\u2713 notify_and_rollback [badger]")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTest_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()
	run(t, nil, "test", "../harness/testdata/scenarios", "--golden", golden, "--update", "--filter", "author_cascade")
	run(t, nil, "test", "../harness/testdata/scenarios", "--golden", golden, "--filter", "author_cascade")

	_, err := execute(t, "test", "../harness/testdata/scenarios", "--golden", golden, "--filter", "schema_rules")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTest_UpdateRequiresGolden(t *testing.T) {
	_, err := execute(t, "test", "../harness/testdata/scenarios", "--update")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
