package ir

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNode(t *testing.T) {
	n, err := ParseNode("Task/a/b")
	require.NoError(t, err)
	assert.Equal(t, N("Task", "a/b"), n)
	assert.Equal(t, "Task/a/b", n.String())
}

func TestParseNodeErrors(t *testing.T) {
	for _, s := range []string{"", "Task", "/key", "Task/", "Ta\x00sk/k"} {
		_, err := ParseNode(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestNodeValidate(t *testing.T) {
	assert.NoError(t, N("A", "1").Validate())
	assert.Error(t, N("", "1").Validate())
	assert.Error(t, N("A", "").Validate())
	assert.Error(t, N("A/B", "1").Validate())
	assert.Error(t, N("A", "1\x00").Validate())
	assert.Error(t, N("A", "k\xff").Validate(), "invalid UTF-8 key")
	assert.Error(t, N("A\xfe", "1").Validate(), "invalid UTF-8 collection")
	assert.NoError(t, N("Book", "cafe\u0301").Validate(), "decomposed form is valid")
}

func TestCompareNodes(t *testing.T) {
	nodes := []Node{N("B", "1"), N("A", "2"), N("A", "1")}
	slices.SortFunc(nodes, CompareNodes)
	assert.Equal(t, []Node{N("A", "1"), N("A", "2"), N("B", "1")}, nodes)
}

func TestEdgeValidate(t *testing.T) {
	good := Edge{Name: "n", Source: N("A", "1"), Destination: N("B", "1"), Rule: RuleNone}
	require.NoError(t, good.Validate())

	noName := good
	noName.Name = ""
	assert.Error(t, noName.Validate())

	badSource := good
	badSource.Source = N("A", "")
	assert.Error(t, badSource.Validate())

	badName := good
	badName.Name = "own\xffs"
	assert.Error(t, badName.Validate())

	badDestination := good
	badDestination.Destination = N("B", "k\xfe")
	assert.Error(t, badDestination.Validate())

	badRule := good
	badRule.Rule = "cascade_everything"
	assert.Error(t, badRule.Validate())
}

func TestDeleteRuleValid(t *testing.T) {
	for _, r := range DeleteRules {
		assert.True(t, r.Valid(), string(r))
	}
	assert.False(t, DeleteRule("").Valid())
}

func TestEdgeTouches(t *testing.T) {
	e := Edge{Name: "n", Source: N("A", "1"), Destination: N("B", "1"), Rule: RuleNone}
	assert.True(t, e.Touches(N("A", "1")))
	assert.True(t, e.Touches(N("B", "1")))
	assert.False(t, e.Touches(N("C", "1")))
}
