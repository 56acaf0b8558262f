package registry

import (
	"testing"

	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenario(key string) ScenarioFunc {
	return func() *attest.Scenario { return attest.NewScenario(key, key) }
}

func withGroups(t *testing.T, gs map[string]*Group) {
	t.Helper()

	saved := groups
	groups = make(map[string]*Group)
	t.Cleanup(func() { groups = saved })

	for key, g := range gs {
		Register(key, g)
	}
}

func TestLookup(t *testing.T) {
	alpha := &Group{Name: "Alpha", MinMembers: 3}
	alpha.AddScenario("one", "One", "", scenario("one"))
	alpha.AddScenario("shared", "Shared", "", scenario("shared"))

	beta := &Group{Name: "Beta", MinMembers: 5}
	beta.AddScenario("two", "Two", "", scenario("two"))
	beta.AddScenario("shared", "Shared", "", scenario("shared"))

	withGroups(t, map[string]*Group{"alpha": alpha, "beta": beta})

	tests := []struct {
		ref     string
		group   string
		entries []string
		err     string
	}{
		{ref: "one", group: "alpha", entries: []string{"one"}},
		{ref: "beta/shared", group: "beta", entries: []string{"shared"}},
		{ref: "alpha", group: "alpha", entries: []string{"one", "shared"}},
		{ref: "shared", err: "ambiguous"},
		{ref: "nope", err: "unknown scenario"},
		{ref: "gamma/one", err: "group \"gamma\" not found"},
		{ref: "alpha/two", err: "not found in group alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			group, entries, err := Lookup(tt.ref)
			if tt.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.group, group.Key)

			var keys []string
			for _, e := range entries {
				keys = append(keys, e.Key)
			}
			assert.Equal(t, tt.entries, keys)
		})
	}
}

func TestSelect(t *testing.T) {
	alpha := &Group{Name: "Alpha", MinMembers: 3}
	alpha.AddScenario("one", "One", "", scenario("one"))
	alpha.AddScenario("two", "Two", "", scenario("two"))

	beta := &Group{Name: "Beta", MinMembers: 5}
	beta.AddScenario("three", "Three", "", scenario("three"))

	withGroups(t, map[string]*Group{"alpha": alpha, "beta": beta})

	all, minMembers, err := Select(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, minMembers)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Key)
	assert.Equal(t, "three", all[2].Key)

	some, minMembers, err := Select([]string{"two", "alpha", "two"})
	require.NoError(t, err)
	assert.Equal(t, 3, minMembers)
	require.Len(t, some, 2)
	assert.Equal(t, "two", some[0].Key)
	assert.Equal(t, "one", some[1].Key)

	_, _, err = Select([]string{"missing"})
	assert.Error(t, err)
}

func TestGroupOrder(t *testing.T) {
	g := &Group{}
	g.AddScenario("b", "B", "", scenario("b"))
	g.AddScenario("a", "A", "", scenario("a"))

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []string{"b", "a"}, g.ScenarioOrder)

	_, err := g.GetScenario("c")
	assert.Error(t, err)
}
