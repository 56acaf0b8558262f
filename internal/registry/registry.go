package registry

import (
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"

	"github.com/st3v3nmw/quorumcheck/internal/attest"
)

func init() {
	log.SetFlags(0)
}

var groups = make(map[string]*Group)

// Group is a family of scenarios that share an ensemble shape.
type Group struct {
	Key        string
	Name       string
	Summary    string
	MinMembers int

	Scenarios     map[string]*Entry
	ScenarioOrder []string
}

type Entry struct {
	Key     string
	Name    string
	Summary string
	Fn      ScenarioFunc
}

// ScenarioFunc builds a fresh scenario for each run.
type ScenarioFunc func() *attest.Scenario

func (g *Group) AddScenario(key, name, summary string, fn ScenarioFunc) {
	if g.Scenarios == nil {
		g.Scenarios = make(map[string]*Entry)
	}

	g.Scenarios[key] = &Entry{Key: key, Name: name, Summary: summary, Fn: fn}
	g.ScenarioOrder = append(g.ScenarioOrder, key)
}

func (g *Group) GetScenario(key string) (*Entry, error) {
	entry, exists := g.Scenarios[key]
	if !exists {
		return nil, fmt.Errorf("scenario %q not found in group %s", key, g.Key)
	}

	return entry, nil
}

func (g *Group) Len() int {
	return len(g.ScenarioOrder)
}

// Entries returns the scenarios in registration order.
func (g *Group) Entries() []*Entry {
	entries := make([]*Entry, len(g.ScenarioOrder))
	for i, key := range g.ScenarioOrder {
		entries[i] = g.Scenarios[key]
	}

	return entries
}

func Register(key string, group *Group) {
	if len(group.Scenarios) == 0 {
		log.Fatalf("Cannot register empty scenario group %s.", key)
	}

	group.Key = key
	groups[key] = group
}

func Get(key string) (*Group, error) {
	group, exists := groups[key]
	if !exists {
		return nil, fmt.Errorf("scenario group %q not found", key)
	}

	return group, nil
}

// All returns every group sorted by key.
func All() []*Group {
	all := make([]*Group, 0, len(groups))
	for _, key := range slices.Sorted(maps.Keys(groups)) {
		all = append(all, groups[key])
	}

	return all
}

// Lookup resolves "group/scenario", "group" or a bare scenario key.
func Lookup(ref string) (*Group, []*Entry, error) {
	if groupKey, scenarioKey, ok := strings.Cut(ref, "/"); ok {
		group, err := Get(groupKey)
		if err != nil {
			return nil, nil, err
		}

		entry, err := group.GetScenario(scenarioKey)
		if err != nil {
			return nil, nil, err
		}

		return group, []*Entry{entry}, nil
	}

	if group, exists := groups[ref]; exists {
		return group, group.Entries(), nil
	}

	var found []*Group
	for _, group := range All() {
		if _, exists := group.Scenarios[ref]; exists {
			found = append(found, group)
		}
	}

	switch len(found) {
	case 0:
		return nil, nil, fmt.Errorf("unknown scenario %q\nRun 'quorumcheck list' to see what is available", ref)
	case 1:
		return found[0], []*Entry{found[0].Scenarios[ref]}, nil
	default:
		return nil, nil, fmt.Errorf("scenario %q is ambiguous, qualify it as group/%s", ref, ref)
	}
}

// Select builds the scenarios named by refs, in the order given and without
// duplicates. No refs selects every registered scenario. It also returns
// the largest member count any selected group needs.
func Select(refs []string) ([]*attest.Scenario, int, error) {
	var (
		scenarios  []*attest.Scenario
		minMembers int
		seen       = make(map[*Entry]bool)
	)

	add := func(group *Group, entries []*Entry) {
		minMembers = max(minMembers, group.MinMembers)
		for _, entry := range entries {
			if seen[entry] {
				continue
			}
			seen[entry] = true
			scenarios = append(scenarios, entry.Fn())
		}
	}

	if len(refs) == 0 {
		for _, group := range All() {
			add(group, group.Entries())
		}
		return scenarios, minMembers, nil
	}

	for _, ref := range refs {
		group, entries, err := Lookup(ref)
		if err != nil {
			return nil, 0, err
		}
		add(group, entries)
	}

	return scenarios, minMembers, nil
}
