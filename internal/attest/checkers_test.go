package attest_test

import (
	"testing"

	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/stretchr/testify/assert"
)

func TestCheckers(t *testing.T) {
	log := "Starting keeper node3\nConnected to ZooKeeper (or Keeper) before internal Keeper start\n"

	tests := []struct {
		name     string
		checker  attest.Checker[string]
		pass     bool
		expected string
	}{
		{"Contains", attest.Contains("Connected to ZooKeeper"), true, `containing "Connected to ZooKeeper"`},
		{"Contains Missing", attest.Contains("Cannot connect"), false, `containing "Cannot connect"`},
		{"Not Contains", attest.Not(attest.Contains("Cannot connect")), true, `not containing "Cannot connect"`},
		{"Is", attest.Is(log), true, log},
		{"Not Is", attest.Not(attest.Is("")), true, "not "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.pass, tt.checker.Check(log))
			assert.Equal(t, tt.expected, tt.checker.Expected())
		})
	}
}
