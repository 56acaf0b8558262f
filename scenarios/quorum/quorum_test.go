package quorum_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/attest/attesttest"
	"github.com/st3v3nmw/quorumcheck/internal/node"
	"github.com/st3v3nmw/quorumcheck/internal/registry"
	"github.com/st3v3nmw/quorumcheck/scenarios/quorum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *attest.Config {
	return &attest.Config{
		SettleInterval:      time.Millisecond,
		ConnectTimeout:      500 * time.Millisecond,
		ShortConnectTimeout: 30 * time.Millisecond,
		DefaultRetryTimeout: 300 * time.Millisecond,
		RetryPollInterval:   5 * time.Millisecond,
		MinorityHold:        30 * time.Millisecond,
		MembershipFile:      attesttest.MembershipFile,
	}
}

func run(t *testing.T, ens *attesttest.Ensemble, cfg *attest.Config, scenarios ...*attest.Scenario) *attest.Report {
	t.Helper()

	var out bytes.Buffer
	report := attest.New(ens.Cluster()).
		WithConfig(cfg).
		WithOutput(&out).
		WithLogger(slog.New(slog.DiscardHandler)).
		Add(scenarios...).
		Run(context.Background())
	t.Log(out.String())

	return report
}

func assertRestored(t *testing.T, ens *attesttest.Ensemble) {
	t.Helper()

	for _, name := range []string{"node1", "node2", "node3"} {
		m := ens.Member(name)
		assert.Equal(t, node.StateRunning, m.State(), "%s should be running", name)

		drift, err := m.ConfigDrift()
		require.NoError(t, err)
		assert.Empty(t, drift, "%s config should be restored", name)
	}
	assert.Empty(t, ens.Paths(), "no path should survive")
	assert.Zero(t, ens.OpenSessions(), "every session should be released")
}

func TestAllScenariosPass(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")

	report := run(t, ens, testConfig(),
		quorum.StartOffline(),
		quorum.UnresolvablePeer(),
		quorum.RestartFollower(),
		quorum.MinorityStart(),
	)

	for _, res := range report.Results {
		assert.True(t, res.Passed, "%s: %v", res.Key, res.Err)
	}
	assertRestored(t, ens)
}

func TestStartOfflineLogsBlockedStart(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")

	report := run(t, ens, testConfig(), quorum.StartOffline())
	require.True(t, report.Passed())

	for _, name := range []string{"node2", "node3"} {
		text, err := ens.Member(name).LogSince(nil)
		require.NoError(t, err)
		assert.Contains(t, text, quorum.CannotConnect)
	}
	assertRestored(t, ens)
}

func TestStartOfflineRetriesCleanupDeletes(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")
	ens.FailDeletes(3)

	report := run(t, ens, testConfig(), quorum.StartOffline())

	require.True(t, report.Passed(), "transient delete failures should be retried")
	assertRestored(t, ens)
}

func TestUnresolvablePeerRestoresConfig(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")

	report := run(t, ens, testConfig(), quorum.UnresolvablePeer())

	require.True(t, report.Passed(), "%v", report.Results[0].Err)
	assertRestored(t, ens)
}

func TestUnresolvablePeerMissingPeer(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")
	cfg := testConfig()
	cfg.ReplacedPeer = "node9"

	report := run(t, ens, cfg, quorum.UnresolvablePeer())

	require.False(t, report.Passed())
	res := report.Results[0]

	var assertion *attest.AssertionError
	require.ErrorAs(t, res.Err, &assertion)
	assert.Equal(t, "node1", assertion.Member)
	assert.Empty(t, res.Err.Cleanup, "cleanup should still succeed")
	assertRestored(t, ens)
}

func TestScenarioRerunStartsClean(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")
	sc := quorum.UnresolvablePeer()

	report := run(t, ens, testConfig(), sc)
	require.True(t, report.Passed(), "%v", report.Results[0].Err)

	// The second run fails before it creates anything, so its cleanup has
	// nothing to delete.
	ens.Member("node1").FailStart(errors.New("address already in use"))
	before := ens.Deletes()

	report = run(t, ens, testConfig(), sc)
	require.False(t, report.Passed())
	assert.Equal(t, before, ens.Deletes(), "state from the first run must not leak into the second")
	assert.Zero(t, ens.OpenSessions())
}

func TestRestartFollower(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")

	report := run(t, ens, testConfig(), quorum.RestartFollower())

	require.True(t, report.Passed())
	assert.Equal(t, 1, ens.Member("node3").Restarts())
	assert.Zero(t, ens.Member("node1").Restarts())
	assertRestored(t, ens)
}

func TestRestartFollowerFailureStillDeletes(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")
	ens.Member("node3").FailStart(errors.New("disk full"))

	report := run(t, ens, testConfig(), quorum.RestartFollower())

	require.False(t, report.Passed())
	assert.ErrorContains(t, report.Results[0].Err, "disk full")
	assert.False(t, ens.Exists("/test_restart"), "the created path should be removed after a failed body")
	assert.Zero(t, ens.OpenSessions())
}

func TestMinorityStart(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")

	report := run(t, ens, testConfig(), quorum.MinorityStart())

	require.True(t, report.Passed(), "%v", report.Results[0].Err)
	for _, name := range []string{"node1", "node2", "node3"} {
		assert.GreaterOrEqual(t, ens.Member(name).Starts(), 1)
	}
	assertRestored(t, ens)
}

func TestConnectedLineIsDetected(t *testing.T) {
	ens := attesttest.New("node1", "node2", "node3")

	sc := attest.NewScenario("false-quorum", "False quorum").
		Run(func(do *attest.Do) {
			do.Stop("node1")
			do.Mark("node1")
			do.Spawn("node1")
			do.Log("node1").
				Returns().Text(attest.Not(attest.Contains(quorum.Connected))).
				Assert("node2 and node3 already form a quorum, so node1 connects to it")
		}).
		Cleanup(func(do *attest.Do) { do.StartAll() })

	report := run(t, ens, testConfig(), sc)

	assert.False(t, report.Passed(), "a real quorum must be visible to the log assertion")
	assertRestored(t, ens)
}

func TestTooFewMembers(t *testing.T) {
	ens := attesttest.New("node1", "node2")

	report := run(t, ens, testConfig(), quorum.RestartFollower())

	require.False(t, report.Passed())
	assert.ErrorContains(t, report.Results[0].Err, "need 3 members")
}

func TestRegistered(t *testing.T) {
	group, err := registry.Get("keeper")
	require.NoError(t, err)

	assert.Equal(t, 3, group.MinMembers)
	assert.Equal(t, []string{"start-offline", "unresolvable-peer", "restart-follower", "minority-start"}, group.ScenarioOrder)

	for _, entry := range group.Entries() {
		sc := entry.Fn()
		assert.Equal(t, entry.Key, sc.Key)
		assert.Equal(t, entry.Name, sc.Name)
	}
}
