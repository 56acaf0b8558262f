package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `run_dir: /tmp/qc
pool_size: 2
members:
  - name: node1
    command: clickhouse-keeper
    args: ["--config-file", "node1.xml"]
    client_addr: 127.0.0.1:9181
    log_format: json
    message_field: msg
    config_files:
      enable_keeper: /etc/node1/enable_keeper1.xml
  - name: node2
    command: clickhouse-keeper
    client_addr: 127.0.0.1:9182
timeouts:
  start: 45s
  settle: 2s
  connect: 20s
  poll: 50ms
retry:
  delete_attempts: 10
  delete_backoff: 250ms
  absent: retry
scenarios:
  replaced_peer: node2
  minority_hold: 3s
`

func write(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "quorumcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(write(t, sample))
	require.NoError(t, err)

	require.Len(t, cfg.Members, 2)
	assert.Equal(t, "/tmp/qc", cfg.RunDir)

	specs := cfg.Specs()
	assert.Equal(t, "node1", specs[0].Name)
	assert.Equal(t, []string{"--config-file", "node1.xml"}, specs[0].Args)
	assert.Equal(t, node.LogFormatJSON, specs[0].LogFormat)
	assert.Equal(t, "msg", specs[0].MessageField)
	assert.Equal(t, "/etc/node1/enable_keeper1.xml", specs[0].ConfigFiles["enable_keeper"])
	assert.Equal(t, "127.0.0.1:9182", specs[1].ClientAddr)

	opts, err := cfg.ClusterOptions()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/qc", opts.Node.RunDir)
	assert.Equal(t, 45*time.Second, opts.Node.StartTimeout)
	assert.Equal(t, 50*time.Millisecond, opts.Node.PollInterval)
	assert.Equal(t, 20*time.Second, opts.Keeper.ConnectTimeout)
	assert.Equal(t, 10, opts.DeleteAttempts)
	assert.Equal(t, 250*time.Millisecond, opts.DeleteBackoff)
	assert.Equal(t, keeper.AbsentIsRetryable, opts.Absent)
	assert.Equal(t, 2, opts.PoolSize)
	assert.Nil(t, opts.Keeper.Backoff)

	harness, err := cfg.Harness()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, harness.SettleInterval)
	assert.Equal(t, "node2", harness.ReplacedPeer)
	assert.Equal(t, 3*time.Second, harness.MinorityHold)
	assert.Empty(t, harness.UnresolvablePeer, "unset fields are left to the suite defaults")
}

func TestLoadDefaultsRunDir(t *testing.T) {
	cfg, err := Load(write(t, "members:\n  - name: n\n    command: c\n    client_addr: a:1\n"))
	require.NoError(t, err)
	assert.Equal(t, ".quorumcheck", cfg.RunDir)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quorumcheck init")
}

func TestLoadInvalid(t *testing.T) {
	member := "members:\n  - name: node1\n    command: c\n    client_addr: a:1\n"
	three := member + "  - name: node2\n    command: c\n    client_addr: a:2\n" +
		"  - name: node3\n    command: c\n    client_addr: a:3\n"

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"Not YAML", "members: [", "failed to parse config file"},
		{"No Members", "run_dir: x\n", "at least one member"},
		{"Empty Name", "members:\n  - command: c\n    client_addr: a:1\n", "name cannot be empty"},
		{"Duplicate", member + "  - name: node1\n    command: c\n    client_addr: a:2\n", "duplicate name"},
		{"No Command", "members:\n  - name: n\n    client_addr: a:1\n", "command cannot be empty"},
		{"No Address", "members:\n  - name: n\n    command: c\n", "client_addr cannot be empty"},
		{"Log Format", "members:\n  - name: n\n    command: c\n    client_addr: a:1\n    log_format: xml\n", "unknown log_format"},
		{"Duration", member + "timeouts:\n  start: soon\n", "timeouts.start"},
		{"Negative Duration", member + "timeouts:\n  settle: -1s\n", "timeouts.settle cannot be negative"},
		{"Absent Policy", member + "retry:\n  absent: maybe\n", "retry.absent"},
		{"Negative Attempts", member + "retry:\n  delete_attempts: -1\n", "delete_attempts"},
		{"Pool Below Majority", three + "pool_size: 1\n", "pool_size 1 cannot start a majority of 3 members"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExampleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorumcheck.yaml")
	require.NoError(t, SaveTo(Example(), path))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Members, 3)
	assert.Equal(t, "node3", cfg.Members[2].Name)
	assert.Equal(t, "127.0.0.1:9183", cfg.Members[2].ClientAddr)
	assert.Contains(t, cfg.Members[0].ConfigFiles, "enable_keeper")

	opts, err := cfg.ClusterOptions()
	require.NoError(t, err)
	assert.Equal(t, keeper.DefaultDeleteAttempts, opts.DeleteAttempts)
	assert.Equal(t, keeper.AbsentIsSuccess, opts.Absent)
}

func TestConnectBackoff(t *testing.T) {
	cfg := Example()
	cfg.Retry.ConnectBackoff = "1s"

	opts, err := cfg.ClusterOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.Keeper.Backoff)
	assert.Equal(t, time.Second, opts.Keeper.Backoff().NextBackOff())
}
