package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/cluster"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/node"
)

const DefaultPath = "quorumcheck.yaml"

type Member struct {
	Name       string   `yaml:"name"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args,omitempty"`
	Env        []string `yaml:"env,omitempty"`
	Dir        string   `yaml:"dir,omitempty"`
	ClientAddr string   `yaml:"client_addr"`

	ServerLog    string `yaml:"server_log,omitempty"`
	LogFormat    string `yaml:"log_format,omitempty"`
	MessageField string `yaml:"message_field,omitempty"`

	ConfigFiles map[string]string `yaml:"config_files,omitempty"`
}

type Timeouts struct {
	Start          string `yaml:"start,omitempty"`
	Shutdown       string `yaml:"shutdown,omitempty"`
	RestartDelay   string `yaml:"restart_delay,omitempty"`
	Probe          string `yaml:"probe,omitempty"`
	Settle         string `yaml:"settle,omitempty"`
	Connect        string `yaml:"connect,omitempty"`
	ConnectAttempt string `yaml:"connect_attempt,omitempty"`
	ShortConnect   string `yaml:"short_connect,omitempty"`
	Session        string `yaml:"session,omitempty"`
	Retry          string `yaml:"retry,omitempty"`
	Poll           string `yaml:"poll,omitempty"`
}

type Retry struct {
	DeleteAttempts int    `yaml:"delete_attempts,omitempty"`
	DeleteBackoff  string `yaml:"delete_backoff,omitempty"`
	ConnectBackoff string `yaml:"connect_backoff,omitempty"`
	// Absent is "success" or "retry".
	Absent string `yaml:"absent,omitempty"`
}

type Scenarios struct {
	MembershipFile   string `yaml:"membership_file,omitempty"`
	ReplacedPeer     string `yaml:"replaced_peer,omitempty"`
	UnresolvablePeer string `yaml:"unresolvable_peer,omitempty"`
	MinorityHold     string `yaml:"minority_hold,omitempty"`
}

type Config struct {
	RunDir    string    `yaml:"run_dir,omitempty"`
	PoolSize  int       `yaml:"pool_size,omitempty"`
	Members   []Member  `yaml:"members"`
	Timeouts  Timeouts  `yaml:"timeouts,omitempty"`
	Retry     Retry     `yaml:"retry,omitempty"`
	Scenarios Scenarios `yaml:"scenarios,omitempty"`
}

func Load(path string) (*Config, error) {
	// Parse config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s not found\nRun 'quorumcheck init' to create one", path)
	}

	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.RunDir == "" {
		cfg.RunDir = ".quorumcheck"
	}

	// Validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func SaveTo(cfg *Config, path string) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, bytes, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks member identities and every duration and policy string.
func (c *Config) Validate() error {
	if len(c.Members) == 0 {
		return fmt.Errorf("at least one member is required")
	}

	seen := make(map[string]bool, len(c.Members))
	for i, m := range c.Members {
		if m.Name == "" {
			return fmt.Errorf("member %d: name cannot be empty", i+1)
		}
		if seen[m.Name] {
			return fmt.Errorf("member %s: duplicate name", m.Name)
		}
		seen[m.Name] = true

		if m.Command == "" {
			return fmt.Errorf("member %s: command cannot be empty", m.Name)
		}
		if m.ClientAddr == "" {
			return fmt.Errorf("member %s: client_addr cannot be empty", m.Name)
		}

		switch node.LogFormat(m.LogFormat) {
		case "", node.LogFormatText, node.LogFormatJSON:
		default:
			return fmt.Errorf("member %s: unknown log_format %q", m.Name, m.LogFormat)
		}
	}

	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size cannot be negative")
	}
	// A member only becomes ready once a majority runs, so the start pool
	// must be able to boot a majority at once.
	if majority := len(c.Members)/2 + 1; c.PoolSize > 0 && c.PoolSize < majority {
		return fmt.Errorf("pool_size %d cannot start a majority of %d members (need at least %d)",
			c.PoolSize, len(c.Members), majority)
	}
	if c.Retry.DeleteAttempts < 0 {
		return fmt.Errorf("retry.delete_attempts cannot be negative")
	}

	if _, err := keeper.ParseAbsentPolicy(c.Retry.Absent); err != nil {
		return fmt.Errorf("retry.absent: %w", err)
	}

	_, err := c.durations()
	return err
}

type durations struct {
	start, shutdown, restartDelay, probe time.Duration
	settle, connect, connectAttempt      time.Duration
	short, session, retry, poll          time.Duration
	deleteBackoff, connectBackoff        time.Duration
	minority                             time.Duration
}

func (c *Config) durations() (durations, error) {
	var d durations

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeouts.start", c.Timeouts.Start, &d.start},
		{"timeouts.shutdown", c.Timeouts.Shutdown, &d.shutdown},
		{"timeouts.restart_delay", c.Timeouts.RestartDelay, &d.restartDelay},
		{"timeouts.probe", c.Timeouts.Probe, &d.probe},
		{"timeouts.settle", c.Timeouts.Settle, &d.settle},
		{"timeouts.connect", c.Timeouts.Connect, &d.connect},
		{"timeouts.connect_attempt", c.Timeouts.ConnectAttempt, &d.connectAttempt},
		{"timeouts.short_connect", c.Timeouts.ShortConnect, &d.short},
		{"timeouts.session", c.Timeouts.Session, &d.session},
		{"timeouts.retry", c.Timeouts.Retry, &d.retry},
		{"timeouts.poll", c.Timeouts.Poll, &d.poll},
		{"retry.delete_backoff", c.Retry.DeleteBackoff, &d.deleteBackoff},
		{"retry.connect_backoff", c.Retry.ConnectBackoff, &d.connectBackoff},
		{"scenarios.minority_hold", c.Scenarios.MinorityHold, &d.minority},
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}

		v, err := time.ParseDuration(f.value)
		if err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
		if v < 0 {
			return d, fmt.Errorf("%s cannot be negative", f.name)
		}
		*f.dst = v
	}

	return d, nil
}

// Specs returns the member specs in configured order.
func (c *Config) Specs() []node.Spec {
	specs := make([]node.Spec, len(c.Members))
	for i, m := range c.Members {
		specs[i] = node.Spec{
			Name:         m.Name,
			Command:      m.Command,
			Args:         m.Args,
			Env:          m.Env,
			Dir:          m.Dir,
			ClientAddr:   m.ClientAddr,
			ServerLog:    m.ServerLog,
			LogFormat:    node.LogFormat(m.LogFormat),
			MessageField: m.MessageField,
			ConfigFiles:  m.ConfigFiles,
		}
	}

	return specs
}

// ClusterOptions returns fixture options. Unset values keep package defaults.
func (c *Config) ClusterOptions() (cluster.Options, error) {
	d, err := c.durations()
	if err != nil {
		return cluster.Options{}, err
	}

	absent, err := keeper.ParseAbsentPolicy(c.Retry.Absent)
	if err != nil {
		return cluster.Options{}, err
	}

	opts := cluster.Options{
		Node: node.Options{
			RunDir:          c.RunDir,
			StartTimeout:    d.start,
			ShutdownTimeout: d.shutdown,
			RestartDelay:    d.restartDelay,
			PollInterval:    d.poll,
		},
		Keeper: keeper.Options{
			ConnectTimeout: d.connect,
			AttemptTimeout: d.connectAttempt,
			SessionTimeout: d.session,
		},
		ProbeTimeout:   d.probe,
		DeleteAttempts: c.Retry.DeleteAttempts,
		DeleteBackoff:  d.deleteBackoff,
		Absent:         absent,
		PoolSize:       c.PoolSize,
	}
	if d.connectBackoff > 0 {
		opts.Keeper.Backoff = backoff.Constant(d.connectBackoff)
	}

	return opts, nil
}

// Harness returns the orchestrator configuration. Unset values are filled
// from attest.DefaultConfig by the suite.
func (c *Config) Harness() (*attest.Config, error) {
	d, err := c.durations()
	if err != nil {
		return nil, err
	}

	return &attest.Config{
		SettleInterval:      d.settle,
		ConnectTimeout:      d.connect,
		ShortConnectTimeout: d.short,
		DefaultRetryTimeout: d.retry,
		RetryPollInterval:   d.poll,
		MembershipFile:      c.Scenarios.MembershipFile,
		ReplacedPeer:        c.Scenarios.ReplacedPeer,
		UnresolvablePeer:    c.Scenarios.UnresolvablePeer,
		MinorityHold:        d.minority,
	}, nil
}

// Example returns a three-member configuration for a local keeper ensemble.
func Example() *Config {
	cfg := &Config{
		RunDir:   ".quorumcheck",
		PoolSize: cluster.DefaultPoolSize,
		Timeouts: Timeouts{
			Start:    "60s",
			Shutdown: "10s",
			Settle:   "5s",
			Connect:  "30s",
			Retry:    "10s",
		},
		Retry: Retry{
			DeleteAttempts: keeper.DefaultDeleteAttempts,
			DeleteBackoff:  "500ms",
			Absent:         keeper.AbsentIsSuccess.String(),
		},
		Scenarios: Scenarios{
			MembershipFile:   "enable_keeper",
			ReplacedPeer:     "node3",
			UnresolvablePeer: "non_existing_node",
			MinorityHold:     "5s",
		},
	}

	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("node%d", i)
		cfg.Members = append(cfg.Members, Member{
			Name:       name,
			Command:    "clickhouse-keeper",
			Args:       []string{"--config-file", fmt.Sprintf("configs/%s/keeper_config.xml", name)},
			ClientAddr: fmt.Sprintf("127.0.0.1:%d", 9180+i),
			ServerLog:  fmt.Sprintf(".quorumcheck/%s/clickhouse-keeper.log", name),
			ConfigFiles: map[string]string{
				"enable_keeper": fmt.Sprintf("configs/%s/enable_keeper%d.xml", name, i),
			},
		})
	}

	return cfg
}
