package attest

import "time"

// Config holds configuration options for the orchestrator.
type Config struct {
	// SettleInterval is the pause that lets peers notice a membership change.
	SettleInterval time.Duration

	// ConnectTimeout bounds opening a session from a scenario.
	ConnectTimeout time.Duration
	// ShortConnectTimeout bounds probing sessions that are expected to fail.
	ShortConnectTimeout time.Duration

	// DefaultRetryTimeout for Eventually and Consistently operations.
	DefaultRetryTimeout time.Duration
	// RetryPollInterval for Eventually and Consistently operations.
	RetryPollInterval time.Duration

	// MembershipFile is the config alias holding the peer list.
	MembershipFile string
	// ReplacedPeer is swapped for UnresolvablePeer in membership files.
	ReplacedPeer     string
	UnresolvablePeer string

	// MinorityHold is how long a lone member is watched for a false quorum.
	MinorityHold time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SettleInterval:      5 * time.Second,
		ConnectTimeout:      30 * time.Second,
		ShortConnectTimeout: 3 * time.Second,
		DefaultRetryTimeout: 10 * time.Second,
		RetryPollInterval:   100 * time.Millisecond,
		MembershipFile:      "enable_keeper",
		ReplacedPeer:        "node3",
		UnresolvablePeer:    "non_existing_node",
		MinorityHold:        5 * time.Second,
	}
}

// merge returns the defaults overridden by every non-zero field of config.
func merge(config *Config) *Config {
	merged := DefaultConfig()
	if config == nil {
		return merged
	}

	if config.SettleInterval != 0 {
		merged.SettleInterval = config.SettleInterval
	}

	if config.ConnectTimeout != 0 {
		merged.ConnectTimeout = config.ConnectTimeout
	}

	if config.ShortConnectTimeout != 0 {
		merged.ShortConnectTimeout = config.ShortConnectTimeout
	}

	if config.DefaultRetryTimeout != 0 {
		merged.DefaultRetryTimeout = config.DefaultRetryTimeout
	}

	if config.RetryPollInterval != 0 {
		merged.RetryPollInterval = config.RetryPollInterval
	}

	if config.MembershipFile != "" {
		merged.MembershipFile = config.MembershipFile
	}

	if config.ReplacedPeer != "" {
		merged.ReplacedPeer = config.ReplacedPeer
	}

	if config.UnresolvablePeer != "" {
		merged.UnresolvablePeer = config.UnresolvablePeer
	}

	if config.MinorityHold != 0 {
		merged.MinorityHold = config.MinorityHold
	}

	return merged
}
