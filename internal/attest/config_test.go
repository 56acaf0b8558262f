package attest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	merged := merge(&Config{
		SettleInterval: time.Second,
		ReplacedPeer:   "node4",
	})

	defaults := DefaultConfig()
	assert.Equal(t, time.Second, merged.SettleInterval)
	assert.Equal(t, "node4", merged.ReplacedPeer)
	assert.Equal(t, defaults.ConnectTimeout, merged.ConnectTimeout)
	assert.Equal(t, defaults.UnresolvablePeer, merged.UnresolvablePeer)
	assert.Equal(t, defaults.MembershipFile, merged.MembershipFile)

	assert.Equal(t, defaults, merge(nil))
}
