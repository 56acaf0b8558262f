package quorum

import (
	"fmt"

	. "github.com/st3v3nmw/quorumcheck/internal/attest"
)

// Lines a member logs while waiting for the coordination service at startup.
const (
	CannotConnect = "Cannot connect to ZooKeeper (or Keeper) before internal Keeper start"
	Connected     = "Connected to ZooKeeper (or Keeper) before internal Keeper start"
)

// trio returns the first three members in configured order.
func trio(do *Do) (string, string, string) {
	members := do.Members()
	if len(members) < 3 {
		panic(fmt.Sprintf("keeper scenarios need 3 members, the cluster has %d", len(members)))
	}

	return members[0], members[1], members[2]
}

// blockedAtStart asserts that each member logged that it found no quorum
// when it booted. Members are checked concurrently.
func blockedAtStart(do *Do, names ...string) {
	checks := make([]func(), len(names))
	for i, name := range names {
		checks[i] = func() {
			do.Log(name).Eventually().Within(do.Config().ConnectTimeout).
				Returns().Text(Contains(CannotConnect)).
				Assert("A member started without a running quorum should log that it could not\n" +
					"reach the coordination service before its own keeper started.\n" +
					"Check that the other members were really stopped before it booted.")
		}
	}

	do.Concurrently(checks...)
}
