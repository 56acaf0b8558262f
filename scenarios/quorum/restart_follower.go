package quorum

import (
	. "github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
)

func RestartFollower() *Scenario {
	var session keeper.Client

	return NewScenario("restart-follower", "A restarted follower rejoins the running quorum").
		Run(func(do *Do) {
			session = nil
			node1, _, node3 := trio(do)

			session = do.Connect(node1)
			do.Create(session, "/test_restart", "aaaa")

			do.Restart(node3)
			do.WaitConnected(node3)

			do.Log(node3).Eventually().
				Returns().Text(Contains(Connected)).
				Assert("A member restarted next to a running quorum should connect to it\n" +
					"before its own keeper starts.")

			do.Log(node3).
				Returns().Text(Not(Contains(CannotConnect))).
				Assert("A member restarted next to a running quorum should never be blocked at startup.")

			do.Delete(session, "/test_restart")
		}).
		Cleanup(func(do *Do) {
			do.Release(session)
		})
}
