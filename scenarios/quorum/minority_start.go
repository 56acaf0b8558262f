package quorum

import (
	. "github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
)

// MinorityStart boots each member alone. One member of three is never a
// majority, so none may claim a quorum or hand out a session.
func MinorityStart() *Scenario {
	return NewScenario("minority-start", "A lone member never reports a quorum").
		Run(func(do *Do) {
			cfg := do.Config()
			node1, node2, node3 := trio(do)

			for _, name := range []string{node1, node2, node3} {
				do.StopAll()
				do.Settle()

				do.Mark(name)
				do.Spawn(name)

				do.Log(name).Consistently().For(cfg.MinorityHold).
					Returns().Text(Not(Contains(Connected))).
					Assert("A member started alone must not report a connection before its keeper starts.\n" +
						"One member of three is not a majority.")

				_, err := do.TryConnect(name, cfg.ShortConnectTimeout)
				do.ExpectError(name, err, keeper.ErrConnectionTimeout,
					"A member started alone must not grant client sessions.")
			}
		}).
		Cleanup(func(do *Do) {
			do.StartAll()
		})
}
