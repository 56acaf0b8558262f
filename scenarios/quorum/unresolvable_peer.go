package quorum

import (
	. "github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
)

func UnresolvablePeer() *Scenario {
	var session keeper.Client
	var created bool

	return NewScenario("unresolvable-peer", "Quorum forms while a peer name cannot be resolved").
		Run(func(do *Do) {
			session, created = nil, false
			cfg := do.Config()
			node1, node2, node3 := trio(do)

			do.Stop(node1, node2, node3)

			for _, name := range []string{node1, node2} {
				n := do.ReplaceInConfig(name, cfg.MembershipFile, cfg.ReplacedPeer, cfg.UnresolvablePeer)
				Expect(name, "peer replacements in "+cfg.MembershipFile+" of", n,
					"The membership file should name "+cfg.ReplacedPeer+" as a peer.\n"+
						"Set scenarios.replaced_peer to a peer name that appears in it.",
					Not(Is(0)))
			}

			do.Settle()
			do.Start(node2, node1)

			blockedAtStart(do, node1, node2)

			session = do.Connect(node2)
			do.Create(session, "/test_non_existing", "data")
			created = true
		}).
		Cleanup(func(do *Do) {
			node1, node2, _ := trio(do)

			do.Stop(node1, node2)
			do.RestoreConfig(node1)
			do.RestoreConfig(node2)
		}).
		Cleanup(func(do *Do) {
			do.StartAll()
		}).
		Cleanup(func(do *Do) {
			if created {
				_, node2, _ := trio(do)
				do.DeleteWithRetry(node2, "/test_non_existing")
			}
		}).
		Cleanup(func(do *Do) {
			do.Release(session)
		})
}
