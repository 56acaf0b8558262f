package quorum

import (
	. "github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
)

func StartOffline() *Scenario {
	var first, second keeper.Client
	var createdC bool

	return NewScenario("start-offline", "Two members regain quorum while the third stays down").
		Run(func(do *Do) {
			first, second, createdC = nil, nil, false
			node1, node2, node3 := trio(do)

			first = do.Connect(node1)
			do.Create(first, "/test_alive", "aaaa")

			do.Stop(node1, node2, node3)
			do.Settle()
			do.Start(node2, node3)

			blockedAtStart(do, node2, node3)

			second = do.Connect(node2)
			Expect(node2, "data at /test_alive on", do.Get(second, "/test_alive"),
				"Data written before all members stopped should survive the restart of two of them.",
				Is("aaaa"))
			do.Create(second, "/c", "data")
			createdC = true
		}).
		Cleanup(func(do *Do) {
			do.StartAll()
		}).
		Cleanup(func(do *Do) {
			node1, _, _ := trio(do)
			do.DeleteWithRetry(node1, "/test_alive")
		}).
		Cleanup(func(do *Do) {
			if createdC {
				_, node2, _ := trio(do)
				do.DeleteWithRetry(node2, "/c")
			}
		}).
		Cleanup(func(do *Do) {
			do.Release(first)
			do.Release(second)
		})
}
