package quorum

import "github.com/st3v3nmw/quorumcheck/internal/registry"

func init() {
	group := &registry.Group{
		Name: "Three-member keeper ensemble",
		Summary: `Stops, reconfigures and restarts members of a three-member keeper ensemble
and checks that two live members form a quorum, that a lone member never
believes it has one, and that a restarted follower rejoins without blocking.`,
		MinMembers: 3,
	}

	group.AddScenario("start-offline", "Two members regain quorum while the third stays down",
		"Stop all members, start two, and write through one of them.", StartOffline)
	group.AddScenario("unresolvable-peer", "Quorum forms while a peer name cannot be resolved",
		"Point two members at a peer that does not exist, start them, and write through one.", UnresolvablePeer)
	group.AddScenario("restart-follower", "A restarted follower rejoins the running quorum",
		"Restart one member while the other two keep serving.", RestartFollower)
	group.AddScenario("minority-start", "A lone member never reports a quorum",
		"Start each member on its own and check it neither connects nor serves sessions.", MinorityStart)

	registry.Register("keeper", group)
}
