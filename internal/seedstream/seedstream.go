// Package seedstream derives the deterministic per-controller and
// per-agent-process seed tables from a simulation's root seed, per the
// data model's "agent-process seed" invariant: a pure function of
// (root_seed, sim_nodes_order, num_agentprocs[node], agent_index).
package seedstream

import "github.com/tenzoki/matrix/internal/mt19937"

// DeriveControllerSeeds draws numControllers uint32 values from the root
// seed's MT19937 stream; sim_nodes' ordering determines which value
// belongs to which node (index i of sim_nodes takes seeds[i]).
func DeriveControllerSeeds(rootSeed uint32, numControllers int) []uint32 {
	return mt19937.Stream(rootSeed, numControllers)
}

// DeriveAgentSeeds draws numAgentProcs further uint32 values from this
// node's controller seed. agentIndex indexes directly into the
// returned slice.
func DeriveAgentSeeds(controllerSeed uint32, numAgentProcs int) []uint32 {
	return mt19937.Stream(controllerSeed, numAgentProcs)
}
