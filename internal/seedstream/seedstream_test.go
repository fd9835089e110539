package seedstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveControllerSeedsIsPureFunction(t *testing.T) {
	a := DeriveControllerSeeds(100, 3)
	b := DeriveControllerSeeds(100, 3)
	require.Len(t, a, 3)
	require.Len(t, b, 3)
	assert.Equal(t, a, b)
}

func TestDeriveAgentSeedsIndexedByAgent(t *testing.T) {
	controllerSeeds := DeriveControllerSeeds(42, 2)
	agentSeeds0 := DeriveAgentSeeds(controllerSeeds[0], 4)
	agentSeeds1 := DeriveAgentSeeds(controllerSeeds[1], 4)

	require.Len(t, agentSeeds0, 4)
	require.Len(t, agentSeeds1, 4)
	assert.NotEqual(t, agentSeeds0[0], agentSeeds1[0])
}

func TestDeriveControllerSeedsDependsOnRootSeed(t *testing.T) {
	a := DeriveControllerSeeds(1, 3)
	b := DeriveControllerSeeds(2, 3)
	assert.NotEqual(t, a[0], b[0])
}
