package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpec(t *testing.T) {
	c := Default()
	assert.Equal(t, "0.0.0.0:7364", c.P2PAddress)
	assert.Equal(t, 2, c.PBFTRateNumerator)
	assert.Equal(t, 3, c.PBFTRateDenominator)
	assert.Equal(t, 1, c.GossipK)
	assert.Equal(t, 2, c.GossipRatioNumerator)
	assert.Equal(t, 3, c.GossipRatioDenominator)
	assert.Equal(t, 5, c.BlockMinSeconds)
	assert.Equal(t, 20, c.BlockMaxSeconds)
	assert.Equal(t, 100, c.ChainCacheCapacity)
}

func TestBlockMinMaxDurations(t *testing.T) {
	c := Default()
	assert.Equal(t, "5s", c.BlockMin().String())
	assert.Equal(t, "20s", c.BlockMax().String())
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("1MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), n)
}
