package resourcemonitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/models"
)

func SystemStatsFixture(cores int, memGB float64) models.SystemStats {
	return models.SystemStats{CPUCoresLogical: cores, MemoryAvailableGB: memGB}
}

func TestSampleAndSnapshot(t *testing.T) {
	m := New("/")
	require.NoError(t, m.Sample(context.Background()))

	snap := m.Snapshot()
	assert.Greater(t, snap.CPUCoresLogical, 0)
	assert.Greater(t, snap.MemoryTotalGB, 0.0)
}

func TestPromisedCapacity(t *testing.T) {
	stats := SystemStatsFixture(4, 8)
	got := PromisedCapacity(stats, 2.5)
	assert.Equal(t, int(4*2.5*1000+8*100), got)
}

func TestDetectMaxGHzReturnsNonNegativeOnThisHost(t *testing.T) {
	got := DetectMaxGHz(context.Background())
	assert.GreaterOrEqual(t, got, 0.0)
}
