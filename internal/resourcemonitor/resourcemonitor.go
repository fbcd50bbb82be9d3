// Package resourcemonitor samples live CPU/RAM/disk usage on a fixed
// cadence over gopsutil and publishes a last-known immutable snapshot.
// It reports raw host capacity, not capacity-minus-reservations — no
// database tracks per-container allocation deltas here.
package resourcemonitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"

	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/models"
)

var zlog = logger.New("resourcemonitor")

// Monitor samples host resources on a ticker and keeps only the most
// recent snapshot, matching the source's "no history" sampling model.
type Monitor struct {
	diskPath string

	mu       sync.RWMutex
	snapshot models.SystemStats

	stopCh chan struct{}
}

// New builds a Monitor that reports disk usage for diskPath (typically
// "/").
func New(diskPath string) *Monitor {
	return &Monitor{diskPath: diskPath}
}

// Snapshot returns the most recently sampled stats. Safe for
// concurrent use.
func (m *Monitor) Snapshot() models.SystemStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Sample immediately refreshes the snapshot, blocking on the gopsutil
// calls. Called once at startup and then once per tick by Start.
func (m *Monitor) Sample(ctx context.Context) error {
	stats, err := sample(ctx, m.diskPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshot = stats
	m.mu.Unlock()
	return nil
}

func sample(ctx context.Context, diskPath string) (models.SystemStats, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return models.SystemStats{}, err
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return models.SystemStats{}, err
	}
	var cpuUsed float64
	if len(percents) > 0 {
		cpuUsed = percents[0]
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.SystemStats{}, err
	}

	diskStat, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return models.SystemStats{}, err
	}

	const bytesPerGB = 1024 * 1024 * 1024
	return models.SystemStats{
		CPUCoresLogical:   cores,
		CPUUsedPercent:    cpuUsed,
		MemoryTotalGB:     float64(vmStat.Total) / bytesPerGB,
		MemoryAvailableGB: float64(vmStat.Available) / bytesPerGB,
		DiskTotalGB:       float64(diskStat.Total) / bytesPerGB,
		DiskAvailableGB:   float64(diskStat.Free) / bytesPerGB,
	}, nil
}

// Start samples once synchronously, then launches a background loop
// sampling every interval until Stop is called.
func (m *Monitor) Start(interval time.Duration) error {
	if err := m.Sample(context.Background()); err != nil {
		return err
	}

	m.stopCh = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if err := m.Sample(context.Background()); err != nil {
					zlog.Sugar().Warnf("failed to sample resources: %v", err)
				}
			}
		}
	}()
	return nil
}

// Stop ends the background sampling loop.
func (m *Monitor) Stop() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

// PromisedCapacity derives the advertised capacity score from live
// hardware, per the CLI's documented precedence: the derived figure
// always wins over an operator-supplied flag.
func PromisedCapacity(stats models.SystemStats, maxGhz float64) int {
	return int(float64(stats.CPUCoresLogical)*maxGhz*1000 + stats.MemoryAvailableGB*100)
}

// DetectMaxGHz reports the fastest logical CPU's clock speed, in GHz,
// for the promised_capacity formula. Best-effort: a platform gopsutil
// can't read CPU info on (some containers) gets 0, which zeroes out
// the CPU term of the capacity score rather than failing startup.
func DetectMaxGHz(ctx context.Context) float64 {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil || len(infos) == 0 {
		return 0
	}
	var maxMhz float64
	for _, info := range infos {
		if info.Mhz > maxMhz {
			maxMhz = info.Mhz
		}
	}
	return maxMhz / 1000
}
