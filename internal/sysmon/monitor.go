package sysmon

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"tickwatch/internal/model"
)

// AcceleratorProber reports utilization of a scoring accelerator, if one is
// present on the host. The default deployment has none; the prober seam lets
// an accelerator-backed build plug its own implementation.
type AcceleratorProber interface {
	Available() bool
	Utilization() (pct, memPct float64, ok bool)
}

// NoAccelerator is the default prober for CPU-only hosts.
type NoAccelerator struct{}

func (NoAccelerator) Available() bool                       { return false }
func (NoAccelerator) Utilization() (float64, float64, bool) { return 0, 0, false }

// Monitor samples host utilization on demand. Snapshots are attached to
// inference log records; they are never persisted.
type Monitor struct {
	accel AcceleratorProber
}

func New(accel AcceleratorProber) *Monitor {
	if accel == nil {
		accel = NoAccelerator{}
	}
	return &Monitor{accel: accel}
}

func (m *Monitor) Snapshot(ctx context.Context) model.ResourceSnapshot {
	var snap model.ResourceSnapshot
	if m == nil {
		return snap
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPct = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPct = vm.UsedPercent
	}
	if util, memPct, ok := m.accel.Utilization(); ok {
		snap.AcceleratorPct = &util
		snap.AcceleratorMemPct = &memPct
	}
	return snap
}

func (m *Monitor) AcceleratorAvailable() bool {
	if m == nil {
		return false
	}
	return m.accel.Available()
}
