package health

import (
	"sync/atomic"
)

// State is the process-wide readiness of the scoring pipeline.
//
//	Loading  — scorer capability not yet acquired; traffic gated.
//	Ready    — scorer acquired, preferred accelerator present.
//	Degraded — scorer acquired but serving on CPU; readiness still reports
//	           available, the distinction is diagnostic only.
//	Failed   — scorer acquisition errored; terminal until process restart.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Probe holds the readiness state machine. Transitions are atomic and
// one-way: only Loading may move to Ready, Degraded or Failed. Reset returns
// to Loading and models an external restart.
type Probe struct {
	state atomic.Int32
}

func NewProbe() *Probe {
	return &Probe{}
}

func (p *Probe) State() State {
	return State(p.state.Load())
}

// SetReady, SetDegraded and SetFailed each succeed only from Loading; they
// report whether the transition was taken.
func (p *Probe) SetReady() bool    { return p.transition(StateReady) }
func (p *Probe) SetDegraded() bool { return p.transition(StateDegraded) }
func (p *Probe) SetFailed() bool   { return p.transition(StateFailed) }

func (p *Probe) transition(to State) bool {
	return p.state.CompareAndSwap(int32(StateLoading), int32(to))
}

// Reset returns the machine to Loading.
func (p *Probe) Reset() {
	p.state.Store(int32(StateLoading))
}

// Ready reports whether the readiness endpoint should answer available:
// true for Ready and Degraded, false for Loading and Failed.
func (p *Probe) Ready() bool {
	s := p.State()
	return s == StateReady || s == StateDegraded
}

// AcceptsIngest reports whether /data-enqueue should accept ticks. While
// Loading or Failed, scoring cannot proceed, so ticks are rejected rather
// than buffered and silently dropped.
func (p *Probe) AcceptsIngest() bool {
	return p.Ready()
}
