package pipeline

import (
	"tickwatch/internal/model"
)

// Assembler consumes ticks in arrival order and maintains a ring of the last
// N ticks. Ticks 1..N-1 after stream start produce no window (warm-up); once
// the ring is full, every tick emits exactly one window of the N most recent
// ticks (stride 1). Assembler is owned by the single consumer goroutine and
// is not safe for concurrent use.
type Assembler struct {
	size     int
	ring     []model.Tick
	observed uint64
	nextSeq  uint64
}

func NewAssembler(size int) *Assembler {
	if size < 1 {
		size = 1
	}
	return &Assembler{size: size, ring: make([]model.Tick, size), nextSeq: 1}
}

// Push records the tick and returns the completed window, if any. The
// returned window owns a fresh tick slice; later pushes do not mutate it.
func (a *Assembler) Push(t model.Tick) (model.Window, bool) {
	a.ring[a.observed%uint64(a.size)] = t
	a.observed++
	if a.observed < uint64(a.size) {
		return model.Window{}, false
	}
	ticks := make([]model.Tick, a.size)
	start := a.observed - uint64(a.size)
	for i := 0; i < a.size; i++ {
		ticks[i] = a.ring[(start+uint64(i))%uint64(a.size)]
	}
	w := model.Window{SequenceID: a.nextSeq, Ticks: ticks}
	a.nextSeq++
	return w, true
}

// Observed reports the total number of ticks consumed, including warm-up
// ticks that produced no window.
func (a *Assembler) Observed() uint64 {
	return a.observed
}

func (a *Assembler) Size() int {
	return a.size
}
