package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tickwatch/internal/model"
	"tickwatch/internal/obs"
	"tickwatch/internal/queue"
)

// BatchSink receives flushed batches. Submit must not block the consumer
// loop beyond a bounded handoff; a saturated sink returns an error and the
// batch is dropped.
type BatchSink interface {
	Submit(batch model.Batch) error
}

// Pipeline runs the single sequential dequeue → window → batch task. It is
// the only consumer of the queue and the only writer of the assembler and
// scheduler; parallelizing it would reorder the sliding window.
type Pipeline struct {
	queue   *queue.Queue
	asm     *Assembler
	sched   *Scheduler
	sink    BatchSink
	logger  *slog.Logger
	metrics *obs.Metrics

	// Mirrors of assembler/scheduler state, readable from other goroutines
	// (the ops API) without touching the single-writer structures.
	observed atomic.Uint64
	pending  atomic.Int64
}

func New(q *queue.Queue, windowSize, batchSize int, batchTimeout time.Duration, sink BatchSink, logger *slog.Logger, metrics *obs.Metrics) *Pipeline {
	return &Pipeline{
		queue:   q,
		asm:     NewAssembler(windowSize),
		sched:   NewScheduler(batchSize, batchTimeout),
		sink:    sink,
		logger:  logger,
		metrics: metrics,
	}
}

// Run consumes until the context is cancelled or the queue is closed and
// drained. On shutdown a non-empty open batch is flushed so buffered windows
// are not silently lost.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue.C():
			if !ok {
				p.drain()
				return
			}
			p.consume(t)
		case <-p.sched.TimerC():
			if b, ok := p.sched.FlushTimeout(); ok {
				p.dispatch(b)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) consume(t model.Tick) {
	w, ok := p.asm.Push(t)
	p.observed.Add(1)
	if !ok {
		return
	}
	p.metrics.WindowEmitted()
	if b, full := p.sched.Append(w); full {
		p.dispatch(b)
	} else {
		p.pending.Store(int64(p.sched.Pending()))
	}
}

func (p *Pipeline) dispatch(b model.Batch) {
	p.pending.Store(0)
	p.metrics.BatchFlushed(string(b.FlushReason))
	if err := p.sink.Submit(b); err != nil {
		p.metrics.ScoringFailure("saturated")
		if p.logger != nil {
			p.logger.Error("batch dropped, worker pool saturated",
				"batch_id", b.ID,
				"windows", len(b.Windows),
				"flush_reason", b.FlushReason,
				"err", err,
			)
		}
	}
}

func (p *Pipeline) drain() {
	if b, ok := p.sched.FlushTimeout(); ok {
		p.dispatch(b)
	}
}

// Observed reports the total ticks consumed, including warm-up ticks.
func (p *Pipeline) Observed() uint64 {
	return p.observed.Load()
}

// Pending reports windows buffered in the open batch.
func (p *Pipeline) Pending() int {
	return int(p.pending.Load())
}
