package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickwatch/internal/model"
	"tickwatch/internal/obs"
	"tickwatch/internal/sysmon"
)

// ErrSaturated is returned by Submit when every worker is busy and the
// handoff buffer is full. The batch is dropped: stale sensor data has no
// value once superseded by the next tick, so batches are never retried.
var ErrSaturated = errors.New("inference pool saturated")

// ScoringError carries the context logged when a batch fails to score.
type ScoringError struct {
	BatchID string
	Windows int
	Timeout bool
	Cause   error
}

func (e *ScoringError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("scoring batch %s (%d windows) timed out: %v", e.BatchID, e.Windows, e.Cause)
	}
	return fmt.Sprintf("scoring batch %s (%d windows) failed: %v", e.BatchID, e.Windows, e.Cause)
}

func (e *ScoringError) Unwrap() error {
	return e.Cause
}

// ScoresFunc receives each successfully scored batch. Completions may arrive
// in any order relative to submission; every call carries its own batch, so
// downstream consumers must not assume completion order.
type ScoresFunc func(batch model.Batch, scores model.ScoreMatrix)

// Invoker offloads scorer calls to a bounded worker pool so a slow scorer
// never blocks the windowing task from building the next batch.
type Invoker struct {
	scorer   Scorer
	timeout  time.Duration
	tasks    chan model.Batch
	onScores ScoresFunc
	monitor  *sysmon.Monitor
	logger   *slog.Logger
	metrics  *obs.Metrics

	workers   int
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewInvoker(scorer Scorer, workers int, timeout time.Duration, onScores ScoresFunc, monitor *sysmon.Monitor, logger *slog.Logger, metrics *obs.Metrics) *Invoker {
	if workers < 1 {
		workers = 1
	}
	return &Invoker{
		scorer:   scorer,
		timeout:  timeout,
		tasks:    make(chan model.Batch, workers),
		onScores: onScores,
		monitor:  monitor,
		logger:   logger,
		metrics:  metrics,
		workers:  workers,
	}
}

func (inv *Invoker) Start(ctx context.Context) {
	for i := 0; i < inv.workers; i++ {
		inv.wg.Add(1)
		go func() {
			defer inv.wg.Done()
			for b := range inv.tasks {
				inv.run(ctx, b)
			}
		}()
	}
}

// Submit hands batch ownership to the pool. It never blocks: if the pool is
// saturated it fails fast and the caller drops the batch.
func (inv *Invoker) Submit(batch model.Batch) error {
	select {
	case inv.tasks <- batch:
		return nil
	default:
		return ErrSaturated
	}
}

// Close stops accepting batches and waits for in-flight invocations.
func (inv *Invoker) Close() {
	inv.closeOnce.Do(func() { close(inv.tasks) })
	inv.wg.Wait()
}

func (inv *Invoker) run(ctx context.Context, batch model.Batch) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if inv.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, inv.timeout)
	}
	start := time.Now()
	scores, err := inv.scorer.Score(callCtx, batch)
	cancel()

	if err == nil && len(scores.PerWindow) != len(batch.Windows) {
		err = fmt.Errorf("scorer returned %d rows for %d windows", len(scores.PerWindow), len(batch.Windows))
	}
	if err != nil {
		serr := &ScoringError{
			BatchID: batch.ID,
			Windows: len(batch.Windows),
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Cause:   err,
		}
		kind := "scorer_error"
		if serr.Timeout {
			kind = "timeout"
		}
		inv.metrics.ScoringFailure(kind)
		if inv.logger != nil {
			snap := inv.monitor.Snapshot(context.Background())
			inv.logger.Error("batch dropped",
				"batch_id", serr.BatchID,
				"windows", serr.Windows,
				"timeout", serr.Timeout,
				"cpu_pct", snap.CPUPct,
				"mem_pct", snap.MemPct,
				"accelerator_pct", snap.AcceleratorPct,
				"err", serr.Cause,
			)
		}
		return
	}

	inv.metrics.ScoringDuration(time.Since(start).Seconds())
	if inv.logger != nil {
		snap := inv.monitor.Snapshot(context.Background())
		inv.logger.Debug("batch scored",
			"batch_id", batch.ID,
			"windows", len(batch.Windows),
			"elapsed", time.Since(start),
			"cpu_pct", snap.CPUPct,
			"mem_pct", snap.MemPct,
		)
	}
	if inv.onScores != nil {
		inv.onScores(batch, scores)
	}
}
