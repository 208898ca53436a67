package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tickwatch/internal/model"
	"tickwatch/internal/obs"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeDropped   Outcome = "dropped"
)

type Result struct {
	Outcome  Outcome
	Attempts int
	Reason   string
}

// DispatchError is one failed delivery attempt. Network failures, 5xx and
// 429 responses, and per-call timeouts are retryable; any other 4xx is not.
type DispatchError struct {
	Status    int
	Retryable bool
	Cause     error
}

func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dispatch failed: %v", e.Cause)
	}
	return fmt.Sprintf("dispatch failed: downstream returned HTTP %d", e.Status)
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// Recorder receives the final result of every dispatched message.
type Recorder interface {
	Record(msg model.AlertMessage, res Result)
}

type Options struct {
	Endpoint       string
	MaxRetries     int
	Backoff        Backoff
	RequestTimeout time.Duration
	Buffer         int
}

// Dispatcher delivers alert messages to the downstream endpoint with
// exponential-backoff retry. It runs on its own goroutine, decoupled from
// the scoring path: a slow or retrying downstream never backpressures
// ingestion, and delivery is at-most-once with a bounded retry budget.
type Dispatcher struct {
	endpoint   string
	maxRetries int
	backoff    Backoff
	client     *http.Client
	in         chan model.AlertMessage

	// sleep waits between attempts; injectable so retry tests run without
	// real delays. It returns false when the context is cancelled.
	sleep func(ctx context.Context, d time.Duration) bool

	logger   *slog.Logger
	metrics  *obs.Metrics
	recorder Recorder

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(opts Options, logger *slog.Logger, metrics *obs.Metrics, recorder Recorder) *Dispatcher {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Dispatcher{
		endpoint:   opts.Endpoint,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		client:     &http.Client{Timeout: opts.RequestTimeout},
		in:         make(chan model.AlertMessage, opts.Buffer),
		sleep:      sleepCtx,
		logger:     logger,
		metrics:    metrics,
		recorder:   recorder,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case msg, ok := <-d.in:
				if !ok {
					return
				}
				d.finish(msg, d.Dispatch(ctx, msg))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Submit queues a message for delivery without blocking the caller. A full
// buffer drops the message: alerting is best-effort.
func (d *Dispatcher) Submit(msg model.AlertMessage) bool {
	select {
	case d.in <- msg:
		return true
	default:
		d.metrics.AlertOutcome(string(OutcomeDropped))
		if d.logger != nil {
			d.logger.Warn("alert dropped, dispatch buffer full",
				"window_sequence_id", msg.WindowSequenceID,
				"batch_id", msg.BatchID,
			)
		}
		if d.recorder != nil {
			d.recorder.Record(msg, Result{Outcome: OutcomeDropped, Reason: "buffer_full"})
		}
		return false
	}
}

// Close stops accepting messages and waits for the delivery loop.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.in) })
	d.wg.Wait()
}

// Dispatch delivers one message synchronously, applying the retry policy:
// up to maxRetries additional attempts after the first, delay before retry k
// of base*2^(k-1) capped, jittered if configured.
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.AlertMessage) Result {
	attempts := 0
	for attempt := 1; attempt <= d.maxRetries+1; attempt++ {
		attempts = attempt
		err := d.send(ctx, msg)
		if err == nil {
			return Result{Outcome: OutcomeDelivered, Attempts: attempts}
		}
		var derr *DispatchError
		retryable := true
		if e, ok := err.(*DispatchError); ok {
			derr = e
			retryable = e.Retryable
		}
		if !retryable {
			if d.logger != nil {
				d.logger.Error("alert dropped, non-retryable response",
					"window_sequence_id", msg.WindowSequenceID,
					"batch_id", msg.BatchID,
					"status", derr.Status,
				)
			}
			return Result{Outcome: OutcomeDropped, Attempts: attempts, Reason: "non_retryable"}
		}
		if attempt > d.maxRetries {
			break
		}
		if d.logger != nil {
			d.logger.Warn("alert delivery failed, retrying",
				"window_sequence_id", msg.WindowSequenceID,
				"batch_id", msg.BatchID,
				"attempt", attempt,
				"err", err,
			)
		}
		if !d.sleep(ctx, d.backoff.Delay(attempt)) {
			return Result{Outcome: OutcomeDropped, Attempts: attempts, Reason: "cancelled"}
		}
	}
	if d.logger != nil {
		d.logger.Error("alert dropped, retries exhausted",
			"window_sequence_id", msg.WindowSequenceID,
			"batch_id", msg.BatchID,
			"attempts", attempts,
		)
	}
	return Result{Outcome: OutcomeDropped, Attempts: attempts, Reason: "retries_exhausted"}
}

func (d *Dispatcher) send(ctx context.Context, msg model.AlertMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &DispatchError{Retryable: false, Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Retryable: false, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return &DispatchError{Retryable: true, Cause: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &DispatchError{Status: resp.StatusCode, Retryable: true}
	default:
		return &DispatchError{Status: resp.StatusCode, Retryable: false}
	}
}

func (d *Dispatcher) finish(msg model.AlertMessage, res Result) {
	d.metrics.AlertOutcome(string(res.Outcome))
	if res.Outcome == OutcomeDelivered && d.logger != nil {
		d.logger.Info("alert delivered",
			"window_sequence_id", msg.WindowSequenceID,
			"batch_id", msg.BatchID,
			"attempts", res.Attempts,
			"features", len(msg.AnomalousFeatures),
		)
	}
	if d.recorder != nil {
		d.recorder.Record(msg, res)
	}
}
