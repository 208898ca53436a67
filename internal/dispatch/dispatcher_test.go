package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tickwatch/internal/model"
)

func testMessage() model.AlertMessage {
	return model.AlertMessage{
		Timestamp:        time.Unix(1700000000, 0).UTC(),
		WindowSequenceID: 42,
		BatchID:          "batch-1",
		AnomalousFeatures: []model.FeatureScore{
			{Index: 3, Score: 0.97},
		},
	}
}

// scriptedServer answers each request with the next status in the script and
// repeats the last entry once the script is exhausted.
func scriptedServer(t *testing.T, script []int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		status := script[len(script)-1]
		if n <= len(script) {
			status = script[n-1]
		}
		w.WriteHeader(status)
	}))
}

func newTestDispatcher(endpoint string, maxRetries int) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(Options{
		Endpoint:       endpoint,
		MaxRetries:     maxRetries,
		Backoff:        Backoff{Base: 500 * time.Millisecond, Cap: 15 * time.Second},
		RequestTimeout: time.Second,
		Buffer:         4,
	}, nil, nil, nil)
	delays := &[]time.Duration{}
	d.sleep = func(_ context.Context, dur time.Duration) bool {
		*delays = append(*delays, dur)
		return true
	}
	return d, delays
}

func TestRetryThenDeliver(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedServer(t, []int{500, 502, 503, 200}, &calls)
	defer srv.Close()

	d, delays := newTestDispatcher(srv.URL, 5)
	res := d.Dispatch(context.Background(), testMessage())
	if res.Outcome != OutcomeDelivered {
		t.Fatalf("outcome %q, want delivered", res.Outcome)
	}
	if res.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4", res.Attempts)
	}
	if calls.Load() != 4 {
		t.Fatalf("server saw %d requests, want 4", calls.Load())
	}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(*delays), len(want))
	}
	for i, w := range want {
		if (*delays)[i] != w {
			t.Fatalf("delay %d = %v, want %v", i, (*delays)[i], w)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedServer(t, []int{500}, &calls)
	defer srv.Close()

	d, delays := newTestDispatcher(srv.URL, 3)
	res := d.Dispatch(context.Background(), testMessage())
	if res.Outcome != OutcomeDropped || res.Reason != "retries_exhausted" {
		t.Fatalf("got %+v, want dropped/retries_exhausted", res)
	}
	if res.Attempts != 4 {
		t.Fatalf("attempts = %d, want maxRetries+1 = 4", res.Attempts)
	}
	if len(*delays) != 3 {
		t.Fatalf("slept %d times, want 3", len(*delays))
	}
}

func TestNonRetryableDropsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedServer(t, []int{400}, &calls)
	defer srv.Close()

	d, delays := newTestDispatcher(srv.URL, 5)
	res := d.Dispatch(context.Background(), testMessage())
	if res.Outcome != OutcomeDropped || res.Reason != "non_retryable" {
		t.Fatalf("got %+v, want dropped/non_retryable", res)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	if calls.Load() != 1 {
		t.Fatalf("server saw %d requests, want 1", calls.Load())
	}
	if len(*delays) != 0 {
		t.Fatalf("slept %d times, want 0", len(*delays))
	}
}

func TestTooManyRequestsIsRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedServer(t, []int{429, 200}, &calls)
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, 5)
	res := d.Dispatch(context.Background(), testMessage())
	if res.Outcome != OutcomeDelivered || res.Attempts != 2 {
		t.Fatalf("got %+v, want delivered in 2 attempts", res)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedServer(t, []int{500}, &calls)
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, 5)
	d.sleep = func(context.Context, time.Duration) bool { return false }
	res := d.Dispatch(context.Background(), testMessage())
	if res.Outcome != OutcomeDropped || res.Reason != "cancelled" {
		t.Fatalf("got %+v, want dropped/cancelled", res)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
}

type recorderFunc func(model.AlertMessage, Result)

func (f recorderFunc) Record(msg model.AlertMessage, res Result) { f(msg, res) }

func TestSubmitDropsWhenBufferFull(t *testing.T) {
	var dropped atomic.Int32
	d := NewDispatcher(Options{
		Endpoint: "http://127.0.0.1:0",
		Buffer:   1,
	}, nil, nil, recorderFunc(func(_ model.AlertMessage, res Result) {
		if res.Outcome == OutcomeDropped && res.Reason == "buffer_full" {
			dropped.Add(1)
		}
	}))
	// No delivery loop running: the second submit finds the buffer full.
	if !d.Submit(testMessage()) {
		t.Fatalf("first submit rejected")
	}
	if d.Submit(testMessage()) {
		t.Fatalf("second submit accepted with a full buffer")
	}
	if dropped.Load() != 1 {
		t.Fatalf("recorder saw %d buffer_full drops, want 1", dropped.Load())
	}
}

func TestDeliveryLoopRecordsResult(t *testing.T) {
	var calls atomic.Int32
	srv := scriptedServer(t, []int{200}, &calls)
	defer srv.Close()

	results := make(chan Result, 1)
	d := NewDispatcher(Options{
		Endpoint:       srv.URL,
		MaxRetries:     2,
		RequestTimeout: time.Second,
		Buffer:         4,
	}, nil, nil, recorderFunc(func(_ model.AlertMessage, res Result) {
		results <- res
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Close()

	if !d.Submit(testMessage()) {
		t.Fatalf("submit rejected")
	}
	select {
	case res := <-results:
		if res.Outcome != OutcomeDelivered || res.Attempts != 1 {
			t.Fatalf("got %+v, want delivered in 1 attempt", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery result never recorded")
	}
}
