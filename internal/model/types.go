package model

import "time"

type FlushReason string

const (
	FlushSizeReached FlushReason = "size_reached"
	FlushTimeout     FlushReason = "timeout"
)

// Tick is one timestamped observation of all features. Features has a fixed
// length (the configured feature count); ticks that violate this are rejected
// at the ingestion boundary and never enter the pipeline.
type Tick struct {
	Timestamp time.Time `json:"timestamp"`
	Features  []float64 `json:"features"`
}

// Window is N consecutive ticks treated as one inference unit. SequenceID is
// monotonically increasing, starting at 1 for the first emitted window.
type Window struct {
	SequenceID uint64 `json:"sequence_id"`
	Ticks      []Tick `json:"ticks"`
}

// Timestamp returns the timestamp of the most recent tick in the window.
func (w Window) Timestamp() time.Time {
	if len(w.Ticks) == 0 {
		return time.Time{}
	}
	return w.Ticks[len(w.Ticks)-1].Timestamp
}

// Batch is a group of windows submitted together to the scorer.
// Invariant: 1 <= len(Windows) <= configured batch size; empty batches are
// never flushed.
type Batch struct {
	ID          string      `json:"id"`
	Windows     []Window    `json:"windows"`
	OpenedAt    time.Time   `json:"opened_at"`
	FlushReason FlushReason `json:"flush_reason"`
}

// ScoreMatrix holds one per-feature score row per window of the batch it was
// produced from, order-preserving.
type ScoreMatrix struct {
	BatchID   string      `json:"batch_id"`
	PerWindow [][]float64 `json:"per_window"`
}

type FeatureScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// AlertMessage is created only when at least one feature score meets the
// threshold. One message per window, never merged across windows.
type AlertMessage struct {
	Timestamp         time.Time      `json:"timestamp"`
	WindowSequenceID  uint64         `json:"window_sequence_id"`
	BatchID           string         `json:"batch_id"`
	AnomalousFeatures []FeatureScore `json:"anomalous_features"`
}

// ResourceSnapshot is attached to inference log records; it is not persisted.
type ResourceSnapshot struct {
	CPUPct            float64  `json:"cpu_pct"`
	MemPct            float64  `json:"mem_pct"`
	AcceleratorPct    *float64 `json:"accelerator_pct,omitempty"`
	AcceleratorMemPct *float64 `json:"accelerator_mem_pct,omitempty"`
}
