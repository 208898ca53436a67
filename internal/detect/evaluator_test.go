package detect

import (
	"testing"
	"time"

	"tickwatch/internal/model"
)

func scoredBatch(rows [][]float64) (model.Batch, model.ScoreMatrix) {
	batch := model.Batch{ID: "batch-1"}
	for i := range rows {
		batch.Windows = append(batch.Windows, model.Window{
			SequenceID: uint64(i + 1),
			Ticks: []model.Tick{
				{Timestamp: time.Unix(int64(1700000000+i), 0).UTC(), Features: make([]float64, len(rows[i]))},
			},
		})
	}
	return batch, model.ScoreMatrix{BatchID: batch.ID, PerWindow: rows}
}

func TestThresholdIsInclusive(t *testing.T) {
	batch, scores := scoredBatch([][]float64{{0.9, 0.8999999, 0.95}})
	msgs := Evaluate(batch, scores, 0.9)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	got := msgs[0].AnomalousFeatures
	if len(got) != 2 {
		t.Fatalf("got %d anomalous features, want 2", len(got))
	}
	if got[0].Index != 0 || got[0].Score != 0.9 {
		t.Fatalf("exact-threshold score not flagged: %+v", got[0])
	}
	if got[1].Index != 2 || got[1].Score != 0.95 {
		t.Fatalf("unexpected second feature: %+v", got[1])
	}
}

func TestQuietWindowsProduceNoMessage(t *testing.T) {
	batch, scores := scoredBatch([][]float64{{0.1, 0.2}, {0, 0.89}})
	if msgs := Evaluate(batch, scores, 0.9); len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0", len(msgs))
	}
}

func TestWindowsNeverMerged(t *testing.T) {
	batch, scores := scoredBatch([][]float64{{0.95, 0}, {0, 0}, {0, 0.91}})
	msgs := Evaluate(batch, scores, 0.9)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].WindowSequenceID != 1 || msgs[1].WindowSequenceID != 3 {
		t.Fatalf("messages for windows %d and %d, want 1 and 3",
			msgs[0].WindowSequenceID, msgs[1].WindowSequenceID)
	}
	if msgs[0].BatchID != "batch-1" || msgs[1].BatchID != "batch-1" {
		t.Fatalf("batch id not carried through")
	}
}

func TestMessageCarriesWindowTimestamp(t *testing.T) {
	batch, scores := scoredBatch([][]float64{{1.0}})
	msgs := Evaluate(batch, scores, 0.9)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if want := batch.Windows[0].Timestamp(); !msgs[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want %v", msgs[0].Timestamp, want)
	}
}

func TestExcessRowsIgnored(t *testing.T) {
	batch, scores := scoredBatch([][]float64{{0.95}})
	scores.PerWindow = append(scores.PerWindow, []float64{1.0})
	msgs := Evaluate(batch, scores, 0.9)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}
