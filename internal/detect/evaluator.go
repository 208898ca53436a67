package detect

import (
	"tickwatch/internal/model"
)

// Evaluate applies the threshold policy to a scored batch. The bound is
// inclusive: a feature scoring exactly threshold is anomalous. One message
// per window with a non-empty anomaly set; windows are never merged. The
// function carries no state between invocations.
//
// Rows beyond the window count are ignored; the invoker rejects mismatched
// matrices before they reach here.
func Evaluate(batch model.Batch, scores model.ScoreMatrix, threshold float64) []model.AlertMessage {
	var out []model.AlertMessage
	for i, w := range batch.Windows {
		if i >= len(scores.PerWindow) {
			break
		}
		var anomalous []model.FeatureScore
		for idx, s := range scores.PerWindow[i] {
			if s >= threshold {
				anomalous = append(anomalous, model.FeatureScore{Index: idx, Score: s})
			}
		}
		if len(anomalous) == 0 {
			continue
		}
		out = append(out, model.AlertMessage{
			Timestamp:         w.Timestamp(),
			WindowSequenceID:  w.SequenceID,
			BatchID:           batch.ID,
			AnomalousFeatures: anomalous,
		})
	}
	return out
}
