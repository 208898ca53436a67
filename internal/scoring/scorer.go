package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"tickwatch/internal/model"
)

// Scorer turns a batch of windows into one per-feature score row per window.
// The model behind it is an opaque capability; any model family can sit here
// without touching pipeline logic.
type Scorer interface {
	Score(ctx context.Context, batch model.Batch) (model.ScoreMatrix, error)
}

// LoadError means the scorer capability failed to initialize at startup. It
// drives readiness to Failed; whether it is fatal to the process is a
// configuration choice.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("scorer load failed: %v", e.Cause)
	}
	return fmt.Sprintf("scorer load failed (%s): %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// BoundaryModel scores each feature by its normalized distance from a
// per-feature center. The score is d/(1+d) with d = |x-center|/scale, which
// maps deviations monotonically into [0,1): a feature sitting on its center
// scores 0, and the score approaches 1 as the deviation grows.
type BoundaryModel struct {
	center []float64
	scale  []float64
}

type modelFile struct {
	FeatureCount int       `json:"feature_count"`
	Center       []float64 `json:"center"`
	Scale        []float64 `json:"scale"`
}

// Load builds the scorer. An empty path yields a unit model (center 0,
// scale 1 for every feature), which is useful for smoke deployments; a
// configured path must decode to vectors of exactly featureCount entries.
func Load(path string, featureCount int) (*BoundaryModel, error) {
	if featureCount < 1 {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("feature count must be >= 1, got %d", featureCount)}
	}
	if path == "" {
		center := make([]float64, featureCount)
		scale := make([]float64, featureCount)
		for i := range scale {
			scale[i] = 1
		}
		return &BoundaryModel{center: center, scale: scale}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	if mf.FeatureCount != featureCount {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("model is for %d features, pipeline configured for %d", mf.FeatureCount, featureCount)}
	}
	if len(mf.Center) != featureCount || len(mf.Scale) != featureCount {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("center/scale length %d/%d, want %d", len(mf.Center), len(mf.Scale), featureCount)}
	}
	for i, s := range mf.Scale {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, &LoadError{Path: path, Cause: fmt.Errorf("scale[%d] = %v is not a positive finite number", i, s)}
		}
	}
	return &BoundaryModel{center: mf.Center, scale: mf.Scale}, nil
}

func (m *BoundaryModel) FeatureCount() int {
	return len(m.center)
}

// Score produces one row per window, order-preserving. Each feature's score
// is taken over the worst (largest) deviation across the window's ticks.
func (m *BoundaryModel) Score(ctx context.Context, batch model.Batch) (model.ScoreMatrix, error) {
	rows := make([][]float64, 0, len(batch.Windows))
	for _, w := range batch.Windows {
		if err := ctx.Err(); err != nil {
			return model.ScoreMatrix{}, err
		}
		row := make([]float64, len(m.center))
		for _, t := range w.Ticks {
			if len(t.Features) != len(m.center) {
				return model.ScoreMatrix{}, fmt.Errorf("tick has %d features, model expects %d", len(t.Features), len(m.center))
			}
			for i, x := range t.Features {
				d := math.Abs(x-m.center[i]) / m.scale[i]
				if s := d / (1 + d); s > row[i] {
					row[i] = s
				}
			}
		}
		rows = append(rows, row)
	}
	return model.ScoreMatrix{BatchID: batch.ID, PerWindow: rows}, nil
}
