package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"tickwatch/internal/model"
)

// ValidationError marks a malformed or mis-sized ingestion payload. It is
// rejected at the boundary with a client-error status and never enqueued;
// the producer must not retry it unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + e.Reason
}

func validationErrf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Decoder turns a possibly compressed payload into a validated Tick.
type Decoder struct {
	featureCount   int
	maxDecodedSize int64
	zstdReader     *zstd.Decoder
}

func NewDecoder(featureCount int, maxDecodedSize int64) (*Decoder, error) {
	if featureCount < 1 {
		return nil, fmt.Errorf("feature count must be >= 1, got %d", featureCount)
	}
	if maxDecodedSize <= 0 {
		maxDecodedSize = 16 << 20
	}
	zr, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(maxDecodedSize)),
	)
	if err != nil {
		return nil, err
	}
	return &Decoder{featureCount: featureCount, maxDecodedSize: maxDecodedSize, zstdReader: zr}, nil
}

type tickPayload struct {
	Timestamp string             `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
}

// Decode sniffs the compression by magic bytes (zstd, gzip, else raw JSON),
// decompresses under a size cap, and validates the structured payload: a
// mapping of feature index → numeric value covering exactly 0..F-1.
func (d *Decoder) Decode(body []byte) (model.Tick, error) {
	raw, err := d.decompress(body)
	if err != nil {
		return model.Tick{}, err
	}

	var payload tickPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Features == nil {
		// Bare feature map without an envelope.
		var flat map[string]float64
		if err := json.Unmarshal(raw, &flat); err != nil {
			return model.Tick{}, validationErrf("body is not a JSON feature mapping: %v", err)
		}
		payload = tickPayload{Features: flat}
	}

	features, err := d.featureVector(payload.Features)
	if err != nil {
		return model.Tick{}, err
	}

	ts := time.Now().UTC()
	if payload.Timestamp != "" {
		parsed, err := parseTimestamp(payload.Timestamp)
		if err != nil {
			return model.Tick{}, validationErrf("timestamp: %v", err)
		}
		ts = parsed.UTC()
	}
	return model.Tick{Timestamp: ts, Features: features}, nil
}

func (d *Decoder) featureVector(m map[string]float64) ([]float64, error) {
	if len(m) != d.featureCount {
		return nil, validationErrf("got %d features, want %d", len(m), d.featureCount)
	}
	out := make([]float64, d.featureCount)
	for key, v := range m {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, validationErrf("feature id %q is not an integer index", key)
		}
		if idx < 0 || idx >= d.featureCount {
			return nil, validationErrf("feature index %d out of range [0, %d)", idx, d.featureCount)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, validationErrf("feature %d is not a finite number", idx)
		}
		out[idx] = v
	}
	return out, nil
}

func (d *Decoder) decompress(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, validationErrf("empty body")
	}
	switch {
	case len(body) >= 4 && body[0] == 0x28 && body[1] == 0xB5 && body[2] == 0x2F && body[3] == 0xFD:
		out, err := d.zstdReader.DecodeAll(body, nil)
		if err != nil {
			return nil, validationErrf("zstd: %v", err)
		}
		if int64(len(out)) > d.maxDecodedSize {
			return nil, validationErrf("decompressed payload exceeds %d bytes", d.maxDecodedSize)
		}
		return out, nil
	case len(body) >= 2 && body[0] == 0x1F && body[1] == 0x8B:
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, validationErrf("gzip: %v", err)
		}
		defer gz.Close()
		out, err := io.ReadAll(io.LimitReader(gz, d.maxDecodedSize+1))
		if err != nil {
			return nil, validationErrf("gzip: %v", err)
		}
		if int64(len(out)) > d.maxDecodedSize {
			return nil, validationErrf("decompressed payload exceeds %d bytes", d.maxDecodedSize)
		}
		return out, nil
	default:
		return body, nil
	}
}

func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(value, 10, 64); err == nil {
		if sec > 1e12 {
			return time.Unix(0, sec*int64(time.Millisecond)), nil
		}
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, fmt.Errorf("unsupported format %q", value)
}
