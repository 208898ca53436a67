package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func featureMap(n int) map[string]float64 {
	m := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		m[strconv.Itoa(i)] = float64(i) / 10
	}
	return m
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func gzipBytes(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, raw []byte) []byte {
	t.Helper()
	zw, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	return zw.EncodeAll(raw, nil)
}

func newTestDecoder(t *testing.T, featureCount int) *Decoder {
	t.Helper()
	d, err := NewDecoder(featureCount, 1<<20)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return d
}

func TestDecodeRawEnvelope(t *testing.T) {
	d := newTestDecoder(t, 4)
	body := marshal(t, map[string]any{
		"timestamp": "2026-08-29T10:00:00Z",
		"features":  featureMap(4),
	})
	tick, err := d.Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tick.Features) != 4 {
		t.Fatalf("got %d features, want 4", len(tick.Features))
	}
	if tick.Features[3] != 0.3 {
		t.Fatalf("feature 3 = %v, want 0.3", tick.Features[3])
	}
	want := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if !tick.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want %v", tick.Timestamp, want)
	}
}

func TestDecodeBareFeatureMap(t *testing.T) {
	d := newTestDecoder(t, 3)
	tick, err := d.Decode(marshal(t, featureMap(3)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tick.Features) != 3 {
		t.Fatalf("got %d features, want 3", len(tick.Features))
	}
	if tick.Timestamp.IsZero() {
		t.Fatalf("missing timestamp not defaulted")
	}
}

func TestDecodeCompressed(t *testing.T) {
	d := newTestDecoder(t, 4)
	raw := marshal(t, featureMap(4))
	for name, body := range map[string][]byte{
		"gzip": gzipBytes(t, raw),
		"zstd": zstdBytes(t, raw),
	} {
		tick, err := d.Decode(body)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if len(tick.Features) != 4 || tick.Features[2] != 0.2 {
			t.Fatalf("%s: got %v", name, tick.Features)
		}
	}
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	d := newTestDecoder(t, 3)

	missing := featureMap(3)
	delete(missing, "2")

	outOfRange := featureMap(3)
	delete(outOfRange, "2")
	outOfRange["9"] = 1.0

	badKey := featureMap(3)
	delete(badKey, "2")
	badKey["x"] = 1.0

	cases := map[string][]byte{
		"empty body":        nil,
		"not json":          []byte("hello"),
		"wrong count":       marshal(t, featureMap(2)),
		"missing index":     marshal(t, missing),
		"index out of rng":  marshal(t, outOfRange),
		"non-integer key":   marshal(t, badKey),
		"nan value":         []byte(`{"0": 0, "1": 0, "2": NaN}`),
		"bad timestamp":     marshal(t, map[string]any{"timestamp": "yesterday", "features": featureMap(3)}),
		"corrupt gzip":      {0x1F, 0x8B, 0x00, 0x01},
		"corrupt zstd":      {0x28, 0xB5, 0x2F, 0xFD, 0x00},
		"features not nums": []byte(`{"0": "a", "1": 0, "2": 0}`),
	}
	for name, body := range cases {
		_, err := d.Decode(body)
		if err == nil {
			t.Fatalf("%s: decode accepted", name)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: error %v is not a ValidationError", name, err)
		}
	}
}

func TestDecodeRejectsNonFiniteFloat(t *testing.T) {
	d := newTestDecoder(t, 1)
	// Inf survives json.Marshal only via a raw payload.
	body := []byte(fmt.Sprintf(`{"0": %g}`, math.MaxFloat64))
	if _, err := d.Decode(body); err != nil {
		t.Fatalf("finite large value rejected: %v", err)
	}
}

func TestDecodeUnixTimestamps(t *testing.T) {
	d := newTestDecoder(t, 1)
	sec := marshal(t, map[string]any{"timestamp": "1700000000", "features": map[string]float64{"0": 1}})
	tick, err := d.Decode(sec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tick.Timestamp.Unix() != 1700000000 {
		t.Fatalf("seconds timestamp = %v", tick.Timestamp)
	}
	ms := marshal(t, map[string]any{"timestamp": "1700000000123", "features": map[string]float64{"0": 1}})
	tick, err = d.Decode(ms)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tick.Timestamp.UnixMilli() != 1700000000123 {
		t.Fatalf("millis timestamp = %v", tick.Timestamp)
	}
}
