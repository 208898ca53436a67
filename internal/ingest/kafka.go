package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"tickwatch/internal/config"
	"tickwatch/internal/health"
	"tickwatch/internal/obs"
	"tickwatch/internal/queue"
)

// StartKafka consumes tick payloads from a topic and feeds the same bounded
// queue as the HTTP gateway. Delivery stays at-most-once: a full queue or an
// unready pipeline drops the message with a warning, mirroring the HTTP
// boundary's transient-overload response.
func StartKafka(ctx context.Context, cfg *config.Manager, q *queue.Queue, probe *health.Probe, logger *slog.Logger, metrics *obs.Metrics) error {
	current := cfg.Get()
	if !current.Ingest.Kafka.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return nil
	}
	decoder, err := NewDecoder(current.Pipeline.FeatureCount, 32*current.Ingest.REST.MaxBodyBytes)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Info("kafka ingest enabled",
			"brokers", current.Ingest.Kafka.Brokers,
			"topic", current.Ingest.Kafka.Topic,
			"group_id", current.Ingest.Kafka.GroupID,
		)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Ingest.Kafka.Brokers,
		Topic:    current.Ingest.Kafka.Topic,
		GroupID:  current.Ingest.Kafka.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			if !probe.AcceptsIngest() {
				metrics.TickRejected("not_ready")
				continue
			}
			tick, err := decoder.Decode(m.Value)
			if err != nil {
				metrics.TickRejected("invalid")
				if logger != nil {
					logger.Warn("kafka payload rejected", "offset", m.Offset, "err", err)
				}
				continue
			}
			if err := q.Enqueue(tick); err != nil {
				if errors.Is(err, queue.ErrClosed) {
					return
				}
				metrics.TickRejected("backpressure")
				if logger != nil {
					logger.Warn("tick dropped, queue at capacity", "offset", m.Offset)
				}
				continue
			}
			metrics.TickIngested()
		}
	}()
	return nil
}
