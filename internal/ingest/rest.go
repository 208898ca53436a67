package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tickwatch/internal/config"
	"tickwatch/internal/health"
	"tickwatch/internal/model"
	"tickwatch/internal/obs"
	"tickwatch/internal/queue"
)

// Gateway is the HTTP-facing ingestion boundary. Accepting a tick answers
// 202 immediately without waiting for windowing or scoring; a full queue
// answers 503 so the producer backs off instead of stalling.
type Gateway struct {
	cfg     *config.Manager
	queue   *queue.Queue
	probe   *health.Probe
	decoder *Decoder
	logger  *slog.Logger
	metrics *obs.Metrics
}

func NewGateway(cfg *config.Manager, q *queue.Queue, probe *health.Probe, logger *slog.Logger, metrics *obs.Metrics) (*Gateway, error) {
	current := cfg.Get()
	decoder, err := NewDecoder(current.Pipeline.FeatureCount, 32*current.Ingest.REST.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	return &Gateway{cfg: cfg, queue: q, probe: probe, decoder: decoder, logger: logger, metrics: metrics}, nil
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/data-enqueue", g.handleEnqueue)
	mux.HandleFunc("/health/live", g.handleLive)
	mux.HandleFunc("/health/ready", g.handleReady)
	return mux
}

// StartREST runs the ingestion server until the context is cancelled.
func StartREST(ctx context.Context, cfg *config.Manager, q *queue.Queue, probe *health.Probe, logger *slog.Logger, metrics *obs.Metrics) (*http.Server, error) {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil, nil
	}
	gateway, err := NewGateway(cfg, q, probe, logger, metrics)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: gateway.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer, nil
}

func (g *Gateway) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !g.probe.AcceptsIngest() {
		g.metrics.TickRejected("not_ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"state":  g.probe.State().String(),
		})
		return
	}
	maxBody := g.cfg.Get().Ingest.REST.MaxBodyBytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		g.metrics.TickRejected("oversized")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "body exceeds limit"})
		return
	}

	tick, err := g.decoder.Decode(body)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			g.metrics.TickRejected("invalid")
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error()})
			return
		}
		g.metrics.TickRejected("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed payload"})
		return
	}

	if err := g.enqueue(tick); err != nil {
		g.rejectEnqueue(w, err)
		return
	}
	g.metrics.TickIngested()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (g *Gateway) enqueue(t model.Tick) error {
	return g.queue.Enqueue(t)
}

func (g *Gateway) rejectEnqueue(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrBackpressure) {
		g.metrics.TickRejected("backpressure")
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "queue at capacity"})
		return
	}
	g.metrics.TickRejected("closed")
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "shutting down"})
}

// handleLive reports process responsiveness only; it checks no dependencies
// and stays available regardless of readiness.
func (g *Gateway) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := g.probe.State()
	if g.probe.Ready() {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "state": state.String()})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "state": state.String()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
