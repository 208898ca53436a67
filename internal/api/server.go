package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tickwatch/internal/alerts"
	"tickwatch/internal/config"
	"tickwatch/internal/health"
	"tickwatch/internal/obs"
	"tickwatch/internal/queue"
)

// PipelineStats is what the consumer task exposes to the ops API.
type PipelineStats interface {
	Observed() uint64
	Pending() int
}

type Server struct {
	cfg      *config.Manager
	probe    *health.Probe
	queue    *queue.Queue
	pipeline PipelineStats
	alerts   *alerts.Store
	metrics  *obs.Metrics
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status    string         `json:"status"`
	State     string         `json:"state"`
	Time      string         `json:"time"`
	Version   string         `json:"version"`
	Queue     queueStatus    `json:"queue"`
	Pipeline  pipelineStatus `json:"pipeline"`
	Detection detectStatus   `json:"detection"`
}

type queueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type pipelineStatus struct {
	TicksObserved  uint64 `json:"ticks_observed"`
	PendingWindows int    `json:"pending_windows"`
	WindowSize     int    `json:"window_size"`
	BatchSize      int    `json:"batch_size"`
	Workers        int    `json:"workers"`
}

type detectStatus struct {
	Threshold float64 `json:"threshold"`
}

// Start runs the ops API server (status, recent alerts, Prometheus metrics)
// until the context is cancelled.
func Start(ctx context.Context, cfg *config.Manager, probe *health.Probe, q *queue.Queue, pipeline PipelineStats, alertsStore *alerts.Store, metrics *obs.Metrics, logger *slog.Logger, version string) *http.Server {
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("ops api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("ops api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		probe:    probe,
		queue:    q,
		pipeline: pipeline,
		alerts:   alertsStore,
		metrics:  metrics,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("ops api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:  "ok",
		State:   s.probe.State().String(),
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Queue:   queueStatus{Depth: s.queue.Len(), Capacity: s.queue.Cap()},
		Pipeline: pipelineStatus{
			WindowSize: cfg.Pipeline.WindowSize,
			BatchSize:  cfg.Pipeline.BatchSize,
			Workers:    cfg.Pipeline.Workers,
		},
		Detection: detectStatus{Threshold: cfg.Detection.Threshold},
	}
	if s.pipeline != nil {
		resp.Pipeline.TicksObserved = s.pipeline.Observed()
		resp.Pipeline.PendingWindows = s.pipeline.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []alerts.Record
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
