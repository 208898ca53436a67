package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tickwatch/internal/alerts"
	"tickwatch/internal/api"
	"tickwatch/internal/config"
	"tickwatch/internal/detect"
	"tickwatch/internal/dispatch"
	"tickwatch/internal/health"
	"tickwatch/internal/ingest"
	"tickwatch/internal/logging"
	"tickwatch/internal/model"
	"tickwatch/internal/obs"
	"tickwatch/internal/pipeline"
	"tickwatch/internal/queue"
	"tickwatch/internal/scoring"
	"tickwatch/internal/storage"
	"tickwatch/internal/sysmon"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Parse()

	var cfgMgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			slog.Error("config load failed", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfgMgr = m
	} else {
		cfgMgr = config.NewStaticManager(nil)
	}
	cfg := cfgMgr.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting tickwatch", "version", version,
		"feature_count", cfg.Pipeline.FeatureCount,
		"window_size", cfg.Pipeline.WindowSize,
		"batch_size", cfg.Pipeline.BatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := health.NewProbe()
	q := queue.New(cfg.Pipeline.QueueCapacity)
	metrics := obs.NewMetrics(func() float64 { return float64(q.Len()) })
	alertRing := alerts.NewStore(cfg.Alerts.StoreLimit)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	// Ingest and ops servers come up before the model is loaded; the
	// readiness probe gates traffic until the scorer is acquired.
	if _, err := ingest.StartREST(ctx, cfgMgr, q, probe, logging.Component(logger, "ingest"), metrics); err != nil {
		logger.Error("rest ingest init failed", "err", err)
		os.Exit(1)
	}
	if err := ingest.StartKafka(ctx, cfgMgr, q, probe, logging.Component(logger, "ingest"), metrics); err != nil {
		logger.Error("kafka ingest init failed", "err", err)
		os.Exit(1)
	}

	monitor := sysmon.New(sysmon.NoAccelerator{})

	scorer, err := scoring.Load(cfg.Model.Path, cfg.Pipeline.FeatureCount)
	if err != nil {
		probe.SetFailed()
		logger.Error("scorer load failed", "err", err)
		if cfg.Model.FailFast {
			os.Exit(1)
		}
		// Liveness-only mode: probes answer, ingestion and scoring do not.
		api.Start(ctx, cfgMgr, probe, q, nil, alertRing, metrics, logging.Component(logger, "api"), version)
		<-ctx.Done()
		return
	}
	if cfg.Model.PreferAccelerator && !monitor.AcceleratorAvailable() {
		probe.SetDegraded()
		logger.Warn("accelerator unavailable, scoring on cpu")
	} else {
		probe.SetReady()
	}
	logger.Info("scorer loaded", "state", probe.State().String(), "model_path", cfg.Model.Path)

	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		Endpoint:   cfg.Dispatch.Endpoint,
		MaxRetries: cfg.Dispatch.MaxRetries,
		Backoff: dispatch.Backoff{
			Base:   cfg.Dispatch.BackoffBase,
			Cap:    cfg.Dispatch.BackoffCap,
			Jitter: cfg.Dispatch.Jitter,
		},
		RequestTimeout: cfg.Dispatch.RequestTimeout,
		Buffer:         cfg.Dispatch.Buffer,
	}, logging.Component(logger, "dispatch"), metrics, dispatchRecorder{
		ring:   alertRing,
		store:  store,
		logger: logger,
	})
	dispatcher.Start(ctx)

	threshold := cfg.Detection.Threshold
	onScores := func(b model.Batch, scores model.ScoreMatrix) {
		for _, msg := range detect.Evaluate(b, scores, threshold) {
			dispatcher.Submit(msg)
		}
	}
	invoker := scoring.NewInvoker(scorer, cfg.Pipeline.Workers, cfg.Pipeline.ScoringTimeout,
		onScores, monitor, logging.Component(logger, "scoring"), metrics)
	invoker.Start(ctx)

	pipe := pipeline.New(q, cfg.Pipeline.WindowSize, cfg.Pipeline.BatchSize, cfg.Pipeline.BatchTimeout,
		invoker, logging.Component(logger, "pipeline"), metrics)
	api.Start(ctx, cfgMgr, probe, q, pipe, alertRing, metrics, logging.Component(logger, "api"), version)

	pipe.Run(ctx)

	q.Close()
	invoker.Close()
	dispatcher.Close()
	logger.Info("shutdown complete")
}

// dispatchRecorder fans dispatch outcomes into the in-memory ring and the
// optional history store.
type dispatchRecorder struct {
	ring   *alerts.Store
	store  storage.Store
	logger *slog.Logger
}

func (r dispatchRecorder) Record(msg model.AlertMessage, res dispatch.Result) {
	rec := alerts.Record{
		Message:  msg,
		Outcome:  string(res.Outcome),
		Attempts: res.Attempts,
		Reason:   res.Reason,
	}
	r.ring.Add(rec)
	if r.store != nil {
		if err := r.store.SaveDispatch(context.Background(), rec); err != nil && r.logger != nil {
			r.logger.Warn("dispatch record not persisted", "batch_id", msg.BatchID, "err", err)
		}
	}
}
