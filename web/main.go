// Command web serves the reproserver HTTP API: package upload and
// repository ingestion, run creation and run-log reads.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/ingest"
	"github.com/SecurityAnalysts/reproserver/internal/platform/env"
	"github.com/SecurityAnalysts/reproserver/internal/platform/httpserver"
	"github.com/SecurityAnalysts/reproserver/internal/platform/k8s"
	"github.com/SecurityAnalysts/reproserver/internal/platform/metrics"
	"github.com/SecurityAnalysts/reproserver/internal/platform/objectstore"
	"github.com/SecurityAnalysts/reproserver/internal/platform/postgres"
	pgstore "github.com/SecurityAnalysts/reproserver/internal/repo/postgres"
	"github.com/SecurityAnalysts/reproserver/internal/repositories"
	"github.com/SecurityAnalysts/reproserver/internal/runner"
	"github.com/SecurityAnalysts/reproserver/internal/service/runs"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("REPROSERVER_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("REPROSERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	store, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(1)
	}
	if err := objectstore.EnsureBuckets(ctx, store, storeCfg); err != nil {
		logger.Error("bucket setup failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	experiments := pgstore.NewExperimentStore(db)
	uploads := pgstore.NewUploadStore(db)
	runStore := pgstore.NewRunStore(db)

	pipeline := ingest.New(experiments, store, storeCfg.BucketExperiments, m)

	zenodoToken := env.String("REPROSERVER_ZENODO_TOKEN", "")
	resolver := repositories.NewResolver(uploads, pipeline, m,
		repositories.NewOSF(nil),
		repositories.NewZenodo(nil, zenodoToken),
	)

	var rn runner.Runner
	runnerCfg := runner.ConfigFromEnv()
	if runnerCfg.Image != "" {
		client, err := k8s.NewInClusterClient()
		if err != nil {
			logger.Error("kubernetes client init failed", "error", err)
			os.Exit(1)
		}
		rn, err = runner.NewKubernetesRunner(client, runStore, runnerCfg)
		if err != nil {
			logger.Error("runner init failed", "error", err)
			os.Exit(2)
		}
	} else {
		logger.Warn("no runner image configured, runs will stay pending")
		rn = runner.NewLoggingRunner(logger)
	}

	runService := runs.New(runStore, store, storeCfg.BucketInputs, rn, m, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("web"))
	mux.HandleFunc("/readyz", httpserver.Readyz(
		"web",
		httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		},
		httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return objectstore.CheckBuckets(checkCtx, store, storeCfg)
			},
		},
	))
	mux.Handle("GET /metrics", m.Handler())

	api := newServerAPI(logger, resolver, pipeline, uploads, runService, m)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "web",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "web", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
