package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
	"github.com/nicktill/tinybeacon/pkg/observability"
	"github.com/nicktill/tinybeacon/pkg/server"
	"github.com/nicktill/tinybeacon/pkg/server/monitor"
	"github.com/nicktill/tinybeacon/pkg/storage"
	"github.com/nicktill/tinybeacon/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if err := applyFlags(flag.CommandLine, os.Args[1:], &cfg); err != nil {
		logrus.WithError(err).Fatal("Invalid flags")
	}

	log, err := newLogger(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid logging configuration")
	}
	log.Info("Starting TinyBeacon server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, analytics.SystemClock{}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize")
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		_ = a.store.Close()
		log.WithError(err).Fatal("Failed to listen")
	}

	if err := a.serve(ctx, ln); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
	log.Info("TinyBeacon server exited cleanly")
}

// applyFlags lets --port, --db and --backend override the environment.
func applyFlags(fs *flag.FlagSet, args []string, cfg *config.Config) error {
	port := fs.String("port", cfg.Port, "listen port (TINYBEACON_PORT)")
	db := fs.String("db", cfg.DBPath, "database path (TINYBEACON_DB_PATH)")
	backend := fs.String("backend", cfg.Backend, "storage backend: sqlite, badger or memory (TINYBEACON_BACKEND)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Port, cfg.DBPath, cfg.Backend = *port, *db, *backend
	return cfg.Validate()
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// app is one fully wired server instance.
type app struct {
	log            logrus.FieldLogger
	store          storage.Storage
	metrics        *observability.Metrics
	storageMonitor *monitor.StorageMonitor
	probe          *monitor.ProbeMonitor
	handler        http.Handler
}

func newApp(cfg config.Config, clock analytics.Clock, log logrus.FieldLogger) (*app, error) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	rawStore, paths, err := server.InitializeStorage(cfg, clock, log)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	store := observability.InstrumentStorage(rawStore, metrics)

	var storageMonitor *monitor.StorageMonitor
	if paths != nil {
		limit := cfg.MaxStorageGB << 30
		storageMonitor = monitor.NewStorageMonitor(paths, limit)
		log.WithField("limit_gb", cfg.MaxStorageGB).Info("Storage limit enforcement enabled")
	}

	assets, err := web.FS(cfg.WebDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	probe := monitor.NewProbeMonitor(time.Now)
	handlers := server.InitializeHandlers(store, clock, log, metrics, storageMonitor)
	handler := server.NewHandler(server.Routes{
		Store:           store,
		Handlers:        handlers,
		StorageMonitor:  storageMonitor,
		ProbeMonitor:    probe,
		Metrics:         metrics,
		Assets:          assets,
		IngestRateLimit: cfg.IngestRateLimit,
		Log:             log,
	}, cfg.CORSOrigins)

	return &app{
		log:            log,
		store:          store,
		metrics:        metrics,
		storageMonitor: storageMonitor,
		probe:          probe,
		handler:        handler,
	}, nil
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
}

// serve runs the HTTP server and the background tasks until ctx is done,
// then shuts down gracefully and closes the store.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := newHTTPServer(a.handler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.WithField("addr", ln.Addr().String()).Info("Server ready to accept requests")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutdown signal received, draining requests...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return server.RunStorageProbe(gctx, a.store, a.probe, a.metrics, a.log)
	})
	g.Go(func() error {
		return server.RunBadgerGC(gctx, a.store, a.log)
	})
	if a.storageMonitor != nil {
		g.Go(func() error {
			return server.RunDiskCheck(gctx, a.storageMonitor, a.log)
		})
	}

	err := g.Wait()
	if cerr := a.store.Close(); cerr != nil {
		a.log.WithError(cerr).Error("Failed to close storage")
		if err == nil {
			err = cerr
		}
	}
	return err
}
