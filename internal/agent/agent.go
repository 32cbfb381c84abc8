package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"aurora-vm-inspector/internal/collector"
	"aurora-vm-inspector/internal/config"
	"aurora-vm-inspector/internal/exporter"
	"aurora-vm-inspector/internal/model"
	"aurora-vm-inspector/internal/stream"
)

type Agent struct {
	cfg      config.Config
	logger   *slog.Logger
	sink     stream.Sink
	store    *collector.Store
	exporter *exporter.Collector
	health   *HealthStatus

	// set once the backend is connected
	backend atomic.Pointer[Backend]
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	health := NewHealthStatus()
	store := collector.NewStore()
	return &Agent{
		cfg:      cfg,
		logger:   logger,
		sink:     &healthSink{sink: sink, health: health},
		store:    store,
		exporter: exporter.NewCollector(store, cfg.NodeID),
		health:   health,
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting aurora-vm-inspector",
		"node_id", a.cfg.NodeID,
		"backend", a.cfg.Backend,
		"version", a.cfg.AgentVersion,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("aurora-vm-inspector stopped")
	return nil
}

// Health returns the current health snapshot and whether the agent is
// serving.
func (a *Agent) Health() (any, bool) {
	return a.health.Snapshot(), a.health.Serving()
}

// BuildLogger returns a slog logger writing to stdout, or to a rotating file
// when LogFile is set.
func BuildLogger(cfg config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
	}
	return newLogger(w, cfg)
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	hOpts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendSnapshots(ctx context.Context, snaps []model.InstanceSnapshot) error {
	if err := s.sink.SendSnapshots(ctx, snaps); err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	s.health.MarkSend(time.Now())
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
