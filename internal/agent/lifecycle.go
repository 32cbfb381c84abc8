package agent

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"aurora-vm-inspector/internal/agent/version"
	"aurora-vm-inspector/internal/api"
	"aurora-vm-inspector/internal/collector"
	"aurora-vm-inspector/internal/exporter"
)

func (a *Agent) run(ctx context.Context) error {
	backend, err := OpenBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.backend.Store(backend)
	a.health.SetBackendConnected(true)

	in, err := NewInspector(ctx, a.cfg, backend)
	if err != nil {
		return err
	}

	poller := collector.NewPoller(in, a.cfg.NodeID, a.logger)
	scheduler := collector.NewScheduler(
		a.logger,
		poller,
		a.store,
		a.sink,
		a.cfg.PollInterval,
		a.cfg.ReconnectInterval,
		a.cfg.StreamBufferSize,
	)
	router := api.NewRouter(api.Deps{
		Inspector: in,
		Store:     a.store,
		Registry:  exporter.NewRegistry(a.exporter),
		Health:    a.Health,
		Logger:    a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return serveProbe(gctx, a.cfg.ProbeListenAddr, version.Get(a.cfg).ProbeReply(), a.logger)
	})
	if a.cfg.HTTPListenAddr != "" {
		g.Go(func() error {
			return api.NewServer(a.cfg.HTTPListenAddr, router, a.cfg.ShutdownTimeout, a.logger).Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.checkHealth(ctx)
		}
	}
}

func (a *Agent) checkHealth(ctx context.Context) {
	if last, _ := a.store.Status(); !last.IsZero() {
		a.health.MarkPoll(last, len(a.store.Snapshots()))
	}
	backend := a.backend.Load()
	if backend == nil {
		return
	}
	if err := backend.Healthy(ctx); err != nil {
		a.logger.Warn("backend health check failed, reconnecting", "error", err)
		a.health.SetBackendConnected(false)
		if recErr := backend.Reconnect(ctx); recErr != nil {
			a.logger.Error("backend reconnect failed", "error", recErr)
			return
		}
		a.health.SetBackendConnected(true)
		a.logger.Info("backend connection recovered")
		return
	}
	a.health.SetBackendConnected(true)
	a.logger.Debug("agent health", "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
	if backend := a.backend.Load(); backend != nil {
		if err := backend.Close(); err != nil {
			a.logger.Warn("backend close failed", "error", err)
		}
	}
	a.health.SetBackendConnected(false)
}
