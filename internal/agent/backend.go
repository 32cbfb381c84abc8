package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"aurora-vm-inspector/internal/config"
	"aurora-vm-inspector/internal/inspector"
	"aurora-vm-inspector/internal/libvirt"
	"aurora-vm-inspector/internal/mgmt"
	"aurora-vm-inspector/internal/mgmt/memgraph"
)

// Backend is the management source the inspector reads from, together with
// the connection that keeps it alive. The memory backend has no connection.
type Backend struct {
	Source mgmt.Source
	conn   *libvirt.ConnManager
	src    *libvirt.Source
}

// OpenBackend connects to the backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		f, err := os.Open(cfg.FixturePath)
		if err != nil {
			return nil, fmt.Errorf("open fixture: %w", err)
		}
		defer f.Close()
		g, err := memgraph.LoadFixture(f)
		if err != nil {
			return nil, err
		}
		logger.Info("memory backend loaded", "fixture", cfg.FixturePath)
		return &Backend{Source: g}, nil
	case config.BackendLibvirt, "":
		conn := libvirt.NewConnManager(cfg.LibvirtURI, cfg.ReconnectInterval, cfg.MaxReconnectBackoff, logger)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("initial libvirt connect: %w", err)
		}
		src := libvirt.NewSource(conn, libvirt.SourceOptions{
			CacheTTL: cfg.LibvirtCacheTTL,
			Uptime:   libvirt.QEMUUptime{RunDir: cfg.QEMURunDir}.UptimeMs,
			Logger:   logger,
		})
		return &Backend{Source: src, conn: conn, src: src}, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// NewInspector builds the inspection facade over b with the tuning from cfg.
func NewInspector(ctx context.Context, cfg config.Config, b *Backend) (*inspector.Inspector, error) {
	opts := []inspector.Option{inspector.WithConcurrency(cfg.InspectConcurrency)}
	if cfg.RealizedSystemType != "" {
		opts = append(opts, inspector.WithRealizedType(cfg.RealizedSystemType))
	}
	in, err := inspector.New(ctx, b.Source, opts...)
	if err != nil {
		return nil, fmt.Errorf("init inspector: %w", err)
	}
	return in, nil
}

func (b *Backend) Healthy(ctx context.Context) error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Healthy(ctx)
}

// Reconnect re-dials libvirt and drops the cached projection so the next
// query sees the new connection.
func (b *Backend) Reconnect(ctx context.Context) error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Reconnect(ctx); err != nil {
		return err
	}
	b.src.Invalidate()
	return nil
}

func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
