package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/jpillora/backoff"
)

// ConnManager owns a single libvirt RPC connection and reconnect flow.
type ConnManager struct {
	mu      sync.RWMutex
	client  *golibvirt.Libvirt
	uri     string
	logger  *slog.Logger
	backoff *backoff.Backoff
}

func NewConnManager(uri string, retryWait, maxRetryWait time.Duration, logger *slog.Logger) *ConnManager {
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	if maxRetryWait < retryWait {
		maxRetryWait = retryWait
	}
	return &ConnManager{
		uri:    uri,
		logger: logger,
		backoff: &backoff.Backoff{
			Min:    retryWait,
			Max:    maxRetryWait,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (m *ConnManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// Client returns the live connection wrapped as a Client, dialing if needed.
func (m *ConnManager) Client(ctx context.Context) (Client, error) {
	l, err := m.raw(ctx)
	if err != nil {
		return nil, err
	}
	return rpcClient{l: l}, nil
}

func (m *ConnManager) raw(ctx context.Context) (*golibvirt.Libvirt, error) {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, fmt.Errorf("libvirt client is nil after connect")
	}
	return m.client, nil
}

func (m *ConnManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		if err := m.client.Disconnect(); err != nil {
			m.logger.Warn("libvirt disconnect failed", "error", err)
		}
		m.client = nil
	}
	return m.connectLocked(ctx)
}

func (m *ConnManager) Healthy(ctx context.Context) error {
	c, err := m.raw(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Version(); err != nil {
		return fmt.Errorf("libvirt version check failed: %w", err)
	}
	return nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	return err
}

func (m *ConnManager) connectLocked(ctx context.Context) error {
	if m.client != nil {
		if _, err := m.client.Version(); err == nil {
			return nil
		}
		_ = m.client.Disconnect()
		m.client = nil
	}

	uri, err := parseURI(m.uri)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c, dialErr := golibvirt.ConnectToURI(uri)
		if dialErr == nil {
			m.client = c
			m.backoff.Reset()
			m.logger.Info("libvirt connected", "uri", uri.Redacted())
			return nil
		}

		wait := m.backoff.Duration()
		m.logger.Error("libvirt connect failed", "uri", uri.Redacted(), "error", dialErr, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func parseURI(raw string) (*url.URL, error) {
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		uri, err = url.Parse(string(golibvirt.QEMUSystem))
		if err != nil {
			return nil, fmt.Errorf("parse fallback uri: %w", err)
		}
	}
	return uri, nil
}
