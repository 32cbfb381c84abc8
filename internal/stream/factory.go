package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"aurora-vm-inspector/internal/config"
)

const defaultPingInterval = 10 * time.Second

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCSnapshotMethod, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.BackendWSURL, cfg.BackendToken, tlsCfg, cfg.WebSocketWriteTimeout, defaultPingInterval, logger), nil
	case config.StreamModeNone, "":
		return NopSink{}, nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
