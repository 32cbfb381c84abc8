package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// serveProbe answers every TCP connection on addr with reply and closes it.
func serveProbe(ctx context.Context, addr, reply string, logger *slog.Logger) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	return acceptProbes(ctx, ln, reply, logger)
}

func acceptProbes(ctx context.Context, ln net.Listener, reply string, logger *slog.Logger) error {
	defer func() { _ = ln.Close() }()
	logger.Info("probe endpoint listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			if ne, ok := acceptErr.(net.Error); ok && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept probe endpoint %s: %w", ln.Addr(), acceptErr)
		}

		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Write([]byte(reply))
		_ = conn.Close()
	}
}
