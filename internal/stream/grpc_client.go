package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"aurora-vm-inspector/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCClient pushes snapshot frames over one long-lived client stream.
type GRPCClient struct {
	mu sync.Mutex

	logger      *slog.Logger
	addr        string
	tlsConfig   *tls.Config
	token       string
	method      string
	conn        *grpc.ClientConn
	stream      grpc.ClientStream
	dialTimeout time.Duration
	dialOpts    []grpc.DialOption
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, method string, logger *slog.Logger) *GRPCClient {
	encoding.RegisterCodec(jsonCodec{})
	return &GRPCClient{
		logger:      logger,
		addr:        addr,
		tlsConfig:   tlsCfg,
		token:       token,
		method:      method,
		dialTimeout: 8 * time.Second,
	}
}

func (c *GRPCClient) SendSnapshots(ctx context.Context, snaps []model.InstanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if c.stream == nil {
		if err := c.openStreamLocked(ctx); err != nil {
			return err
		}
	}
	frame := NewSnapshotFrame(snaps)
	if err := c.stream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc snapshot send failed, reopening stream", "error", err)
		c.stream = nil
		if err2 := c.openStreamLocked(ctx); err2 != nil {
			return fmt.Errorf("reopen snapshot stream: %w", err2)
		}
		if err2 := c.stream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send snapshot frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		_ = c.stream.CloseSend()
		c.stream = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		dialCtx, cancel = context.WithDeadline(context.Background(), dl)
		defer cancel()
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	}, c.dialOpts...)
	conn, err := grpc.DialContext(dialCtx, c.addr, opts...)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc stream connected", "addr", c.addr)
	return nil
}

func (c *GRPCClient) openStreamLocked(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("grpc conn is nil")
	}
	s, err := c.conn.NewStream(c.decorateContext(ctx), &grpc.StreamDesc{ClientStreams: true}, c.method)
	if err != nil {
		return fmt.Errorf("open snapshot stream: %w", err)
	}
	c.stream = s
	return nil
}

// decorateContext detaches the stream from the per-send context so one
// cycle's cancellation does not tear down the stream.
func (c *GRPCClient) decorateContext(ctx context.Context) context.Context {
	out := context.WithoutCancel(ctx)
	if c.token != "" {
		out = metadata.AppendToOutgoingContext(out, "authorization", "Bearer "+c.token)
	}
	return out
}
