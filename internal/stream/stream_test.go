package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"nhooyr.io/websocket"

	"aurora-vm-inspector/internal/config"
	"aurora-vm-inspector/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSnapshots() []model.InstanceSnapshot {
	return []model.InstanceSnapshot{{
		NodeID:        "hv01",
		Instance:      model.Instance{Name: "web-1", UUID: "u1"},
		TimestampUnix: 1_700_000_000,
		CPU:           model.CPUStats{Number: 2, CumulativeTimeMs: 5000},
	}}
}

func TestNewSnapshotFrame(t *testing.T) {
	f := NewSnapshotFrame(sampleSnapshots())
	if f.NodeID != "hv01" || f.TimestampUnix != 1_700_000_000 || len(f.Snapshots) != 1 {
		t.Fatalf("frame = %+v", f)
	}
	empty := NewSnapshotFrame(nil)
	if empty.NodeID != "" || empty.TimestampUnix == 0 {
		t.Fatalf("empty frame = %+v", empty)
	}
	env := AsEnvelope(f)
	if env.Type != model.MetricTypeInstanceSnapshot || env.NodeID != "hv01" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	tests := []struct {
		mode    config.StreamMode
		want    string
		wantErr bool
	}{
		{config.StreamModeNone, "stream.NopSink", false},
		{config.StreamModeGRPC, "*stream.GRPCClient", false},
		{config.StreamModeWebSocket, "*stream.WebSocketClient", false},
		{"kafka", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := config.Default()
			cfg.StreamMode = tt.mode
			sink, err := NewSinkFromConfig(cfg, nil, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSinkFromConfig() error = %v", err)
			}
			if tt.wantErr {
				return
			}
			if got := typeName(sink); got != tt.want {
				t.Fatalf("sink type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case NopSink:
		return "stream.NopSink"
	case *GRPCClient:
		return "*stream.GRPCClient"
	case *WebSocketClient:
		return "*stream.WebSocketClient"
	default:
		return "unknown"
	}
}

func TestWebSocketClientSendSnapshots(t *testing.T) {
	got := make(chan model.Envelope, 1)
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err == nil {
			got <- env
		}
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWebSocketClient(url, "secret", nil, time.Second, time.Minute, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.SendSnapshots(ctx, nil); err != nil {
		t.Fatalf("SendSnapshots(nil) error = %v", err)
	}
	if err := c.SendSnapshots(ctx, sampleSnapshots()); err != nil {
		t.Fatalf("SendSnapshots() error = %v", err)
	}
	select {
	case env := <-got:
		if env.Type != model.MetricTypeInstanceSnapshot || env.NodeID != "hv01" {
			t.Fatalf("envelope = %+v", env)
		}
	case <-ctx.Done():
		t.Fatal("server never received the envelope")
	}
	if h := <-auth; h != "Bearer secret" {
		t.Fatalf("Authorization = %q", h)
	}
	if err := c.Close(ctx); err != nil {
		t.Logf("Close() = %v", err)
	}
}

func TestGRPCClientSendSnapshots(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	frames := make(chan SnapshotFrame, 1)
	tokens := make(chan string, 1)
	srv := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnknownServiceHandler(func(_ any, ss grpc.ServerStream) error {
			if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
				tokens <- strings.Join(md.Get("authorization"), ",")
			}
			for {
				var f SnapshotFrame
				if err := ss.RecvMsg(&f); err != nil {
					if err == io.EOF {
						return nil
					}
					return err
				}
				frames <- f
			}
		}),
	)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c := NewGRPCClient("bufnet", nil, "secret", "/aurora.inspector.v1.InspectorService/StreamInstanceSnapshots", discardLogger())
	c.dialOpts = []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.SendSnapshots(ctx, sampleSnapshots()); err != nil {
		t.Fatalf("SendSnapshots() error = %v", err)
	}
	select {
	case f := <-frames:
		if f.NodeID != "hv01" || len(f.Snapshots) != 1 || f.Snapshots[0].Instance.Name != "web-1" {
			t.Fatalf("frame = %+v", f)
		}
	case <-ctx.Done():
		t.Fatal("server never received the frame")
	}
	if tok := <-tokens; tok != "Bearer secret" {
		t.Fatalf("authorization = %q", tok)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
