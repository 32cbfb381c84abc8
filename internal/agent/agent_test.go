package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aurora-vm-inspector/internal/config"
	"aurora-vm-inspector/internal/model"
)

const fixtureYAML = `
host_processors_mhz: [2000]
vms:
  - name: web-1
    uuid: 11111111-2222-3333-4444-555555555555
    on_time_ms: 10000
    vcpus: 2
    cpu_metric: 1000
    nics:
      - name: eth0
        mac: "00:15:5d:00:00:01"
        rx: [100]
        tx: [42]
    disks:
      - device: /images/web-1.qcow2
        read: [4096]
        write: [1024]
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.NodeID = "hv01"
	cfg.Backend = config.BackendMemory
	cfg.FixturePath = path
	cfg.PollInterval = 20 * time.Millisecond
	cfg.HealthInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.ProbeListenAddr = "127.0.0.1:0"
	cfg.HTTPListenAddr = ""
	return cfg
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogJSON = true
	cfg.LogLevel = "warn"
	logger := newLogger(&buf, cfg)

	logger.Info("hidden")
	logger.Warn("shown", "instance", "web-1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"instance":"web-1"`) {
		t.Fatalf("json record missing attribute: %s", out)
	}
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus()
	if h.Serving() {
		t.Fatal("new status reports serving")
	}
	h.SetBackendConnected(true)
	h.MarkPoll(time.Unix(1_700_000_000, 0), 3)
	snap := h.Snapshot()
	if !h.Serving() || snap["instances"] != int64(3) {
		t.Fatalf("snapshot = %v", snap)
	}
	if _, ok := snap["last_poll_at"]; !ok {
		t.Fatalf("snapshot missing last_poll_at: %v", snap)
	}
	if _, ok := snap["last_send_at"]; ok {
		t.Fatalf("snapshot reports a send that never happened: %v", snap)
	}
}

type failingSink struct{ err error }

func (f failingSink) SendSnapshots(context.Context, []model.InstanceSnapshot) error { return f.err }

func (failingSink) Close(context.Context) error { return nil }

func TestHealthSink(t *testing.T) {
	h := NewHealthStatus()
	s := &healthSink{sink: failingSink{err: errors.New("stream down")}, health: h}
	if err := s.SendSnapshots(context.Background(), nil); err == nil {
		t.Fatal("SendSnapshots() error = nil")
	}
	if h.Snapshot()["stream_connected"] != false {
		t.Fatal("stream reported connected after failure")
	}

	s.sink = failingSink{}
	if err := s.SendSnapshots(context.Background(), nil); err != nil {
		t.Fatalf("SendSnapshots() error = %v", err)
	}
	if h.Snapshot()["stream_connected"] != true {
		t.Fatal("stream not reported connected after success")
	}
}

func TestAcceptProbes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acceptProbes(ctx, ln, "aurora-vm-inspector:ok v1\n", discardLogger()) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	conn.Close()
	if err != nil || line != "aurora-vm-inspector:ok v1\n" {
		t.Fatalf("probe reply = %q, %v", line, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("acceptProbes() error = %v", err)
	}
}

func TestServeProbeEmptyAddr(t *testing.T) {
	if err := serveProbe(context.Background(), " ", "", discardLogger()); err == nil {
		t.Fatal("serveProbe() error = nil for empty address")
	}
}

func TestOpenBackendMemory(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	b, err := OpenBackend(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("OpenBackend() error = %v", err)
	}
	defer b.Close()
	if err := b.Healthy(ctx); err != nil {
		t.Fatalf("Healthy() error = %v", err)
	}

	in, err := NewInspector(ctx, cfg, b)
	if err != nil {
		t.Fatalf("NewInspector() error = %v", err)
	}
	stats, err := in.InspectCPU(ctx, "web-1")
	if err != nil || stats.Number != 2 {
		t.Fatalf("InspectCPU() = %+v, %v", stats, err)
	}
}

func TestOpenBackendErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing fixture", func(c *config.Config) { c.FixturePath = "/nonexistent/fixture.yaml" }},
		{"unknown backend", func(c *config.Config) { c.Backend = "xen" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.mutate(&cfg)
			if _, err := OpenBackend(context.Background(), cfg, discardLogger()); err == nil {
				t.Fatal("OpenBackend() error = nil")
			}
		})
	}
}

func TestAgentRun(t *testing.T) {
	a, err := New(memoryConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(a.store.Snapshots()) == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no snapshot polled before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, ok := a.store.Get("web-1")
	if !ok || !snap.Complete() || snap.NodeID != "hv01" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, serving := a.Health(); !serving {
		t.Fatal("agent not serving while running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if _, serving := a.Health(); serving {
		t.Fatal("agent still serving after shutdown")
	}
}
