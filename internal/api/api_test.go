package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aurora-vm-inspector/internal/collector"
	"aurora-vm-inspector/internal/inspector"
	"aurora-vm-inspector/internal/mgmt"
	"aurora-vm-inspector/internal/mgmt/memgraph"
	"aurora-vm-inspector/internal/model"
)

func testGraph() *memgraph.Graph {
	g := memgraph.New()
	g.AddMetricService()
	ids := g.AddStandardDefinitions()
	g.AddHostProcessor("0", 1000)

	web, ws := g.AddVM("web-1", "u1", 1000)
	g.AddProcessor(web, ws, 2)
	g.AddMetricValue(web, ids[mgmt.MetricCPU], 500)
	_, port := g.AddNIC(web, ws, "eth0", "aa")
	g.AddMetricValue(port, ids[mgmt.MetricNetIn], 10)
	d := g.AddDisk(web, ws, "sda")
	g.AddMetricValue(d, ids[mgmt.MetricDiskWrite], 20)

	g.AddVM("dup", "u2", 1000)
	g.AddVM("dup", "u3", 1000)
	return g
}

func newTestServer(t *testing.T, g *memgraph.Graph, store *collector.Store) *httptest.Server {
	t.Helper()
	in, err := inspector.New(context.Background(), g)
	if err != nil {
		t.Fatalf("inspector.New() error = %v", err)
	}
	srv := httptest.NewServer(NewRouter(Deps{
		Inspector: in,
		Store:     store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestInspectRoutes(t *testing.T) {
	srv := newTestServer(t, testGraph(), nil)

	var insts struct {
		Instances []model.Instance `json:"instances"`
	}
	if code := get(t, srv.URL+"/v1/instances", &insts); code != http.StatusOK {
		t.Fatalf("instances status = %d", code)
	}
	if len(insts.Instances) != 3 {
		t.Fatalf("instances = %+v, want 3", insts.Instances)
	}

	var cpu model.CPUStats
	if code := get(t, srv.URL+"/v1/instances/web-1/cpu", &cpu); code != http.StatusOK {
		t.Fatalf("cpu status = %d", code)
	}
	if cpu.Number != 2 || cpu.CumulativeTimeMs != 500 {
		t.Fatalf("cpu = %+v", cpu)
	}

	var nics struct {
		Interfaces []model.InterfaceSample `json:"interfaces"`
	}
	if code := get(t, srv.URL+"/v1/instances/web-1/interfaces", &nics); code != http.StatusOK {
		t.Fatalf("interfaces status = %d", code)
	}
	if len(nics.Interfaces) != 1 || nics.Interfaces[0].Stats.RxBytes != 10 {
		t.Fatalf("interfaces = %+v", nics.Interfaces)
	}

	var disks struct {
		Disks []model.DiskSample `json:"disks"`
	}
	if code := get(t, srv.URL+"/v1/instances/web-1/disks", &disks); code != http.StatusOK {
		t.Fatalf("disks status = %d", code)
	}
	if len(disks.Disks) != 1 || disks.Disks[0].Stats.WriteBytes != 20 {
		t.Fatalf("disks = %+v", disks.Disks)
	}
}

func TestInspectErrors(t *testing.T) {
	srv := newTestServer(t, testGraph(), nil)

	tests := []struct {
		path string
		code int
		kind string
	}{
		{"/v1/instances/missing/cpu", http.StatusNotFound, "instance_not_found"},
		{"/v1/instances/dup/cpu", http.StatusConflict, "ambiguous_instance"},
		{"/v1/instances/missing/interfaces", http.StatusNotFound, "instance_not_found"},
		{"/v1/instances/dup/disks", http.StatusConflict, "ambiguous_instance"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var body map[string]string
			if code := get(t, srv.URL+tt.path, &body); code != tt.code {
				t.Fatalf("status = %d, want %d", code, tt.code)
			}
			if body["kind"] != tt.kind {
				t.Fatalf("kind = %q, want %q", body["kind"], tt.kind)
			}
		})
	}
}

func TestBackendUnavailable(t *testing.T) {
	g := testGraph()
	srv := newTestServer(t, g, nil)
	g.Fail("QueryInstances", errors.New("connection refused"))

	if code := get(t, srv.URL+"/v1/instances", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{inspector.ErrInstanceNotFound, http.StatusNotFound},
		{inspector.ErrAmbiguousInstance, http.StatusConflict},
		{inspector.ErrNoRealizedConfiguration, http.StatusUnprocessableEntity},
		{inspector.ErrOrphanedPort, http.StatusUnprocessableEntity},
		{inspector.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSnapshotRoutes(t *testing.T) {
	store := collector.NewStore()
	store.Replace([]model.InstanceSnapshot{{Instance: model.Instance{Name: "web-1", UUID: "u1"}}}, time.Unix(1_700_000_000, 0))
	srv := newTestServer(t, testGraph(), store)

	var list struct {
		Snapshots    []model.InstanceSnapshot `json:"snapshots"`
		LastPollUnix int64                    `json:"last_poll_unix"`
	}
	if code := get(t, srv.URL+"/v1/snapshots", &list); code != http.StatusOK {
		t.Fatalf("snapshots status = %d", code)
	}
	if len(list.Snapshots) != 1 || list.LastPollUnix != 1_700_000_000 {
		t.Fatalf("snapshots = %+v", list)
	}

	var snap model.InstanceSnapshot
	if code := get(t, srv.URL+"/v1/snapshots/web-1", &snap); code != http.StatusOK || snap.Instance.UUID != "u1" {
		t.Fatalf("snapshot = %d %+v", code, snap)
	}
	if code := get(t, srv.URL+"/v1/snapshots/gone", nil); code != http.StatusNotFound {
		t.Fatalf("missing snapshot status = %d", code)
	}
}

func TestHealthz(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(NewRouter(Deps{
		Health: func() (any, bool) { return map[string]bool{"ok": healthy.Load()}, healthy.Load() },
	}))
	defer srv.Close()

	if code := get(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthy status = %d", code)
	}
	healthy.Store(false)
	if code := get(t, srv.URL+"/healthz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Deps{
		Store:             collector.NewStore(),
		RequestsPerSecond: 0.001,
	}))
	defer srv.Close()

	if code := get(t, srv.URL+"/v1/snapshots", nil); code != http.StatusOK {
		t.Fatalf("first status = %d", code)
	}
	resp, err := http.Get(srv.URL + "/v1/snapshots")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests || !strings.Contains(string(body), "rate limit") {
		t.Fatalf("second status = %d body = %s", resp.StatusCode, body)
	}
}

func TestServerShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", http.NotFoundHandler(), time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
