package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"aurora-vm-inspector/internal/mgmt"
	"aurora-vm-inspector/internal/mgmt/memgraph"
)

const defaultCacheTTL = 2 * time.Second

// SourceOptions tune how libvirt state is projected.
type SourceOptions struct {
	// CacheTTL bounds how long one projection of the host is reused.
	CacheTTL time.Duration
	// Uptime reports how long a running domain has been up.
	Uptime func(ctx context.Context, domain string) (uint64, error)
	// Processors reports per-package maximum clock speeds in MHz.
	Processors func(ctx context.Context) ([]float64, error)
	Logger     *slog.Logger
	Now        func() time.Time
}

type controlKey struct {
	subject    string
	definition string
}

// Source implements mgmt.Source over a libvirt connection. Each refresh
// projects every domain into an in-memory graph; metric enablement is kept in
// process and replayed onto every new projection. Controls whose subject no
// longer exists are dropped at the next refresh.
type Source struct {
	client func(ctx context.Context) (Client, error)
	opts   SourceOptions

	mu       sync.Mutex
	graph    *memgraph.Graph
	builtAt  time.Time
	procs    []float64
	controls map[controlKey]bool
}

func NewSource(conn *ConnManager, opts SourceOptions) *Source {
	return newSource(conn.Client, opts)
}

// NewSourceFromClient builds a Source over an already connected client.
func NewSourceFromClient(c Client, opts SourceOptions) *Source {
	return newSource(func(context.Context) (Client, error) { return c, nil }, opts)
}

func newSource(client func(context.Context) (Client, error), opts SourceOptions) *Source {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Uptime == nil {
		opts.Uptime = QEMUUptime{}.UptimeMs
	}
	if opts.Processors == nil {
		opts.Processors = HostProcessorsMhz
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Source{client: client, opts: opts, controls: map[controlKey]bool{}}
}

// View returns the current projection. Queries on it never trigger a refresh,
// so one inspection sees a single point-in-time state of the host.
func (s *Source) View(ctx context.Context) (mgmt.Source, error) {
	return s.current(ctx)
}

func (s *Source) QueryInstances(ctx context.Context, tag string) ([]mgmt.Object, error) {
	g, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return g.QueryInstances(ctx, tag)
}

func (s *Source) QueryAssociated(ctx context.Context, obj mgmt.Object, relationship, resultCategory string) ([]mgmt.Object, error) {
	g, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return g.QueryAssociated(ctx, obj, relationship, resultCategory)
}

func (s *Source) QueryByAttribute(ctx context.Context, category string, filters map[string]string) ([]mgmt.Object, error) {
	g, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return g.QueryByAttribute(ctx, category, filters)
}

func (s *Source) InvokeControl(ctx context.Context, service, subject, definition string, enable bool) error {
	g, err := s.current(ctx)
	if err != nil {
		return err
	}
	if err := g.InvokeControl(ctx, service, subject, definition, enable); err != nil {
		return err
	}
	s.mu.Lock()
	s.controls[controlKey{subject: subject, definition: definition}] = enable
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cached projection so the next query reads libvirt.
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = nil
}

func (s *Source) current(ctx context.Context) (*memgraph.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph != nil && s.opts.Now().Sub(s.builtAt) < s.opts.CacheTTL {
		return s.graph, nil
	}
	g, err := s.buildLocked(ctx)
	if err != nil {
		return nil, err
	}
	for key, enable := range s.controls {
		if key.subject != "" && !g.Has(key.subject) {
			delete(s.controls, key)
			continue
		}
		if err := g.InvokeControl(ctx, memgraph.MetricServicePath, key.subject, key.definition, enable); err != nil {
			return nil, fmt.Errorf("replay metric control: %w", err)
		}
	}
	s.graph = g
	s.builtAt = s.opts.Now()
	return g, nil
}

func (s *Source) buildLocked(ctx context.Context) (*memgraph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	if s.procs == nil {
		procs, err := s.opts.Processors(ctx)
		if err != nil {
			return nil, err
		}
		s.procs = procs
	}
	doms, err := c.Domains()
	if err != nil {
		return nil, err
	}
	recs, err := c.DomainStats(doms)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]domainStats, len(recs))
	for _, rec := range recs {
		stats[domainUUID(rec.Dom.UUID)] = parseStats(rec.Params)
	}

	g := memgraph.New()
	g.Gate(true)
	g.AddMetricService()
	ids := g.AddStandardDefinitions()
	var capacity float64
	for i, mhz := range s.procs {
		g.AddHostProcessor(strconv.Itoa(i), uint64(mhz))
		capacity += float64(uint64(mhz))
	}

	for _, dom := range doms {
		raw, err := c.DomainXML(dom)
		if err != nil {
			return nil, err
		}
		cfg, err := parseDomainXML(raw)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", dom.Name, err)
		}
		snaps, err := c.Snapshots(dom)
		if err != nil {
			return nil, err
		}
		id := domainUUID(dom.UUID)
		st, ok := stats[id]
		if !ok {
			st = parseStats(nil)
		}

		var uptime uint64
		if domainRunning(st.state()) {
			uptime, err = s.opts.Uptime(ctx, dom.Name)
			if err != nil {
				s.opts.Logger.Debug("domain uptime unavailable", "domain", dom.Name, "error", err)
				uptime = 0
			}
		}

		vm, settings := g.AddVM(dom.Name, id, uptime)
		for _, name := range snaps {
			g.AddSnapshot(vm, name)
		}
		vcpus := st.vcpus()
		if vcpus == 0 {
			vcpus = cfg.VCPUs
		}
		g.AddProcessor(vm, settings, vcpus)
		if uptime > 0 && capacity > 0 {
			cpuMs := float64(st.cpuTimeNs()) / float64(time.Millisecond)
			g.AddMetricValue(vm, ids[mgmt.MetricCPU], cpuMs*capacity/float64(uptime))
		}

		nets := st.devices("net")
		for _, nic := range cfg.NICs {
			_, port := g.AddNIC(vm, settings, nic.Name, nic.MAC)
			if counters, ok := nets[nic.Name]; ok {
				g.AddMetricValue(port, ids[mgmt.MetricNetIn], float64(counters["rx.bytes"]))
				g.AddMetricValue(port, ids[mgmt.MetricNetOut], float64(counters["tx.bytes"]))
			}
		}

		blocks := st.devices("block")
		for _, d := range cfg.Disks {
			device := firstNonEmpty(d.Source, d.Target)
			if device == "" {
				continue
			}
			disk := g.AddDisk(vm, settings, device)
			counters, ok := blocks[d.Target]
			if !ok {
				counters, ok = blocks[d.Source]
			}
			if ok {
				g.AddMetricValue(disk, ids[mgmt.MetricDiskRead], float64(counters["rd.bytes"]))
				g.AddMetricValue(disk, ids[mgmt.MetricDiskWrite], float64(counters["wr.bytes"]))
			}
		}
	}
	return g, nil
}

var (
	_ mgmt.Source = (*Source)(nil)
	_ mgmt.Viewer = (*Source)(nil)
)
