// Package inspector polls a hypervisor management source for per-instance
// CPU, network and disk usage.
//
// An Inspector owns its mgmt.Source exclusively. Every call only reads the
// backend, except that instances seen for the first time get metric
// collection enabled before they are returned. Sources implementing
// mgmt.Viewer are pinned once per call, so each result comes from a single
// state of the backend.
package inspector

import (
	"context"
	"iter"
	"sync"

	"golang.org/x/sync/errgroup"

	"aurora-vm-inspector/internal/mgmt"
	"aurora-vm-inspector/internal/model"
)

type Inspector struct {
	src          mgmt.Source
	resolver     *Resolver
	enabler      *Enabler
	realizedType string
	concurrency  int
	capacity     func() (float64, error)
}

type Option func(*Inspector)

// WithConcurrency bounds how many NICs or disks of one instance are resolved
// in parallel. Values below 1 resolve sequentially.
func WithConcurrency(n int) Option {
	return func(i *Inspector) { i.concurrency = n }
}

// WithRealizedType overrides the system-type tag of live configurations.
func WithRealizedType(tag string) Option {
	return func(i *Inspector) { i.realizedType = tag }
}

// New builds an inspector over src, computes the host clock capacity and
// enables metric collection for the host and every current instance.
func New(ctx context.Context, src mgmt.Source, opts ...Option) (*Inspector, error) {
	resolver := NewResolver(src)
	in := &Inspector{
		src:         src,
		resolver:    resolver,
		enabler:     NewEnabler(src, resolver),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.capacity = sync.OnceValues(func() (float64, error) {
		return hostCapacity(ctx, src)
	})

	if _, err := in.capacity(); err != nil {
		return nil, err
	}
	if err := in.enabler.EnableHost(ctx); err != nil {
		return nil, err
	}
	vms, err := src.QueryInstances(ctx, mgmt.CaptionVirtualMachine)
	if err != nil {
		return nil, backend("list instances", "", err)
	}
	for _, vm := range vms {
		if err := in.enabler.EnableInstance(ctx, vm); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// HostCapacity is the summed maximum clock speed of the host's physical
// processors.
func (in *Inspector) HostCapacity() float64 {
	c, _ := in.capacity()
	return c
}

func hostCapacity(ctx context.Context, src mgmt.Source) (float64, error) {
	cpus, err := src.QueryByAttribute(ctx, mgmt.CategoryHostProcessor, nil)
	if err != nil {
		return 0, backend("host processors", "", err)
	}
	var total float64
	for _, c := range cpus {
		total += c.Float(mgmt.PropMaxClockSpeed)
	}
	return total, nil
}

// view answers one inspection call from a single state of the backend.
type view struct {
	src      mgmt.Source
	locator  *Locator
	resolver *Resolver
}

// pin takes the view every query of one call goes through.
func (in *Inspector) pin(ctx context.Context, subject string) (*view, error) {
	src := in.src
	if v, ok := in.src.(mgmt.Viewer); ok {
		pinned, err := v.View(ctx)
		if err != nil {
			return nil, backend("open view", subject, err)
		}
		src = pinned
	}
	return &view{
		src:      src,
		locator:  NewLocator(src, in.realizedType),
		resolver: in.resolver.on(src),
	}, nil
}

// Instances yields the guests of the host in backend order. The sequence
// stops after the first error.
func (in *Inspector) Instances(ctx context.Context) iter.Seq2[model.Instance, error] {
	return func(yield func(model.Instance, error) bool) {
		v, err := in.pin(ctx, "")
		if err != nil {
			yield(model.Instance{}, err)
			return
		}
		vms, err := v.src.QueryInstances(ctx, mgmt.CaptionVirtualMachine)
		if err != nil {
			yield(model.Instance{}, backend("list instances", "", err))
			return
		}
		for _, vm := range vms {
			if !in.enabler.Enabled(vm) {
				if err := in.enabler.EnableInstance(ctx, vm); err != nil {
					yield(model.Instance{}, err)
					return
				}
			}
			inst := model.Instance{Name: vm.String(mgmt.PropElementName), UUID: vm.String(mgmt.PropName)}
			if !yield(inst, nil) {
				return
			}
		}
	}
}

// InspectCPU reports vCPU count and consumed processor time of name.
func (in *Inspector) InspectCPU(ctx context.Context, name string) (model.CPUStats, error) {
	v, err := in.pin(ctx, name)
	if err != nil {
		return model.CPUStats{}, err
	}
	vm, err := v.locator.Lookup(ctx, name)
	if err != nil {
		return model.CPUStats{}, err
	}
	procs, err := v.locator.Resources(ctx, vm, mgmt.CategoryProcessorSetting)
	if err != nil {
		return model.CPUStats{}, err
	}
	used, err := v.resolver.Resolve(ctx, vm, mgmt.MetricCPU)
	if err != nil {
		return model.CPUStats{}, err
	}
	capacity, err := in.capacity()
	if err != nil {
		return model.CPUStats{}, err
	}

	stats := model.CPUStats{}
	if len(procs) > 0 {
		stats.Number = procs[0].Uint(mgmt.PropVirtualQuantity)
	}
	stats.CumulativeTimeMs = cpuTime(vm.Float(mgmt.PropOnTimeMs), used, capacity)
	return stats, nil
}

func cpuTime(uptimeMs, used, capacity float64) float64 {
	if capacity <= 0 || uptimeMs <= 0 || used <= 0 {
		return 0
	}
	return uptimeMs * (used / capacity)
}

// InspectVNICs yields one sample per network port of name. Nothing is
// yielded unless every port resolved.
func (in *Inspector) InspectVNICs(ctx context.Context, name string) iter.Seq2[model.InterfaceSample, error] {
	return func(yield func(model.InterfaceSample, error) bool) {
		samples, err := in.vnics(ctx, name)
		emit(samples, err, yield)
	}
}

func (in *Inspector) vnics(ctx context.Context, name string) ([]model.InterfaceSample, error) {
	v, err := in.pin(ctx, name)
	if err != nil {
		return nil, err
	}
	vm, err := v.locator.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	settings, err := v.locator.Realized(ctx, vm)
	if err != nil {
		return nil, err
	}
	ports, err := v.locator.Components(ctx, settings, mgmt.CategoryEthernetAllocation)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return []model.InterfaceSample{}, nil
	}
	adapters, err := v.locator.Components(ctx, settings, mgmt.CategorySyntheticEthernet)
	if err != nil {
		return nil, err
	}

	out := make([]model.InterfaceSample, len(ports))
	err = in.each(ctx, len(ports), func(ctx context.Context, i int) error {
		adapter, err := PortAdapter(adapters, ports[i])
		if err != nil {
			return err
		}
		vals, err := v.resolver.ResolveMany(ctx, ports[i], mgmt.MetricNetIn, mgmt.MetricNetOut)
		if err != nil {
			return err
		}
		out[i] = model.InterfaceSample{
			Interface: model.Interface{
				Name: adapter.String(mgmt.PropElementName),
				MAC:  adapter.String(mgmt.PropAddress),
			},
			Stats: model.InterfaceStats{RxBytes: counter(vals[0]), TxBytes: counter(vals[1])},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InspectDisks yields one sample per storage allocation of name. Nothing is
// yielded unless every disk resolved.
func (in *Inspector) InspectDisks(ctx context.Context, name string) iter.Seq2[model.DiskSample, error] {
	return func(yield func(model.DiskSample, error) bool) {
		samples, err := in.disks(ctx, name)
		emit(samples, err, yield)
	}
}

func (in *Inspector) disks(ctx context.Context, name string) ([]model.DiskSample, error) {
	v, err := in.pin(ctx, name)
	if err != nil {
		return nil, err
	}
	disks, err := v.locator.Locate(ctx, name, mgmt.CategoryStorageAllocation)
	if err != nil {
		return nil, err
	}
	out := make([]model.DiskSample, len(disks))
	err = in.each(ctx, len(disks), func(ctx context.Context, i int) error {
		vals, err := v.resolver.ResolveMany(ctx, disks[i], mgmt.MetricDiskRead, mgmt.MetricDiskWrite)
		if err != nil {
			return err
		}
		out[i] = model.DiskSample{
			Disk:  model.Disk{Device: diskDevice(disks[i])},
			Stats: model.DiskStats{ReadBytes: counter(vals[0]), WriteBytes: counter(vals[1])},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func diskDevice(d mgmt.Object) string {
	if dev := d.String(mgmt.PropHostResource); dev != "" {
		return dev
	}
	return d.Path
}

// each runs fn for 0..n-1, in parallel when configured, and returns the first
// error.
func (in *Inspector) each(ctx context.Context, n int, fn func(context.Context, int) error) error {
	if in.concurrency <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(gctx, i) })
	}
	return g.Wait()
}

func emit[T any](items []T, err error, yield func(T, error) bool) {
	if err != nil {
		var zero T
		yield(zero, err)
		return
	}
	for _, it := range items {
		if !yield(it, nil) {
			return
		}
	}
}

func counter(v float64) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(v)
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
