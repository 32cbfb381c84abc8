package inspector

import (
	"context"
	"sync"

	"aurora-vm-inspector/internal/mgmt"
)

// HostMetrics are enabled for every element when the inspector starts.
var HostMetrics = []string{mgmt.MetricCPU, mgmt.MetricNetIn, mgmt.MetricNetOut}

// Enabler turns on metric collection in the backend. Each scope is enabled at
// most once per process.
type Enabler struct {
	src      mgmt.Source
	resolver *Resolver

	mu      sync.Mutex
	service string
	done    map[string]bool
}

func NewEnabler(src mgmt.Source, resolver *Resolver) *Enabler {
	return &Enabler{src: src, resolver: resolver, done: map[string]bool{}}
}

// EnableHost enables the aggregate host metrics for all elements. Definitions
// the backend does not know are skipped.
func (e *Enabler) EnableHost(ctx context.Context) error {
	for _, name := range HostMetrics {
		def, ok, err := e.resolver.Definition(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := e.control(ctx, "definition:"+def.Path, "", def.Path); err != nil {
			return err
		}
	}
	return nil
}

// EnableInstance enables every metric scoped to vm.
func (e *Enabler) EnableInstance(ctx context.Context, vm mgmt.Object) error {
	return e.control(ctx, "subject:"+vm.Path, vm.Path, "")
}

// Enabled reports whether vm has already been enabled.
func (e *Enabler) Enabled(vm mgmt.Object) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done["subject:"+vm.Path]
}

func (e *Enabler) control(ctx context.Context, scope, subject, definition string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done[scope] {
		return nil
	}
	svc, err := e.serviceLocked(ctx)
	if err != nil {
		return err
	}
	if err := e.src.InvokeControl(ctx, svc, subject, definition, true); err != nil {
		return backend("enable metrics", scope, err)
	}
	e.done[scope] = true
	return nil
}

func (e *Enabler) serviceLocked(ctx context.Context) (string, error) {
	if e.service != "" {
		return e.service, nil
	}
	svcs, err := e.src.QueryByAttribute(ctx, mgmt.CategoryMetricService, nil)
	if err != nil {
		return "", backend("metric service", "", err)
	}
	if len(svcs) == 0 {
		return "", &Error{Kind: KindBackendUnavailable, Op: "metric service", Subject: "none registered"}
	}
	e.service = svcs[0].Path
	return e.service, nil
}
