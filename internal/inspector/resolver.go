package inspector

import (
	"context"
	"sync"

	"aurora-vm-inspector/internal/mgmt"
)

// Resolver turns a metric name into the current value measured for one
// management object.
type Resolver struct {
	src  mgmt.Source
	defs *definitions
}

// definitions caches metric definitions by name. It is shared by every
// Resolver derived with on.
type definitions struct {
	mu     sync.RWMutex
	byName map[string]mgmt.Object
}

func NewResolver(src mgmt.Source) *Resolver {
	return &Resolver{src: src, defs: &definitions{byName: map[string]mgmt.Object{}}}
}

// on returns a Resolver reading values from src and sharing r's definitions.
func (r *Resolver) on(src mgmt.Source) *Resolver {
	return &Resolver{src: src, defs: r.defs}
}

// Definition returns the metric definition named name. ok is false when the
// backend does not define it.
func (r *Resolver) Definition(ctx context.Context, name string) (def mgmt.Object, ok bool, err error) {
	r.defs.mu.RLock()
	def, ok = r.defs.byName[name]
	r.defs.mu.RUnlock()
	if ok {
		return def, true, nil
	}

	found, err := r.src.QueryByAttribute(ctx, mgmt.CategoryMetricDefinition, map[string]string{mgmt.PropElementName: name})
	if err != nil {
		return mgmt.Object{}, false, backend("metric definition", name, err)
	}
	if len(found) == 0 {
		return mgmt.Object{}, false, nil
	}

	r.defs.mu.Lock()
	defer r.defs.mu.Unlock()
	// first resolution wins for the process lifetime
	if cached, ok := r.defs.byName[name]; ok {
		return cached, true, nil
	}
	r.defs.byName[name] = found[0]
	return found[0], true, nil
}

// Resolve sums every value of metric name recorded for obj. Unknown metrics
// and elements without samples resolve to zero.
func (r *Resolver) Resolve(ctx context.Context, obj mgmt.Object, name string) (float64, error) {
	vals, err := r.ResolveMany(ctx, obj, name)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// ResolveMany resolves several metrics of obj with a single association
// query. The result is index-aligned with names.
func (r *Resolver) ResolveMany(ctx context.Context, obj mgmt.Object, names ...string) ([]float64, error) {
	out := make([]float64, len(names))
	ids := make([]string, len(names))
	wanted := 0
	for i, name := range names {
		def, ok, err := r.Definition(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			ids[i] = def.String(mgmt.PropID)
			wanted++
		}
	}
	if wanted == 0 {
		return out, nil
	}

	records, err := r.src.QueryAssociated(ctx, obj, mgmt.RelationshipMetricForElement, mgmt.CategoryMetricValue)
	if err != nil {
		return nil, backend("metric values", obj.Path, err)
	}
	for i, id := range ids {
		if id == "" {
			continue
		}
		out[i] = sumMatching(records, id)
	}
	return out, nil
}

func sumMatching(records []mgmt.Object, definitionID string) float64 {
	var sum float64
	for _, rec := range records {
		if rec.String(mgmt.PropMetricDefinitionID) == definitionID {
			sum += rec.Float(mgmt.PropMetricValue)
		}
	}
	return sum
}
