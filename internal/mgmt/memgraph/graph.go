// Package memgraph is an in-memory mgmt.Source. It backs the demo backend and
// the tests of everything layered on top of mgmt.
package memgraph

import (
	"context"
	"fmt"
	"sync"

	"aurora-vm-inspector/internal/mgmt"
)

type edge struct {
	from         string
	to           string
	relationship string
}

// Control records one InvokeControl call.
type Control struct {
	Service    string
	Subject    string
	Definition string
	Enable     bool
}

// Graph holds objects in insertion order plus association edges.
type Graph struct {
	mu       sync.RWMutex
	order    []string
	objects  map[string]mgmt.Object
	owner    map[string]string
	edges    []edge
	gated    bool
	defs     map[string]bool
	subjects map[string]bool
	controls []Control
	failures map[string]error
}

func New() *Graph {
	return &Graph{
		objects:  map[string]mgmt.Object{},
		owner:    map[string]string{},
		defs:     map[string]bool{},
		subjects: map[string]bool{},
		failures: map[string]error{},
	}
}

// Gate makes metric values invisible until collection is enabled for their
// definition or for the element (or its owner) they measure.
func (g *Graph) Gate(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gated = on
}

// Add stores obj, replacing any object with the same path.
func (g *Graph) Add(obj mgmt.Object) mgmt.Object {
	g.mu.Lock()
	defer g.mu.Unlock()
	if obj.Props == nil {
		obj.Props = map[string]any{}
	}
	if _, ok := g.objects[obj.Path]; !ok {
		g.order = append(g.order, obj.Path)
	}
	g.objects[obj.Path] = obj
	return obj
}

// Own records that child belongs to owner for enablement purposes.
func (g *Graph) Own(child, owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owner[child] = owner
}

// Link adds a directed association from -> to.
func (g *Graph) Link(from, to, relationship string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, edge{from: from, to: to, relationship: relationship})
}

// Fail makes the named operation return err until cleared with a nil err.
// Operation names match the mgmt.Source method names.
func (g *Graph) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// Has reports whether an object is stored at path.
func (g *Graph) Has(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.objects[path]
	return ok
}

// Controls returns the InvokeControl calls seen so far.
func (g *Graph) Controls() []Control {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Control(nil), g.controls...)
}

func (g *Graph) QueryInstances(ctx context.Context, tag string) ([]mgmt.Object, error) {
	g.mu.RLock()
	err := g.check(ctx, "QueryInstances")
	g.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return g.QueryByAttribute(ctx, mgmt.CategoryComputerSystem, map[string]string{mgmt.PropCaption: tag})
}

func (g *Graph) QueryAssociated(ctx context.Context, obj mgmt.Object, relationship, resultCategory string) ([]mgmt.Object, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.check(ctx, "QueryAssociated"); err != nil {
		return nil, err
	}
	out := []mgmt.Object{}
	for _, e := range g.edges {
		var other string
		switch {
		case e.from == obj.Path:
			other = e.to
		case e.to == obj.Path:
			other = e.from
		default:
			continue
		}
		if relationship != mgmt.RelationshipAny && e.relationship != relationship {
			continue
		}
		o, ok := g.objects[other]
		if !ok || (resultCategory != "" && o.Category != resultCategory) {
			continue
		}
		if o.Category == mgmt.CategoryMetricValue && !g.visibleLocked(o, obj.Path) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (g *Graph) QueryByAttribute(ctx context.Context, category string, filters map[string]string) ([]mgmt.Object, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.check(ctx, "QueryByAttribute"); err != nil {
		return nil, err
	}
	out := []mgmt.Object{}
	for _, p := range g.order {
		o := g.objects[p]
		if o.Category == category && o.Matches(filters) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *Graph) InvokeControl(ctx context.Context, service, subject, definition string, enable bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check(ctx, "InvokeControl"); err != nil {
		return err
	}
	if svc, ok := g.objects[service]; !ok || svc.Category != mgmt.CategoryMetricService {
		return fmt.Errorf("metric service %q not found", service)
	}
	g.controls = append(g.controls, Control{Service: service, Subject: subject, Definition: definition, Enable: enable})
	switch {
	case subject == "" && definition == "":
		return fmt.Errorf("control requires a subject or a definition")
	case subject == "":
		g.defs[definition] = enable
	default:
		g.subjects[subject] = enable
	}
	return nil
}

func (g *Graph) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.failures[op]
}

func (g *Graph) visibleLocked(value mgmt.Object, element string) bool {
	if !g.gated {
		return true
	}
	if g.subjects[element] || g.subjects[g.owner[element]] {
		return true
	}
	id := value.String(mgmt.PropMetricDefinitionID)
	for path, on := range g.defs {
		if on && g.objects[path].String(mgmt.PropID) == id {
			return true
		}
	}
	return false
}

var _ mgmt.Source = (*Graph)(nil)
