package inspector

import (
	"context"
	"fmt"

	"aurora-vm-inspector/internal/mgmt"
)

// Locator finds the live configuration objects allocated to an instance.
type Locator struct {
	src          mgmt.Source
	realizedType string
}

func NewLocator(src mgmt.Source, realizedType string) *Locator {
	if realizedType == "" {
		realizedType = mgmt.SystemTypeRealized
	}
	return &Locator{src: src, realizedType: realizedType}
}

// Lookup resolves an instance name to exactly one compute system.
func (l *Locator) Lookup(ctx context.Context, name string) (mgmt.Object, error) {
	vms, err := l.src.QueryByAttribute(ctx, mgmt.CategoryComputerSystem, map[string]string{mgmt.PropElementName: name})
	if err != nil {
		return mgmt.Object{}, backend("lookup instance", name, err)
	}
	switch len(vms) {
	case 0:
		return mgmt.Object{}, &Error{Kind: KindInstanceNotFound, Op: "lookup instance", Subject: name}
	case 1:
		return vms[0], nil
	default:
		return mgmt.Object{}, &Error{
			Kind:    KindAmbiguousInstance,
			Op:      "lookup instance",
			Subject: name,
			Err:     fmt.Errorf("%d compute systems share this name", len(vms)),
		}
	}
}

// Realized returns the non-snapshot setting data of vm.
func (l *Locator) Realized(ctx context.Context, vm mgmt.Object) (mgmt.Object, error) {
	all, err := l.src.QueryAssociated(ctx, vm, mgmt.RelationshipAny, mgmt.CategorySystemSettingData)
	if err != nil {
		return mgmt.Object{}, backend("setting data", vm.Path, err)
	}
	for _, s := range all {
		if s.String(mgmt.PropSystemType) == l.realizedType {
			return s, nil
		}
	}
	return mgmt.Object{}, &Error{Kind: KindNoRealizedConfiguration, Op: "setting data", Subject: vm.Path}
}

// Resources returns the category resources of vm's realized configuration in
// backend order.
func (l *Locator) Resources(ctx context.Context, vm mgmt.Object, category string) ([]mgmt.Object, error) {
	settings, err := l.Realized(ctx, vm)
	if err != nil {
		return nil, err
	}
	return l.Components(ctx, settings, category)
}

// Components returns the category resources attached to one setting-data
// object.
func (l *Locator) Components(ctx context.Context, settings mgmt.Object, category string) ([]mgmt.Object, error) {
	out, err := l.src.QueryAssociated(ctx, settings, mgmt.RelationshipAny, category)
	if err != nil {
		return nil, backend("resources "+category, settings.Path, err)
	}
	return out, nil
}

// Locate resolves name and returns its resources of category.
func (l *Locator) Locate(ctx context.Context, name, category string) ([]mgmt.Object, error) {
	vm, err := l.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return l.Resources(ctx, vm, category)
}

// PortAdapter returns the synthetic adapter that port is connected to, picked
// from adapters. The first adapter whose path is the port's parent wins.
func PortAdapter(adapters []mgmt.Object, port mgmt.Object) (mgmt.Object, error) {
	parent := port.String(mgmt.PropParent)
	for _, a := range adapters {
		if parent != "" && a.Path == parent {
			return a, nil
		}
	}
	return mgmt.Object{}, &Error{Kind: KindOrphanedPort, Op: "pair port", Subject: port.Path}
}
