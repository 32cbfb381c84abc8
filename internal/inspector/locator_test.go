package inspector

import (
	"context"
	"testing"

	"aurora-vm-inspector/internal/mgmt"
	"aurora-vm-inspector/internal/mgmt/memgraph"
)

func TestLocateSkipsSnapshots(t *testing.T) {
	g := memgraph.New()
	vm, settings := g.AddVM("web-1", "u1", 1)
	g.AddDisk(vm, settings, "live.vhdx")
	snap := g.AddSnapshot(vm, "cp1")
	g.AddDisk(vm, snap, "cp1.avhdx")

	disks, err := NewLocator(g, "").Locate(context.Background(), "web-1", mgmt.CategoryStorageAllocation)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(disks) != 1 || disks[0].String(mgmt.PropHostResource) != "live.vhdx" {
		t.Fatalf("Locate() = %+v, want only live.vhdx", disks)
	}
}

func TestLocateEmpty(t *testing.T) {
	g := memgraph.New()
	g.AddVM("web-1", "u1", 1)

	nics, err := NewLocator(g, "").Locate(context.Background(), "web-1", mgmt.CategoryEthernetAllocation)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(nics) != 0 {
		t.Fatalf("Locate() = %+v, want none", nics)
	}
}

func TestPortAdapter(t *testing.T) {
	a1 := mgmt.Object{Path: "nic/a"}
	a2 := mgmt.Object{Path: "nic/b"}
	dup := mgmt.Object{Path: "nic/b", Props: map[string]any{mgmt.PropElementName: "dup"}}

	tests := []struct {
		name     string
		adapters []mgmt.Object
		parent   string
		want     string
		wantKind Kind
	}{
		{"match", []mgmt.Object{a1, a2}, "nic/b", "nic/b", 0},
		{"first wins", []mgmt.Object{a2, dup}, "nic/b", "nic/b", 0},
		{"no match", []mgmt.Object{a1}, "nic/z", "", KindOrphanedPort},
		{"no parent", []mgmt.Object{a1}, "", "", KindOrphanedPort},
		{"no adapters", nil, "nic/a", "", KindOrphanedPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := mgmt.Object{Path: "port/x", Props: map[string]any{mgmt.PropParent: tt.parent}}
			got, err := PortAdapter(tt.adapters, port)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("PortAdapter() error = %v, want kind %v", err, tt.wantKind)
			}
			if got.Path != tt.want {
				t.Fatalf("PortAdapter() = %q, want %q", got.Path, tt.want)
			}
			if tt.name == "first wins" && got.String(mgmt.PropElementName) != "" {
				t.Fatal("PortAdapter() returned the later duplicate")
			}
		})
	}
}
