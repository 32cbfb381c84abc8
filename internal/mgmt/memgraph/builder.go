package memgraph

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"aurora-vm-inspector/internal/mgmt"
)

const MetricServicePath = "service/metrics"

// AddMetricService registers the single metric collection service.
func (g *Graph) AddMetricService() mgmt.Object {
	return g.Add(mgmt.Object{Path: MetricServicePath, Category: mgmt.CategoryMetricService})
}

// AddDefinition registers a metric definition named name with backend id.
func (g *Graph) AddDefinition(name, id string) mgmt.Object {
	return g.Add(mgmt.Object{
		Path:     "definition/" + id,
		Category: mgmt.CategoryMetricDefinition,
		Props:    map[string]any{mgmt.PropElementName: name, mgmt.PropID: id},
	})
}

// AddStandardDefinitions registers the five aggregate definitions used by the
// inspector and returns their ids keyed by name.
func (g *Graph) AddStandardDefinitions() map[string]string {
	ids := map[string]string{
		mgmt.MetricCPU:       "def-cpu",
		mgmt.MetricNetIn:     "def-net-in",
		mgmt.MetricNetOut:    "def-net-out",
		mgmt.MetricDiskRead:  "def-disk-read",
		mgmt.MetricDiskWrite: "def-disk-write",
	}
	for _, name := range []string{mgmt.MetricCPU, mgmt.MetricNetIn, mgmt.MetricNetOut, mgmt.MetricDiskRead, mgmt.MetricDiskWrite} {
		g.AddDefinition(name, ids[name])
	}
	return ids
}

func (g *Graph) AddHostProcessor(id string, maxMhz uint64) mgmt.Object {
	return g.Add(mgmt.Object{
		Path:     "host/cpu/" + id,
		Category: mgmt.CategoryHostProcessor,
		Props:    map[string]any{mgmt.PropMaxClockSpeed: maxMhz},
	})
}

// AddVM registers a guest and its realized configuration.
func (g *Graph) AddVM(name, uuid string, onTimeMs uint64) (vm, settings mgmt.Object) {
	vm = g.Add(mgmt.Object{
		Path:     "vm/" + uuid,
		Category: mgmt.CategoryComputerSystem,
		Props: map[string]any{
			mgmt.PropName:        uuid,
			mgmt.PropElementName: name,
			mgmt.PropCaption:     mgmt.CaptionVirtualMachine,
			mgmt.PropOnTimeMs:    onTimeMs,
		},
	})
	settings = g.addSettings(vm, "realized", mgmt.SystemTypeRealized)
	return vm, settings
}

// AddSnapshot registers a checkpoint configuration for vm.
func (g *Graph) AddSnapshot(vm mgmt.Object, name string) mgmt.Object {
	return g.addSettings(vm, "snapshot/"+name, mgmt.SystemTypeSnapshot)
}

func (g *Graph) addSettings(vm mgmt.Object, suffix, systemType string) mgmt.Object {
	s := g.Add(mgmt.Object{
		Path:     vm.Path + "/settings/" + suffix,
		Category: mgmt.CategorySystemSettingData,
		Props:    map[string]any{mgmt.PropSystemType: systemType},
	})
	g.Link(vm.Path, s.Path, "SettingsDefineState")
	g.Own(s.Path, vm.Path)
	return s
}

func (g *Graph) AddProcessor(vm, settings mgmt.Object, vcpus uint64) mgmt.Object {
	return g.addResource(vm, settings, mgmt.Object{
		Path:     settings.Path + "/processor",
		Category: mgmt.CategoryProcessorSetting,
		Props:    map[string]any{mgmt.PropVirtualQuantity: vcpus},
	})
}

// AddNIC registers a synthetic adapter and the port allocation connected to it.
func (g *Graph) AddNIC(vm, settings mgmt.Object, name, mac string) (adapter, port mgmt.Object) {
	adapter = g.addResource(vm, settings, mgmt.Object{
		Path:     settings.Path + "/nic/" + name,
		Category: mgmt.CategorySyntheticEthernet,
		Props:    map[string]any{mgmt.PropElementName: name, mgmt.PropAddress: mac},
	})
	port = g.addResource(vm, settings, mgmt.Object{
		Path:     settings.Path + "/port/" + name,
		Category: mgmt.CategoryEthernetAllocation,
		Props:    map[string]any{mgmt.PropParent: adapter.Path, mgmt.PropElementName: name},
	})
	return adapter, port
}

func (g *Graph) AddDisk(vm, settings mgmt.Object, device string) mgmt.Object {
	return g.addResource(vm, settings, mgmt.Object{
		Path:     settings.Path + "/disk/" + device,
		Category: mgmt.CategoryStorageAllocation,
		Props:    map[string]any{mgmt.PropHostResource: device, mgmt.PropElementName: device},
	})
}

func (g *Graph) addResource(vm, settings, obj mgmt.Object) mgmt.Object {
	obj = g.Add(obj)
	g.Link(settings.Path, obj.Path, "VirtualSystemSettingDataComponent")
	g.Own(obj.Path, vm.Path)
	return obj
}

// AddMetricValue attaches one metric record to element.
func (g *Graph) AddMetricValue(element mgmt.Object, definitionID string, value float64) mgmt.Object {
	g.mu.Lock()
	n := len(g.edges)
	g.mu.Unlock()
	v := g.Add(mgmt.Object{
		Path:     fmt.Sprintf("%s/metric/%s/%d", element.Path, definitionID, n),
		Category: mgmt.CategoryMetricValue,
		Props:    map[string]any{mgmt.PropMetricDefinitionID: definitionID, mgmt.PropMetricValue: value},
	})
	g.Link(element.Path, v.Path, mgmt.RelationshipMetricForElement)
	return v
}

// Fixture is the YAML shape accepted by LoadFixture.
type Fixture struct {
	HostProcessorsMhz []uint64    `yaml:"host_processors_mhz"`
	VMs               []FixtureVM `yaml:"vms"`
}

type FixtureVM struct {
	Name      string        `yaml:"name"`
	UUID      string        `yaml:"uuid"`
	OnTimeMs  uint64        `yaml:"on_time_ms"`
	VCPUs     uint64        `yaml:"vcpus"`
	CPUMetric float64       `yaml:"cpu_metric"`
	Snapshots []string      `yaml:"snapshots"`
	NICs      []FixtureNIC  `yaml:"nics"`
	Disks     []FixtureDisk `yaml:"disks"`
}

type FixtureNIC struct {
	Name string    `yaml:"name"`
	MAC  string    `yaml:"mac"`
	Rx   []float64 `yaml:"rx"`
	Tx   []float64 `yaml:"tx"`
}

type FixtureDisk struct {
	Device string    `yaml:"device"`
	Read   []float64 `yaml:"read"`
	Write  []float64 `yaml:"write"`
}

// LoadFixture builds a graph from a YAML document.
func LoadFixture(r io.Reader) (*Graph, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return FromFixture(f), nil
}

func FromFixture(f Fixture) *Graph {
	g := New()
	g.AddMetricService()
	ids := g.AddStandardDefinitions()
	for i, mhz := range f.HostProcessorsMhz {
		g.AddHostProcessor(fmt.Sprintf("%d", i), mhz)
	}
	for _, v := range f.VMs {
		vm, settings := g.AddVM(v.Name, v.UUID, v.OnTimeMs)
		for _, s := range v.Snapshots {
			g.AddSnapshot(vm, s)
		}
		g.AddProcessor(vm, settings, v.VCPUs)
		if v.CPUMetric > 0 {
			g.AddMetricValue(vm, ids[mgmt.MetricCPU], v.CPUMetric)
		}
		for _, n := range v.NICs {
			_, port := g.AddNIC(vm, settings, n.Name, n.MAC)
			for _, rx := range n.Rx {
				g.AddMetricValue(port, ids[mgmt.MetricNetIn], rx)
			}
			for _, tx := range n.Tx {
				g.AddMetricValue(port, ids[mgmt.MetricNetOut], tx)
			}
		}
		for _, d := range v.Disks {
			disk := g.AddDisk(vm, settings, d.Device)
			for _, rd := range d.Read {
				g.AddMetricValue(disk, ids[mgmt.MetricDiskRead], rd)
			}
			for _, wr := range d.Write {
				g.AddMetricValue(disk, ids[mgmt.MetricDiskWrite], wr)
			}
		}
	}
	return g
}
