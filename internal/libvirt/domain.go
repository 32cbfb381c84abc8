package libvirt

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
)

type domainXML struct {
	Name    string           `xml:"name"`
	UUID    string           `xml:"uuid"`
	VCPU    domainVCPUXML    `xml:"vcpu"`
	Devices domainDevicesXML `xml:"devices"`
}

type domainVCPUXML struct {
	Current string `xml:"current,attr"`
	Value   string `xml:",chardata"`
}

type domainDevicesXML struct {
	Disks      []domainDiskXML  `xml:"disk"`
	Interfaces []domainIfaceXML `xml:"interface"`
}

type domainDiskXML struct {
	Device string `xml:"device,attr"`
	Source struct {
		File string `xml:"file,attr"`
		Dev  string `xml:"dev,attr"`
		Name string `xml:"name,attr"`
	} `xml:"source"`
	Target struct {
		Dev string `xml:"dev,attr"`
	} `xml:"target"`
}

type domainIfaceXML struct {
	Type string `xml:"type,attr"`
	MAC  struct {
		Address string `xml:"address,attr"`
	} `xml:"mac"`
	Target struct {
		Dev string `xml:"dev,attr"`
	} `xml:"target"`
	Alias struct {
		Name string `xml:"name,attr"`
	} `xml:"alias"`
}

// domainConfig is the slice of a domain definition projected into the
// management graph.
type domainConfig struct {
	Name  string
	VCPUs uint64
	Disks []diskConfig
	NICs  []nicConfig
}

type diskConfig struct {
	Target string
	Source string
}

type nicConfig struct {
	Name string
	MAC  string
}

func parseDomainXML(raw string) (domainConfig, error) {
	var d domainXML
	if err := xml.Unmarshal([]byte(raw), &d); err != nil {
		return domainConfig{}, fmt.Errorf("unmarshal domain xml: %w", err)
	}
	cfg := domainConfig{Name: strings.TrimSpace(d.Name)}
	cfg.VCPUs = parseUintDefault(d.VCPU.Current, 0)
	if cfg.VCPUs == 0 {
		cfg.VCPUs = parseUintDefault(d.VCPU.Value, 0)
	}
	for _, disk := range d.Devices.Disks {
		if disk.Device != "" && disk.Device != "disk" {
			continue
		}
		src := firstNonEmpty(disk.Source.File, disk.Source.Dev, disk.Source.Name)
		cfg.Disks = append(cfg.Disks, diskConfig{Target: strings.TrimSpace(disk.Target.Dev), Source: strings.TrimSpace(src)})
	}
	for i, iface := range d.Devices.Interfaces {
		name := firstNonEmpty(iface.Target.Dev, iface.Alias.Name)
		if name == "" {
			name = fmt.Sprintf("net%d", i)
		}
		cfg.NICs = append(cfg.NICs, nicConfig{Name: name, MAC: strings.ToLower(strings.TrimSpace(iface.MAC.Address))})
	}
	return cfg, nil
}

// domainStats holds one ConnectGetAllDomainStats record keyed by field.
type domainStats struct {
	nums map[string]uint64
	strs map[string]string
}

func parseStats(params []golibvirt.TypedParam) domainStats {
	s := domainStats{nums: map[string]uint64{}, strs: map[string]string{}}
	for _, p := range params {
		if v, ok := p.Value.I.(string); ok {
			s.strs[p.Field] = v
			continue
		}
		s.nums[p.Field] = asUint64(p.Value.I)
	}
	return s
}

func (s domainStats) state() uint64 { return s.nums["state.state"] }

func (s domainStats) cpuTimeNs() uint64 { return s.nums["cpu.time"] }

func (s domainStats) vcpus() uint64 { return s.nums["vcpu.current"] }

// devices returns per-device counters of a group ("net" or "block") keyed by
// the device name libvirt reports.
func (s domainStats) devices(group string) map[string]map[string]uint64 {
	out := map[string]map[string]uint64{}
	n := s.nums[group+".count"]
	for i := uint64(0); i < n; i++ {
		prefix := group + "." + strconv.FormatUint(i, 10) + "."
		name := s.strs[prefix+"name"]
		if name == "" {
			continue
		}
		counters := map[string]uint64{}
		for k, v := range s.nums {
			if strings.HasPrefix(k, prefix) {
				counters[strings.TrimPrefix(k, prefix)] = v
			}
		}
		if path := s.strs[prefix+"path"]; path != "" {
			out[path] = counters
		}
		out[name] = counters
	}
	return out
}

func domainRunning(state uint64) bool {
	// running, blocked, paused
	return state == 1 || state == 2 || state == 3
}

func asUint64(v any) uint64 {
	switch t := v.(type) {
	case uint64:
		return t
	case uint32:
		return uint64(t)
	case uint16:
		return uint64(t)
	case uint8:
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int32:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func domainUUID(u golibvirt.UUID) string {
	id, err := uuid.FromBytes(u[:])
	if err != nil {
		return ""
	}
	return id.String()
}

func parseUintDefault(v string, fallback uint64) uint64 {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return fallback
	}
	u, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return u
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
