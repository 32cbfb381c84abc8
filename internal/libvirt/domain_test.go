package libvirt

import (
	"testing"

	"github.com/shirou/gopsutil/v4/cpu"
)

func TestParseDomainXML(t *testing.T) {
	cfg, err := parseDomainXML(webXML)
	if err != nil {
		t.Fatalf("parseDomainXML() error = %v", err)
	}
	if cfg.Name != "web-1" || cfg.VCPUs != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Disks) != 1 || cfg.Disks[0].Target != "vda" || cfg.Disks[0].Source != "/images/web-1.qcow2" {
		t.Fatalf("disks = %+v", cfg.Disks)
	}
	if len(cfg.NICs) != 1 || cfg.NICs[0].Name != "vnet0" {
		t.Fatalf("nics = %+v", cfg.NICs)
	}

	if _, err := parseDomainXML("<domain>"); err == nil {
		t.Fatal("parseDomainXML() accepted truncated xml")
	}
}

func TestParseDomainXMLFallbacks(t *testing.T) {
	cfg, err := parseDomainXML(`<domain><vcpu>3</vcpu><devices>
		<interface type='bridge'><mac address='52:54:00:00:00:09'/></interface>
		<disk type='network' device='disk'><source name='pool/vol'/><target dev='vdb'/></disk>
	</devices></domain>`)
	if err != nil {
		t.Fatalf("parseDomainXML() error = %v", err)
	}
	if cfg.VCPUs != 3 {
		t.Errorf("VCPUs = %d, want 3", cfg.VCPUs)
	}
	if cfg.NICs[0].Name != "net0" {
		t.Errorf("unnamed nic = %q, want net0", cfg.NICs[0].Name)
	}
	if cfg.Disks[0].Source != "pool/vol" {
		t.Errorf("network disk source = %q", cfg.Disks[0].Source)
	}
}

func TestStatsDevices(t *testing.T) {
	st := parseStats(newFakeClient().stats[0].Params)
	if st.state() != 1 || st.vcpus() != 2 || st.cpuTimeNs() != 5_000_000_000 {
		t.Fatalf("scalar stats = %d %d %d", st.state(), st.vcpus(), st.cpuTimeNs())
	}
	blocks := st.devices("block")
	if blocks["vda"]["rd.bytes"] != 4096 || blocks["/images/web-1.qcow2"]["wr.bytes"] != 1024 {
		t.Fatalf("block devices = %+v", blocks)
	}
	if len(st.devices("net")) != 1 {
		t.Fatalf("net devices = %+v", st.devices("net"))
	}
}

func TestAsUint64(t *testing.T) {
	tests := []struct {
		in   any
		want uint64
	}{
		{uint64(7), 7},
		{int32(-1), 0},
		{int64(12), 12},
		{float64(3.9), 3},
		{true, 1},
		{"x", 0},
	}
	for _, tt := range tests {
		if got := asUint64(tt.in); got != tt.want {
			t.Errorf("asUint64(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPackageMhz(t *testing.T) {
	got := packageMhz([]cpu.InfoStat{
		{PhysicalID: "0", Mhz: 2000},
		{PhysicalID: "0", Mhz: 1800},
		{PhysicalID: "1", Mhz: 2400},
		{PhysicalID: "1", Mhz: 2400},
	})
	if len(got) != 2 || got[0] != 2000 || got[1] != 2400 {
		t.Fatalf("packageMhz() = %v, want [2000 2400]", got)
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "qemu:///system"},
		{"qemu+tcp://10.0.0.5/system", "qemu+tcp://10.0.0.5/system"},
		{"not-a-uri", "qemu:///system"},
	}
	for _, tt := range tests {
		u, err := parseURI(tt.raw)
		if err != nil {
			t.Fatalf("parseURI(%q) error = %v", tt.raw, err)
		}
		if u.String() != tt.want {
			t.Errorf("parseURI(%q) = %q, want %q", tt.raw, u.String(), tt.want)
		}
	}
}
