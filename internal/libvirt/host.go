package libvirt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

const defaultQEMURunDir = "/run/libvirt/qemu"

// HostProcessorsMhz returns the maximum clock speed of each physical
// processor package on this host.
func HostProcessorsMhz(ctx context.Context) ([]float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cpu info: %w", err)
	}
	return packageMhz(infos), nil
}

func packageMhz(infos []cpu.InfoStat) []float64 {
	byPackage := map[string]float64{}
	for _, info := range infos {
		id := info.PhysicalID
		if id == "" {
			id = "0"
		}
		if info.Mhz > byPackage[id] {
			byPackage[id] = info.Mhz
		}
	}
	ids := make([]string, 0, len(byPackage))
	for id := range byPackage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]float64, 0, len(ids))
	for _, id := range ids {
		out = append(out, byPackage[id])
	}
	return out
}

// QEMUUptime measures how long the qemu process of a domain has been running
// from the pid file libvirt keeps under runDir.
type QEMUUptime struct {
	RunDir string
	Now    func() time.Time
}

func (q QEMUUptime) UptimeMs(ctx context.Context, domain string) (uint64, error) {
	dir := q.RunDir
	if dir == "" {
		dir = defaultQEMURunDir
	}
	raw, err := os.ReadFile(filepath.Join(dir, domain+".pid"))
	if err != nil {
		return 0, fmt.Errorf("read qemu pid of %s: %w", domain, err)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse qemu pid of %s: %w", domain, err)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, fmt.Errorf("open qemu process %d: %w", pid, err)
	}
	created, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("qemu process %d start time: %w", pid, err)
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	up := now().UnixMilli() - created
	if up < 0 {
		return 0, nil
	}
	return uint64(up), nil
}
