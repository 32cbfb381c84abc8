package collector

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"aurora-vm-inspector/internal/inspector"
	"aurora-vm-inspector/internal/model"
)

// Inspector is the read side of inspector.Inspector the poller drives.
type Inspector interface {
	Instances(ctx context.Context) iter.Seq2[model.Instance, error]
	InspectCPU(ctx context.Context, name string) (model.CPUStats, error)
	InspectVNICs(ctx context.Context, name string) iter.Seq2[model.InterfaceSample, error]
	InspectDisks(ctx context.Context, name string) iter.Seq2[model.DiskSample, error]
}

var _ Inspector = (*inspector.Inspector)(nil)

// Poller turns one enumeration plus per-instance inspections into snapshots.
type Poller struct {
	in     Inspector
	nodeID string
	logger *slog.Logger
	now    func() time.Time
}

func NewPoller(in Inspector, nodeID string, logger *slog.Logger) *Poller {
	return &Poller{in: in, nodeID: nodeID, logger: logger, now: time.Now}
}

// Poll inspects every instance once. Instances that vanish mid-cycle are
// dropped; data-integrity failures are kept as snapshots carrying the error.
// A backend failure aborts the cycle.
func (p *Poller) Poll(ctx context.Context) ([]model.InstanceSnapshot, error) {
	insts, err := inspector.Collect(p.in.Instances(ctx))
	if err != nil {
		return nil, err
	}
	at := p.now().UTC().Unix()
	out := make([]model.InstanceSnapshot, 0, len(insts))
	for _, inst := range insts {
		snap, err := p.inspect(ctx, inst)
		snap.TimestampUnix = at
		if err == nil {
			out = append(out, snap)
			continue
		}
		switch {
		case inspector.KindOf(err) == inspector.KindInstanceNotFound:
			p.logger.Debug("instance disappeared during poll", "instance", inst.Name)
		case inspector.IsDataIntegrity(err):
			p.logger.Warn("instance inspection inconsistent", "instance", inst.Name, "kind", inspector.KindOf(err).String(), "error", err)
			snap.Error = err.Error()
			snap.ErrorKind = inspector.KindOf(err).String()
			out = append(out, snap)
		default:
			p.logger.Error("instance inspection failed", "instance", inst.Name, "error", err)
			return nil, err
		}
	}
	return out, nil
}

func (p *Poller) inspect(ctx context.Context, inst model.Instance) (model.InstanceSnapshot, error) {
	snap := model.InstanceSnapshot{NodeID: p.nodeID, Instance: inst}
	cpu, err := p.in.InspectCPU(ctx, inst.Name)
	if err != nil {
		return snap, err
	}
	snap.CPU = cpu
	nics, err := inspector.Collect(p.in.InspectVNICs(ctx, inst.Name))
	if err != nil {
		return snap, err
	}
	snap.Interfaces = nics
	disks, err := inspector.Collect(p.in.InspectDisks(ctx, inst.Name))
	if err != nil {
		return snap, err
	}
	snap.Disks = disks
	return snap, nil
}
