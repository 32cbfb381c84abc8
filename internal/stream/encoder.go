package stream

import (
	"context"
	"encoding/json"
	"time"

	"aurora-vm-inspector/internal/model"
)

// Sink forwards polling results to a remote collector.
type Sink interface {
	SendSnapshots(ctx context.Context, snaps []model.InstanceSnapshot) error
	Close(ctx context.Context) error
}

type SnapshotFrame struct {
	NodeID        string                   `json:"node_id"`
	TimestampUnix int64                    `json:"timestamp_unix"`
	Snapshots     []model.InstanceSnapshot `json:"snapshots"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewSnapshotFrame(snaps []model.InstanceSnapshot) SnapshotFrame {
	nodeID := ""
	at := time.Now().UTC().Unix()
	if len(snaps) > 0 {
		nodeID = snaps[0].NodeID
		at = snaps[0].TimestampUnix
	}
	return SnapshotFrame{NodeID: nodeID, TimestampUnix: at, Snapshots: snaps}
}

func AsEnvelope(f SnapshotFrame) model.Envelope {
	return model.Envelope{Type: model.MetricTypeInstanceSnapshot, NodeID: f.NodeID, TimestampUnix: f.TimestampUnix, Payload: f}
}

// NopSink drops everything; used when streaming is disabled.
type NopSink struct{}

func (NopSink) SendSnapshots(context.Context, []model.InstanceSnapshot) error { return nil }

func (NopSink) Close(context.Context) error { return nil }
