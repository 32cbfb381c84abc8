package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	backendConnected atomic.Bool
	streamConnected  atomic.Bool
	lastPollAt       atomic.Int64
	lastSendAt       atomic.Int64
	instances        atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetBackendConnected(ok bool) {
	h.backendConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkPoll(ts time.Time, instances int) {
	h.lastPollAt.Store(ts.UnixNano())
	h.instances.Store(int64(instances))
}

func (h *HealthStatus) MarkSend(ts time.Time) {
	h.lastSendAt.Store(ts.UnixNano())
}

// Serving reports whether the agent can answer inspection requests. A broken
// stream does not count against it.
func (h *HealthStatus) Serving() bool {
	return h.backendConnected.Load()
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"backend_connected": h.backendConnected.Load(),
		"stream_connected":  h.streamConnected.Load(),
		"instances":         h.instances.Load(),
	}
	if v := h.lastPollAt.Load(); v > 0 {
		out["last_poll_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastSendAt.Load(); v > 0 {
		out["last_send_at"] = time.Unix(0, v).UTC()
	}
	return out
}
