package version

import (
	"encoding/json"
	"testing"

	"aurora-vm-inspector/internal/config"
)

func TestGet(t *testing.T) {
	cfg := config.Default()
	cfg.NodeID = "hv01"
	cfg.AgentVersion = "v1.2.3"

	info := Get(cfg)
	if info.NodeID != "hv01" || info.Backend != "libvirt" || info.StreamMode != "none" {
		t.Fatalf("Get() = %+v", info)
	}
	if got := info.ProbeReply(); got != "aurora-vm-inspector:ok v1.2.3\n" {
		t.Fatalf("ProbeReply() = %q", got)
	}

	raw, err := info.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil || back["agent_version"] != "v1.2.3" {
		t.Fatalf("JSON() = %s, %v", raw, err)
	}
}
