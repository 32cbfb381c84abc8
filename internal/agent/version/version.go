// Package version describes the running build for the CLI and the probe
// endpoint.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"aurora-vm-inspector/internal/config"
)

type Info struct {
	NodeID          string `json:"node_id"`
	AgentVersion    string `json:"agent_version"`
	Backend         string `json:"backend"`
	StreamMode      string `json:"stream_mode"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	GoVersion       string `json:"go_version"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}

func Get(cfg config.Config) Info {
	return Info{
		NodeID:          cfg.NodeID,
		AgentVersion:    cfg.AgentVersion,
		Backend:         string(cfg.Backend),
		StreamMode:      string(cfg.StreamMode),
		ProbeListenAddr: cfg.ProbeListenAddr,
		GoVersion:       runtime.Version(),
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}

// ProbeReply is the line written to every probe connection.
func (i Info) ProbeReply() string {
	return fmt.Sprintf("aurora-vm-inspector:ok %s\n", i.AgentVersion)
}

func (i Info) JSON() ([]byte, error) {
	return json.MarshalIndent(i, "", "  ")
}
