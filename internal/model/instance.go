package model

// Instance is a guest known to the hypervisor. Name is the identifier used by
// every inspect call.
type Instance struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// CPUStats reports the configured vCPU count and the processor time the guest
// has consumed since power-on.
type CPUStats struct {
	Number           uint64  `json:"number"`
	CumulativeTimeMs float64 `json:"cumulative_time_ms"`
}

type Interface struct {
	Name       string            `json:"name"`
	MAC        string            `json:"mac"`
	Fref       string            `json:"fref,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// InterfaceStats holds cumulative counters; packet counts stay zero when the
// backend does not expose them.
type InterfaceStats struct {
	RxBytes   uint64 `json:"rx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
	TxPackets uint64 `json:"tx_packets"`
}

type InterfaceSample struct {
	Interface Interface      `json:"interface"`
	Stats     InterfaceStats `json:"stats"`
}

type Disk struct {
	Device string `json:"device"`
}

type DiskStats struct {
	ReadRequests  uint64 `json:"read_requests"`
	ReadBytes     uint64 `json:"read_bytes"`
	WriteRequests uint64 `json:"write_requests"`
	WriteBytes    uint64 `json:"write_bytes"`
	Errors        uint64 `json:"errors"`
}

type DiskSample struct {
	Disk  Disk      `json:"disk"`
	Stats DiskStats `json:"stats"`
}
