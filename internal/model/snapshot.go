package model

import "sort"

// InstanceSnapshot is everything one polling cycle learned about a guest.
type InstanceSnapshot struct {
	NodeID        string            `json:"node_id"`
	Instance      Instance          `json:"instance"`
	TimestampUnix int64             `json:"timestamp_unix"`
	CPU           CPUStats          `json:"cpu"`
	Interfaces    []InterfaceSample `json:"interfaces"`
	Disks         []DiskSample      `json:"disks"`
	Error         string            `json:"error,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
}

// Complete reports whether every inspection of the cycle succeeded.
func (s InstanceSnapshot) Complete() bool {
	return s.Error == ""
}

func (s InstanceSnapshot) RxBytesTotal() uint64 {
	var n uint64
	for _, nic := range s.Interfaces {
		n += nic.Stats.RxBytes
	}
	return n
}

func (s InstanceSnapshot) TxBytesTotal() uint64 {
	var n uint64
	for _, nic := range s.Interfaces {
		n += nic.Stats.TxBytes
	}
	return n
}

// SortedByName returns a copy of snaps ordered by instance name.
func SortedByName(snaps []InstanceSnapshot) []InstanceSnapshot {
	out := append([]InstanceSnapshot(nil), snaps...)
	sort.Slice(out, func(i, j int) bool { return out[i].Instance.Name < out[j].Instance.Name })
	return out
}
