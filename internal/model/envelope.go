package model

type MetricType string

const (
	MetricTypeInstanceSnapshot MetricType = "instance_snapshot"
)

// Envelope is transport-agnostic framing for stream payloads.
type Envelope struct {
	Type          MetricType `json:"type"`
	NodeID        string     `json:"node_id"`
	TimestampUnix int64      `json:"timestamp_unix"`
	Payload       any        `json:"payload"`
}
