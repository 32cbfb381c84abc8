// Package exporter exposes the latest polled snapshots as Prometheus metrics.
package exporter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"aurora-vm-inspector/internal/model"
)

// SnapshotSource is satisfied by collector.Store.
type SnapshotSource interface {
	Snapshots() []model.InstanceSnapshot
	Status() (time.Time, error)
}

type Collector struct {
	src SnapshotSource

	instanceInfo   *prometheus.Desc
	vcpus          *prometheus.Desc
	cpuTime        *prometheus.Desc
	netRxBytes     *prometheus.Desc
	netTxBytes     *prometheus.Desc
	diskReadBytes  *prometheus.Desc
	diskWriteBytes *prometheus.Desc
	inspectError   *prometheus.Desc
	lastPoll       *prometheus.Desc
	pollUp         *prometheus.Desc
}

func NewCollector(src SnapshotSource, nodeID string) *Collector {
	constLabels := prometheus.Labels{"node": nodeID}
	instance := []string{"instance", "uuid"}
	nic := []string{"instance", "uuid", "interface", "mac"}
	disk := []string{"instance", "uuid", "device"}
	return &Collector{
		src:            src,
		instanceInfo:   prometheus.NewDesc("vminspector_instance_info", "Instance known to the hypervisor", instance, constLabels),
		vcpus:          prometheus.NewDesc("vminspector_instance_vcpus", "Configured virtual processors", instance, constLabels),
		cpuTime:        prometheus.NewDesc("vminspector_instance_cpu_time_seconds_total", "Processor time consumed since power-on", instance, constLabels),
		netRxBytes:     prometheus.NewDesc("vminspector_interface_receive_bytes_total", "Bytes received by a virtual NIC", nic, constLabels),
		netTxBytes:     prometheus.NewDesc("vminspector_interface_transmit_bytes_total", "Bytes transmitted by a virtual NIC", nic, constLabels),
		diskReadBytes:  prometheus.NewDesc("vminspector_disk_read_bytes_total", "Bytes read from a virtual disk", disk, constLabels),
		diskWriteBytes: prometheus.NewDesc("vminspector_disk_write_bytes_total", "Bytes written to a virtual disk", disk, constLabels),
		inspectError:   prometheus.NewDesc("vminspector_instance_inspect_error", "Last inspection of the instance failed", []string{"instance", "uuid", "kind"}, constLabels),
		lastPoll:       prometheus.NewDesc("vminspector_last_poll_timestamp_seconds", "Unix time of the last successful poll", nil, constLabels),
		pollUp:         prometheus.NewDesc("vminspector_poll_up", "Whether the most recent poll succeeded", nil, constLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.instanceInfo
	ch <- c.vcpus
	ch <- c.cpuTime
	ch <- c.netRxBytes
	ch <- c.netTxBytes
	ch <- c.diskReadBytes
	ch <- c.diskWriteBytes
	ch <- c.inspectError
	ch <- c.lastPoll
	ch <- c.pollUp
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	last, err := c.src.Status()
	up := 1.0
	if err != nil {
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(c.pollUp, prometheus.GaugeValue, up)
	if !last.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastPoll, prometheus.GaugeValue, float64(last.Unix()))
	}

	for _, s := range c.src.Snapshots() {
		name, id := s.Instance.Name, s.Instance.UUID
		ch <- prometheus.MustNewConstMetric(c.instanceInfo, prometheus.GaugeValue, 1, name, id)
		if !s.Complete() {
			ch <- prometheus.MustNewConstMetric(c.inspectError, prometheus.GaugeValue, 1, name, id, s.ErrorKind)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.vcpus, prometheus.GaugeValue, float64(s.CPU.Number), name, id)
		ch <- prometheus.MustNewConstMetric(c.cpuTime, prometheus.CounterValue, s.CPU.CumulativeTimeMs/1000, name, id)
		for _, n := range s.Interfaces {
			ch <- prometheus.MustNewConstMetric(c.netRxBytes, prometheus.CounterValue, float64(n.Stats.RxBytes), name, id, n.Interface.Name, n.Interface.MAC)
			ch <- prometheus.MustNewConstMetric(c.netTxBytes, prometheus.CounterValue, float64(n.Stats.TxBytes), name, id, n.Interface.Name, n.Interface.MAC)
		}
		for _, d := range s.Disks {
			ch <- prometheus.MustNewConstMetric(c.diskReadBytes, prometheus.CounterValue, float64(d.Stats.ReadBytes), name, id, d.Disk.Device)
			ch <- prometheus.MustNewConstMetric(c.diskWriteBytes, prometheus.CounterValue, float64(d.Stats.WriteBytes), name, id, d.Disk.Device)
		}
	}
}

// NewRegistry returns a registry holding c plus the Go and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
