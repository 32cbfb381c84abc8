package libvirt

import (
	"fmt"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// Stats groups requested from ConnectGetAllDomainStats. go-libvirt does not
// export the mask bits, so they are mirrored here.
const (
	domainStatsState     uint32 = 1
	domainStatsCPUTotal  uint32 = 2
	domainStatsBalloon   uint32 = 4
	domainStatsVCPU      uint32 = 8
	domainStatsInterface uint32 = 16
	domainStatsBlock     uint32 = 32

	inspectStats = domainStatsState | domainStatsCPUTotal | domainStatsVCPU | domainStatsInterface | domainStatsBlock
)

// Client is the part of the libvirt RPC API the Source reads from.
type Client interface {
	Domains() ([]golibvirt.Domain, error)
	DomainStats(doms []golibvirt.Domain) ([]golibvirt.DomainStatsRecord, error)
	DomainXML(dom golibvirt.Domain) (string, error)
	Snapshots(dom golibvirt.Domain) ([]string, error)
}

type rpcClient struct {
	l *golibvirt.Libvirt
}

func (c rpcClient) Domains() ([]golibvirt.Domain, error) {
	doms, _, err := c.l.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectListAllDomains: %w", err)
	}
	return doms, nil
}

func (c rpcClient) DomainStats(doms []golibvirt.Domain) ([]golibvirt.DomainStatsRecord, error) {
	if len(doms) == 0 {
		return nil, nil
	}
	recs, err := c.l.ConnectGetAllDomainStats(doms, inspectStats, 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectGetAllDomainStats: %w", err)
	}
	return recs, nil
}

func (c rpcClient) DomainXML(dom golibvirt.Domain) (string, error) {
	x, err := c.l.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return "", fmt.Errorf("DomainGetXMLDesc %s: %w", dom.Name, err)
	}
	return x, nil
}

func (c rpcClient) Snapshots(dom golibvirt.Domain) ([]string, error) {
	snaps, _, err := c.l.DomainListAllSnapshots(dom, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("DomainListAllSnapshots %s: %w", dom.Name, err)
	}
	names := make([]string, 0, len(snaps))
	for _, s := range snaps {
		names = append(names, s.Name)
	}
	return names, nil
}
