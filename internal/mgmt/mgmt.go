// Package mgmt describes the hypervisor management data model consumed by the
// inspector: objects addressed by path, grouped into categories and linked by
// named associations.
package mgmt

import (
	"context"
	"strconv"
	"strings"
)

// Object categories shared by every backend.
const (
	CategoryComputerSystem       = "ComputerSystem"
	CategorySystemSettingData    = "VirtualSystemSettingData"
	CategoryProcessorSetting     = "ProcessorSettingData"
	CategorySyntheticEthernet    = "SyntheticEthernetPortSettingData"
	CategoryEthernetAllocation   = "EthernetPortAllocationSettingData"
	CategoryStorageAllocation    = "StorageAllocationSettingData"
	CategoryMetricDefinition     = "MetricDefinition"
	CategoryMetricValue          = "MetricValue"
	CategoryMetricService        = "MetricService"
	CategoryHostProcessor        = "HostProcessor"
	RelationshipMetricForElement = "MetricForME"
	RelationshipAny              = ""
)

// Well-known property keys.
const (
	PropName               = "Name"
	PropElementName        = "ElementName"
	PropCaption            = "Caption"
	PropOnTimeMs           = "OnTimeInMilliseconds"
	PropSystemType         = "VirtualSystemType"
	PropVirtualQuantity    = "VirtualQuantity"
	PropAddress            = "Address"
	PropParent             = "Parent"
	PropHostResource       = "HostResource"
	PropID                 = "Id"
	PropMetricDefinitionID = "MetricDefinitionId"
	PropMetricValue        = "MetricValue"
	PropMaxClockSpeed      = "MaxClockSpeed"
)

const (
	// CaptionVirtualMachine tags compute systems that are guests, as opposed
	// to the host itself.
	CaptionVirtualMachine = "Virtual Machine"
	// SystemTypeRealized tags the live configuration of a guest.
	SystemTypeRealized = "Microsoft:Hyper-V:System:Realized"
	// SystemTypeSnapshot tags checkpoint configurations.
	SystemTypeSnapshot = "Microsoft:Hyper-V:System:Snapshot"
)

// Aggregate metric definition names.
const (
	MetricCPU       = "Aggregated Average CPU Utilization"
	MetricNetIn     = "Aggregated Filtered Incoming Network Traffic"
	MetricNetOut    = "Aggregated Filtered Outgoing Network Traffic"
	MetricDiskRead  = "Aggregated Disk Data Read"
	MetricDiskWrite = "Aggregated Disk Data Written"
)

// Object is a read-only view of one management record.
type Object struct {
	Path     string
	Category string
	Props    map[string]any
}

// Source is the management session the inspector talks to. Implementations
// must be safe for concurrent use.
type Source interface {
	// QueryInstances returns compute systems whose caption equals tag.
	QueryInstances(ctx context.Context, tag string) ([]Object, error)
	// QueryAssociated follows relationship from obj and returns related
	// objects of resultCategory. An empty relationship matches any link.
	QueryAssociated(ctx context.Context, obj Object, relationship, resultCategory string) ([]Object, error)
	// QueryByAttribute returns objects of category whose properties equal
	// every entry of filters.
	QueryByAttribute(ctx context.Context, category string, filters map[string]string) ([]Object, error)
	// InvokeControl toggles metric collection. An empty subject applies to all
	// elements, an empty definition to all metrics.
	InvokeControl(ctx context.Context, service, subject, definition string, enable bool) error
}

// Viewer is implemented by sources that refresh their backing state between
// calls. View pins the current state; every query on the returned Source
// answers from that one state.
type Viewer interface {
	View(ctx context.Context) (Source, error)
}

// String reads a property as text; numbers are formatted in base 10.
func (o Object) String(key string) string {
	v, ok := o.Props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return toString(t)
	}
}

// Float reads a numeric property. Missing or malformed values read as zero.
func (o Object) Float(key string) float64 {
	switch t := o.Props[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case uint64:
		return float64(t)
	case uint32:
		return float64(t)
	case uint16:
		return float64(t)
	case uint8:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Uint reads a non-negative integer property, clamping negatives to zero.
func (o Object) Uint(key string) uint64 {
	f := o.Float(key)
	if f <= 0 {
		return 0
	}
	return uint64(f)
}

// Matches reports whether every filter equals the stringified property.
func (o Object) Matches(filters map[string]string) bool {
	for k, want := range filters {
		if o.String(k) != want {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case uint64:
		return strconv.FormatUint(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
