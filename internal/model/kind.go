package model

import (
	"strings"
)

// Kind is the closed set of resource kinds an agent can discover.
type Kind uint8

const (
	KindManager Kind = iota
	KindChassis
	KindFabric
	KindSwitch
	KindPort
	KindZone
	KindEndpoint
	KindDrive
	KindPcieDevice
	KindPcieFunction
	KindProcessor
	KindSystem
	KindStorageSubsystem
	KindStoragePool
	KindVolume
	KindNetworkInterface
	KindMetricDefinition
	KindMetric
)

var kindNames = [...]string{
	KindManager:          "Manager",
	KindChassis:          "Chassis",
	KindFabric:           "Fabric",
	KindSwitch:           "Switch",
	KindPort:             "Port",
	KindZone:             "Zone",
	KindEndpoint:         "Endpoint",
	KindDrive:            "Drive",
	KindPcieDevice:       "PcieDevice",
	KindPcieFunction:     "PcieFunction",
	KindProcessor:        "Processor",
	KindSystem:           "System",
	KindStorageSubsystem: "StorageSubsystem",
	KindStoragePool:      "StoragePool",
	KindVolume:           "Volume",
	KindNetworkInterface: "NetworkInterface",
	KindMetricDefinition: "MetricDefinition",
	KindMetric:           "Metric",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "unknown"
}

// AllKinds returns every resource kind in declaration order.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for i := range kindNames {
		kinds = append(kinds, Kind(i))
	}

	return kinds
}

func KindFromString(str string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, str) {
			return Kind(i), nil
		}
	}

	return 0, ErrUnknownKind
}

// MarshalText lets kinds appear by name in JSON reports and YAML fixtures.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := KindFromString(string(text))
	if err != nil {
		return err
	}

	*k = kind

	return nil
}
