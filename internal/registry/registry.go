// Package registry holds the resources an agent discovered, one ordered store
// per kind, and the many to many links between them.
package registry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/model"
)

// Registry is the explicit set of stores a discovery pass fills and a
// stabilization pass rewrites.
//
// The embedded mutex serializes whole passes, each store additionally guards
// its own contents.
type Registry struct {
	sync.Mutex

	Managers          *Manager[*model.Manager]
	Chassis           *Manager[*model.Chassis]
	Fabrics           *Manager[*model.Fabric]
	Switches          *Manager[*model.Switch]
	Ports             *Manager[*model.Port]
	Zones             *Manager[*model.Zone]
	Endpoints         *Manager[*model.Endpoint]
	Drives            *Manager[*model.Drive]
	PcieDevices       *Manager[*model.PcieDevice]
	PcieFunctions     *Manager[*model.PcieFunction]
	Processors        *Manager[*model.Processor]
	Systems           *Manager[*model.System]
	StorageSubsystems *Manager[*model.StorageSubsystem]
	StoragePools      *Manager[*model.StoragePool]
	Volumes           *Manager[*model.Volume]
	NetworkInterfaces *Manager[*model.NetworkInterface]
	MetricDefinitions *Manager[*model.MetricDefinition]
	Metrics           *Manager[*model.Metric]

	ZoneEndpoints          *Link
	EndpointPorts          *Link
	DrivePcieFunctions     *Link
	ProcessorPcieFunctions *Link
	StorageSubsystemDrives *Link
	StoragePoolVolumes     *Link
}

func New() *Registry {
	return &Registry{
		Managers:          NewManager[*model.Manager](model.KindManager),
		Chassis:           NewManager[*model.Chassis](model.KindChassis),
		Fabrics:           NewManager[*model.Fabric](model.KindFabric),
		Switches:          NewManager[*model.Switch](model.KindSwitch),
		Ports:             NewManager[*model.Port](model.KindPort),
		Zones:             NewManager[*model.Zone](model.KindZone),
		Endpoints:         NewManager[*model.Endpoint](model.KindEndpoint),
		Drives:            NewManager[*model.Drive](model.KindDrive),
		PcieDevices:       NewManager[*model.PcieDevice](model.KindPcieDevice),
		PcieFunctions:     NewManager[*model.PcieFunction](model.KindPcieFunction),
		Processors:        NewManager[*model.Processor](model.KindProcessor),
		Systems:           NewManager[*model.System](model.KindSystem),
		StorageSubsystems: NewManager[*model.StorageSubsystem](model.KindStorageSubsystem),
		StoragePools:      NewManager[*model.StoragePool](model.KindStoragePool),
		Volumes:           NewManager[*model.Volume](model.KindVolume),
		NetworkInterfaces: NewManager[*model.NetworkInterface](model.KindNetworkInterface),
		MetricDefinitions: NewManager[*model.MetricDefinition](model.KindMetricDefinition),
		Metrics:           NewManager[*model.Metric](model.KindMetric),

		ZoneEndpoints:          NewLink("zone_endpoints"),
		EndpointPorts:          NewLink("endpoint_ports"),
		DrivePcieFunctions:     NewLink("drive_pcie_functions"),
		ProcessorPcieFunctions: NewLink("processor_pcie_functions"),
		StorageSubsystemDrives: NewLink("storage_subsystem_drives"),
		StoragePoolVolumes:     NewLink("storage_pool_volumes"),
	}
}

// Stores returns every store in kind declaration order.
func (r *Registry) Stores() []Store {
	return []Store{
		r.Managers,
		r.Chassis,
		r.Fabrics,
		r.Switches,
		r.Ports,
		r.Zones,
		r.Endpoints,
		r.Drives,
		r.PcieDevices,
		r.PcieFunctions,
		r.Processors,
		r.Systems,
		r.StorageSubsystems,
		r.StoragePools,
		r.Volumes,
		r.NetworkInterfaces,
		r.MetricDefinitions,
		r.Metrics,
	}
}

func (r *Registry) Links() []*Link {
	return []*Link{
		r.ZoneEndpoints,
		r.EndpointPorts,
		r.DrivePcieFunctions,
		r.ProcessorPcieFunctions,
		r.StorageSubsystemDrives,
		r.StoragePoolVolumes,
	}
}

func (r *Registry) StoreFor(kind model.Kind) (Store, error) {
	stores := r.Stores()
	if int(kind) >= len(stores) {
		return nil, errors.Wrap(model.ErrUnknownKind, kind.String())
	}

	return stores[kind], nil
}

// Lookup finds a resource by identifier in any store.
func (r *Registry) Lookup(id string) (model.Resource, error) {
	for _, store := range r.Stores() {
		if store.Exists(id) {
			return store.Resource(id)
		}
	}

	return nil, errors.Wrap(ErrResourceNotFound, id)
}

// Add stores res in the store of its kind.
func (r *Registry) Add(res model.Resource) error {
	switch typed := res.(type) {
	case *model.Manager:
		return r.Managers.Add(typed)
	case *model.Chassis:
		return r.Chassis.Add(typed)
	case *model.Fabric:
		return r.Fabrics.Add(typed)
	case *model.Switch:
		return r.Switches.Add(typed)
	case *model.Port:
		return r.Ports.Add(typed)
	case *model.Zone:
		return r.Zones.Add(typed)
	case *model.Endpoint:
		return r.Endpoints.Add(typed)
	case *model.Drive:
		return r.Drives.Add(typed)
	case *model.PcieDevice:
		return r.PcieDevices.Add(typed)
	case *model.PcieFunction:
		return r.PcieFunctions.Add(typed)
	case *model.Processor:
		return r.Processors.Add(typed)
	case *model.System:
		return r.Systems.Add(typed)
	case *model.StorageSubsystem:
		return r.StorageSubsystems.Add(typed)
	case *model.StoragePool:
		return r.StoragePools.Add(typed)
	case *model.Volume:
		return r.Volumes.Add(typed)
	case *model.NetworkInterface:
		return r.NetworkInterfaces.Add(typed)
	case *model.MetricDefinition:
		return r.MetricDefinitions.Add(typed)
	case *model.Metric:
		return r.Metrics.Add(typed)
	default:
		return errors.Wrapf(model.ErrUnknownKind, "%T", res)
	}
}

// Len returns the number of resources over all stores.
func (r *Registry) Len() int {
	var n int
	for _, store := range r.Stores() {
		n += store.Len()
	}

	return n
}

// Clear empties every store and link, ready for the next discovery pass.
func (r *Registry) Clear() {
	for _, store := range r.Stores() {
		store.Clear()
	}

	for _, link := range r.Links() {
		link.Clear()
	}
}

// Snapshot returns every stored resource grouped by kind, in store order.
func (r *Registry) Snapshot() map[model.Kind][]model.Resource {
	snapshot := make(map[model.Kind][]model.Resource)

	for _, store := range r.Stores() {
		for _, id := range store.Keys() {
			res, err := store.Resource(id)
			if err != nil {
				continue
			}

			snapshot[store.Kind()] = append(snapshot[store.Kind()], res)
		}
	}

	return snapshot
}
