package stabilizer

import (
	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

// UpdateRelations replaces oldID with newID everywhere a resource of kind can
// be referenced: parent ids of children, link edges and identifiers cached on
// other resources. It returns how many references were rewritten.
func UpdateRelations(reg *registry.Registry, kind model.Kind, oldID, newID string) (int, error) {
	if oldID == newID {
		return 0, nil
	}

	var n int

	for _, store := range reg.Stores() {
		n += store.ReplaceParent(oldID, newID)
	}

	n += reg.Metrics.UpdateAll(func(m *model.Metric) bool {
		return replaceID(&m.ComponentID, oldID, newID)
	})

	switch kind {
	case model.KindChassis:
		n += reg.Switches.UpdateAll(func(s *model.Switch) bool {
			return replaceID(&s.ChassisID, oldID, newID)
		})
		n += reg.Systems.UpdateAll(func(s *model.System) bool {
			return replaceID(&s.ChassisID, oldID, newID)
		})
		n += reg.PcieDevices.UpdateAll(func(d *model.PcieDevice) bool {
			return replaceID(&d.ChassisID, oldID, newID)
		})
	case model.KindSwitch:
		n += reg.Zones.UpdateAll(func(z *model.Zone) bool {
			return replaceID(&z.SwitchID, oldID, newID)
		})
	case model.KindPort:
		n += reg.PcieFunctions.UpdateAll(func(f *model.PcieFunction) bool {
			return replaceID(&f.DSPPortID, oldID, newID)
		})
		n += reg.Drives.UpdateAll(func(d *model.Drive) bool {
			return replaceIDs(d.DSPPortIDs, oldID, newID)
		})
		n += reg.Processors.UpdateAll(func(p *model.Processor) bool {
			return replaceIDs(p.DSPPortIDs, oldID, newID)
		})
		n += reg.EndpointPorts.RenameB(oldID, newID)
	case model.KindZone:
		n += reg.ZoneEndpoints.RenameA(oldID, newID)
	case model.KindEndpoint:
		n += reg.ZoneEndpoints.RenameB(oldID, newID)
		n += reg.EndpointPorts.RenameA(oldID, newID)
		n += reg.Endpoints.UpdateAll(func(e *model.Endpoint) bool {
			var changed bool
			for i := range e.Identifiers {
				if replaceID(&e.Identifiers[i].DurableName, oldID, newID) {
					changed = true
				}
			}
			return changed
		})
	case model.KindDrive:
		n += rewriteEntities(reg, oldID, newID)
		n += rewriteFunctionalDevice(reg, oldID, newID)
		n += reg.DrivePcieFunctions.RenameA(oldID, newID)
		n += reg.StorageSubsystemDrives.RenameB(oldID, newID)
		n += reg.StoragePools.UpdateAll(func(p *model.StoragePool) bool {
			return replaceIDs(p.CapacitySources, oldID, newID)
		})
	case model.KindProcessor:
		n += rewriteEntities(reg, oldID, newID)
		n += rewriteFunctionalDevice(reg, oldID, newID)
		n += reg.ProcessorPcieFunctions.RenameA(oldID, newID)
	case model.KindPcieFunction:
		n += reg.DrivePcieFunctions.RenameB(oldID, newID)
		n += reg.ProcessorPcieFunctions.RenameB(oldID, newID)
	case model.KindStorageSubsystem:
		n += reg.StorageSubsystemDrives.RenameA(oldID, newID)
	case model.KindStoragePool:
		n += reg.StoragePoolVolumes.RenameA(oldID, newID)
	case model.KindVolume:
		n += reg.StoragePoolVolumes.RenameB(oldID, newID)
		n += reg.Volumes.UpdateAll(func(v *model.Volume) bool {
			var changed bool
			for i := range v.Replicas {
				if replaceID(&v.Replicas[i].VolumeID, oldID, newID) {
					changed = true
				}
			}
			return changed
		})
		n += rewriteEntities(reg, oldID, newID)
	case model.KindMetricDefinition:
		n += reg.Metrics.UpdateAll(func(m *model.Metric) bool {
			return replaceID(&m.MetricDefinitionID, oldID, newID)
		})
	case model.KindManager,
		model.KindFabric,
		model.KindPcieDevice,
		model.KindSystem,
		model.KindNetworkInterface,
		model.KindMetric:
		// parents and metric bindings only
	default:
		return n, errors.Wrap(ErrUnknownKind, kind.String())
	}

	return n, nil
}

func rewriteEntities(reg *registry.Registry, oldID, newID string) int {
	return reg.Endpoints.UpdateAll(func(e *model.Endpoint) bool {
		var changed bool
		for i := range e.ConnectedEntities {
			if replaceID(&e.ConnectedEntities[i].EntityID, oldID, newID) {
				changed = true
			}
		}
		return changed
	})
}

func rewriteFunctionalDevice(reg *registry.Registry, oldID, newID string) int {
	return reg.PcieFunctions.UpdateAll(func(f *model.PcieFunction) bool {
		return replaceID(&f.FunctionalDevice, oldID, newID)
	})
}

func replaceID(field *string, oldID, newID string) bool {
	if *field != oldID {
		return false
	}

	*field = newID

	return true
}

func replaceIDs(ids []string, oldID, newID string) bool {
	var changed bool

	for i := range ids {
		if ids[i] == oldID {
			ids[i] = newID
			changed = true
		}
	}

	return changed
}
