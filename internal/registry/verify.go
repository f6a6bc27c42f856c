package registry

import (
	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/model"
)

var (
	ErrDanglingReference = errors.New("dangling reference")
)

// DanglingReference is a relation whose target is not in the registry.
type DanglingReference struct {
	Kind     model.Kind `json:"kind"`
	ID       string     `json:"id"`
	Relation string     `json:"relation"`
	Target   string     `json:"target"`
}

func (d DanglingReference) AsLogFields() []any {
	return []any{
		"kind", d.Kind.String(),
		"id", d.ID,
		"relation", d.Relation,
		"target", d.Target,
	}
}

type verifier struct {
	reg      *Registry
	dangling []DanglingReference
}

func (v *verifier) check(res model.Resource, relation, target string, stores ...Store) {
	if target == "" {
		return
	}

	if len(stores) == 0 {
		stores = v.reg.Stores()
	}

	for _, store := range stores {
		if store.Exists(target) {
			return
		}
	}

	v.dangling = append(v.dangling, DanglingReference{
		Kind:     res.Kind(),
		ID:       res.GetID(),
		Relation: relation,
		Target:   target,
	})
}

func (v *verifier) checkLink(link *Link, a, b Store) {
	for _, edge := range link.Edges() {
		if !a.Exists(edge.A) {
			v.dangling = append(v.dangling, DanglingReference{
				Kind: a.Kind(), ID: edge.A, Relation: link.Name() + ".a", Target: edge.A,
			})
		}

		if !b.Exists(edge.B) {
			v.dangling = append(v.dangling, DanglingReference{
				Kind: b.Kind(), ID: edge.B, Relation: link.Name() + ".b", Target: edge.B,
			})
		}
	}
}

// Verify returns every reference, parent or link edge pointing at an
// identifier no store holds. An empty result means the registry is
// referentially intact.
func (r *Registry) Verify() []DanglingReference {
	v := &verifier{reg: r}

	for _, store := range r.Stores() {
		for _, id := range store.Keys() {
			res, err := store.Resource(id)
			if err != nil {
				continue
			}

			v.check(res, "parent_id", res.GetParentID())
		}
	}

	for _, s := range r.Switches.List() {
		v.check(s, "chassis_id", s.ChassisID, r.Chassis)
	}

	for _, s := range r.Systems.List() {
		v.check(s, "chassis_id", s.ChassisID, r.Chassis)
	}

	for _, d := range r.PcieDevices.List() {
		v.check(d, "chassis_id", d.ChassisID, r.Chassis)
	}

	for _, z := range r.Zones.List() {
		v.check(z, "switch_id", z.SwitchID, r.Switches)
	}

	for _, f := range r.PcieFunctions.List() {
		v.check(f, "dsp_port_id", f.DSPPortID, r.Ports)
		v.check(f, "functional_device", f.FunctionalDevice, r.Drives, r.Processors)
	}

	for _, d := range r.Drives.List() {
		for _, port := range d.DSPPortIDs {
			v.check(d, "dsp_port_ids", port, r.Ports)
		}
	}

	for _, p := range r.Processors.List() {
		for _, port := range p.DSPPortIDs {
			v.check(p, "dsp_port_ids", port, r.Ports)
		}
	}

	for _, e := range r.Endpoints.List() {
		for _, entity := range e.ConnectedEntities {
			v.check(e, "connected_entities", entity.EntityID, r.Drives, r.Processors, r.Volumes)
		}
	}

	for _, p := range r.StoragePools.List() {
		for _, drive := range p.CapacitySources {
			v.check(p, "capacity_sources", drive, r.Drives)
		}
	}

	for _, vol := range r.Volumes.List() {
		for _, replica := range vol.Replicas {
			v.check(vol, "replicas", replica.VolumeID, r.Volumes)
		}
	}

	for _, m := range r.Metrics.List() {
		v.check(m, "component_id", m.ComponentID)
		v.check(m, "metric_definition_id", m.MetricDefinitionID, r.MetricDefinitions)
	}

	v.checkLink(r.ZoneEndpoints, r.Zones, r.Endpoints)
	v.checkLink(r.EndpointPorts, r.Endpoints, r.Ports)
	v.checkLink(r.DrivePcieFunctions, r.Drives, r.PcieFunctions)
	v.checkLink(r.ProcessorPcieFunctions, r.Processors, r.PcieFunctions)
	v.checkLink(r.StorageSubsystemDrives, r.StorageSubsystems, r.Drives)
	v.checkLink(r.StoragePoolVolumes, r.StoragePools, r.Volumes)

	return v.dangling
}

// VerifyError wraps ErrDanglingReference when Verify finds anything.
func (r *Registry) VerifyError() error {
	dangling := r.Verify()
	if len(dangling) == 0 {
		return nil
	}

	first := dangling[0]

	return errors.Wrapf(
		ErrDanglingReference,
		"%d found, first: %s %s %s -> %s",
		len(dangling), first.Kind, first.ID, first.Relation, first.Target,
	)
}
