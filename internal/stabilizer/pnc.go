package stabilizer

import (
	"context"
	"slices"
	"strconv"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

// PNC stabilizes the resources of a PCIe switch module. The module is
// identified by the serial number of the one switch it manages.
type PNC struct {
	tree
}

func NewPNC(s *Stabilizer, reg *registry.Registry) *PNC {
	return &PNC{tree: newTree(s, reg, kind.PNC.String())}
}

func (p *PNC) Stabilize(ctx context.Context, managerID string) (newID string, err error) {
	span := p.begin(ctx, managerID)
	defer func() { p.end(span, newID, err) }()

	p.stabilizeMetricDefinitions()

	sw, err := p.managedSwitch(managerID)
	if err != nil {
		p.skip(model.KindManager, managerID, err)
		return managerID, err
	}

	newID, err = stabilizeNode(&p.tree, p.reg.Managers, managerID, keys.Context{Anchor: sw})
	if err != nil {
		return managerID, err
	}

	for _, id := range p.reg.Chassis.KeysByParent(newID) {
		p.stabilizeChassis(id)
	}

	for _, id := range p.reg.Systems.KeysByParent(newID) {
		p.stabilizeSystem(id)
	}

	for _, id := range p.reg.Fabrics.KeysByParent(newID) {
		p.stabilizeFabric(id)
	}

	for _, id := range p.reg.PcieDevices.KeysByParent(newID) {
		p.stabilizePcieDevice(id)
	}

	return newID, nil
}

// managedSwitch returns the single switch in the fabrics of managerID.
func (p *PNC) managedSwitch(managerID string) (*model.Switch, error) {
	var switches []string
	for _, fabricID := range p.reg.Fabrics.KeysByParent(managerID) {
		switches = append(switches, p.reg.Switches.KeysByParent(fabricID)...)
	}

	if len(switches) != 1 {
		return nil, errors.Wrap(
			ErrInconsistentTopology,
			"expected one switch under manager "+managerID+", found "+strconv.Itoa(len(switches)),
		)
	}

	return p.reg.Switches.GetRef(switches[0])
}

func (p *PNC) stabilizeChassis(id string) {
	switches := p.reg.Switches.KeysWhere(func(s *model.Switch) bool {
		return s.ChassisID == id
	})

	if len(switches) != 1 {
		p.skip(model.KindChassis, id, errors.Wrap(
			ErrInconsistentTopology,
			"expected one switch in chassis, found "+strconv.Itoa(len(switches)),
		))

		return
	}

	sw, err := p.reg.Switches.GetRef(switches[0])
	if err != nil {
		p.skip(model.KindChassis, id, err)
		return
	}

	newID, err := stabilizeNode(&p.tree, p.reg.Chassis, id, keys.Context{Anchor: sw})
	if err != nil {
		return
	}

	p.stabilizeDrives(newID)
}

func (p *PNC) stabilizeSystem(id string) {
	newID, err := stabilizeNode(&p.tree, p.reg.Systems, id, keys.Context{})
	if err != nil {
		return
	}

	system, err := p.reg.Systems.GetRef(newID)
	if err != nil {
		return
	}

	for _, sub := range p.reg.StorageSubsystems.KeysByParent(newID) {
		_, _ = stabilizeNode(&p.tree, p.reg.StorageSubsystems, sub, keys.Context{Anchor: system})
	}

	for _, proc := range p.reg.Processors.KeysByParent(newID) {
		_, _ = stabilizeNode(&p.tree, p.reg.Processors, proc, keys.Context{Anchor: system})
	}
}

func (p *PNC) stabilizeFabric(id string) {
	newID, err := stabilizeNode(&p.tree, p.reg.Fabrics, id, keys.Context{})
	if err != nil {
		return
	}

	for _, sw := range p.reg.Switches.KeysByParent(newID) {
		p.stabilizeSwitch(sw)
	}

	for _, zone := range p.reg.Zones.KeysByParent(newID) {
		p.stabilizeZone(zone, newID)
	}

	for _, endpoint := range p.reg.Endpoints.KeysByParent(newID) {
		p.stabilizeEndpoint(endpoint)
	}
}

func (p *PNC) stabilizeSwitch(id string) {
	newID, err := stabilizeNode(&p.tree, p.reg.Switches, id, keys.Context{})
	if err != nil {
		return
	}

	sw, err := p.reg.Switches.GetRef(newID)
	if err != nil {
		return
	}

	for _, port := range p.reg.Ports.KeysByParent(newID) {
		_, _ = stabilizeNode(&p.tree, p.reg.Ports, port, keys.Context{Anchor: sw})
	}
}

// stabilizeZone anchors the zone on the switch it is defined on, or on the
// fabric's only switch when the zone does not name one.
func (p *PNC) stabilizeZone(id, fabricID string) {
	zone, err := p.reg.Zones.GetRef(id)
	if err != nil {
		p.skip(model.KindZone, id, err)
		return
	}

	switchID := zone.SwitchID
	if switchID == "" {
		if switches := p.reg.Switches.KeysByParent(fabricID); len(switches) == 1 {
			switchID = switches[0]
		}
	}

	sw, err := p.reg.Switches.GetRef(switchID)
	if err != nil {
		p.skip(model.KindZone, id, errors.Wrap(ErrInconsistentTopology, "zone switch not found"))
		return
	}

	_, _ = stabilizeNode(&p.tree, p.reg.Zones, id, keys.Context{Anchor: sw})
}

// stabilizePcieDevice identifies a device by the physical device it functions
// as, then its functions by the device key and their function id.
func (p *PNC) stabilizePcieDevice(id string) {
	external, required := p.functionalDeviceSerial(p.reg.PcieFunctions.KeysByParent(id))

	newID, err := stabilizeNode(&p.tree, p.reg.PcieDevices, id, keys.Context{External: external, ExternalRequired: required})
	if err != nil {
		return
	}

	device, err := p.reg.PcieDevices.GetRef(newID)
	if err != nil {
		return
	}

	for _, fn := range p.reg.PcieFunctions.KeysByParent(newID) {
		_, _ = stabilizeNode(&p.tree, p.reg.PcieFunctions, fn, keys.Context{External: device.UniqueKey})
	}
}

// functionalDeviceSerial returns the serial number of the drive or processor
// behind the functions. The function's own reference is tried first, then
// the device found out of band at the function's downstream port. The bool
// reports whether any function points at such a device, in which case the
// device's own serial must not be used in its place.
func (p *PNC) functionalDeviceSerial(functionIDs []string) (string, bool) {
	var (
		functions []*model.PcieFunction
		required  bool
	)

	for _, id := range functionIDs {
		if fn, err := p.reg.PcieFunctions.GetRef(id); err == nil {
			functions = append(functions, fn)
			required = required || fn.FunctionalDevice != "" || fn.DSPPortID != ""
		}
	}

	for _, fn := range functions {
		if serial := p.deviceSerial(fn.FunctionalDevice); serial != "" {
			return serial, required
		}
	}

	for _, fn := range functions {
		if serial := p.outOfBandSerial(fn.DSPPortID); serial != "" {
			p.logger.WithField("port_id", fn.DSPPortID).Debug("pcie device identified out of band")
			return serial, required
		}
	}

	return "", required
}

func (p *PNC) deviceSerial(id string) string {
	if id == "" {
		return ""
	}

	if drive, err := p.reg.Drives.GetRef(id); err == nil {
		return drive.Fru.SerialNumber
	}

	if proc, err := p.reg.Processors.GetRef(id); err == nil {
		return proc.Fru.SerialNumber
	}

	return ""
}

func (p *PNC) outOfBandSerial(portID string) string {
	if portID == "" {
		return ""
	}

	drives := p.reg.Drives.KeysWhere(func(d *model.Drive) bool {
		return d.Fru.SerialNumber != "" && slices.Contains(d.DSPPortIDs, portID)
	})
	if len(drives) > 0 {
		return p.deviceSerial(drives[0])
	}

	procs := p.reg.Processors.KeysWhere(func(proc *model.Processor) bool {
		return proc.Fru.SerialNumber != "" && slices.Contains(proc.DSPPortIDs, portID)
	})
	if len(procs) > 0 {
		return p.deviceSerial(procs[0])
	}

	return ""
}
