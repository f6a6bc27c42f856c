// Package simulator discovers a fixed, representative rack topology. Every
// pass hands out fresh ephemeral identifiers, the way real discovery does.
package simulator

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

const (
	SwitchSerial  = "pcie_switch_serial"
	Drive1Serial  = "drive_1_serial"
	Drive2Serial  = "drive_2_serial"
	Device1Serial = "device_1_serial"
	Device2Serial = "device_2_serial"
	Port1ID       = "port_1_id"
	Port2ID       = "port_2_id"

	ComputeManagerGUID = "compute_manager_guid"
	ComputeSystemGUID  = "compute_system_guid"
	StorageManagerGUID = "storage_manager_guid"
	StorageSystemGUID  = "storage_system_guid"
)

var (
	errSimulatorKind = errors.New("simulator has no topology for agent")
)

// Simulator is a discovery source for an agent kind without hardware.
type Simulator struct {
	agent    kind.Agent
	withheld map[string]bool
	passes   int
}

// New returns a simulator for agent. Serial numbers listed in withheld are
// reported as not read yet.
func New(agent kind.Agent, withheld ...string) *Simulator {
	s := &Simulator{
		agent:    agent,
		withheld: make(map[string]bool, len(withheld)),
	}

	for _, serial := range withheld {
		s.withheld[serial] = true
	}

	return s
}

// Discover adds a freshly discovered topology to reg and returns the
// ephemeral identifier of its manager.
func (s *Simulator) Discover(_ context.Context, reg *registry.Registry) (string, error) {
	s.passes++

	b := &builder{reg: reg, withheld: s.withheld}

	var managerID string

	switch s.agent {
	case kind.PNC:
		managerID = b.pnc()
	case kind.Compute:
		managerID = b.compute()
	case kind.Storage:
		managerID = b.storage()
	default:
		return "", errors.Wrap(errSimulatorKind, s.agent.String())
	}

	if b.err != nil {
		return "", b.err
	}

	return managerID, nil
}

// Passes returns how many discovery passes ran.
func (s *Simulator) Passes() int {
	return s.passes
}

type builder struct {
	reg      *registry.Registry
	withheld map[string]bool
	err      error
}

func (b *builder) add(resources ...model.Resource) {
	for _, res := range resources {
		if b.err != nil {
			return
		}

		b.err = b.reg.Add(res)
	}
}

func (b *builder) serial(serial string) string {
	if b.withheld[serial] {
		return ""
	}

	return serial
}

func zoneID(id uint32) *uint32 {
	return &id
}

// pnc is a PCIe switch module: one switch with two ports, each downstream
// port wired to a drive exposed through a PCIe device with one function.
func (b *builder) pnc() string {
	manager := model.NewManager()
	fabric := model.NewFabric(manager.ID)

	chassis := model.NewChassis(manager.ID)
	chassis.Fru.SerialNumber = b.serial("pnc_chassis_serial")

	sw := model.NewSwitch(fabric.ID)
	sw.Fru.SerialNumber = b.serial(SwitchSerial)
	sw.ChassisID = chassis.ID

	system := model.NewSystem(manager.ID)
	subsystem := model.NewStorageSubsystem(system.ID)

	definition := model.NewMetricDefinition(manager.ID)
	definition.Component = model.KindPort
	definition.MetricJSONPointer = "/Status/Health"
	definition.Name = "health"

	b.add(manager, fabric, chassis, sw, system, subsystem, definition)

	for i, slot := range []struct {
		portID       string
		driveSerial  string
		deviceSerial string
	}{
		{Port1ID, Drive1Serial, Device1Serial},
		{Port2ID, Drive2Serial, Device2Serial},
	} {
		port := model.NewPort(sw.ID)
		port.PortID = slot.portID

		drive := model.NewDrive(chassis.ID)
		drive.Fru.SerialNumber = b.serial(slot.driveSerial)
		drive.DSPPortIDs = []string{port.ID}

		zone := model.NewZone(fabric.ID)
		zone.ZoneID = zoneID(uint32(i + 1))
		zone.SwitchID = sw.ID

		endpoint := model.NewEndpoint(fabric.ID)
		endpoint.ConnectedEntities = []model.ConnectedEntity{{EntityID: drive.ID, Role: model.EntityRoleTarget}}
		endpoint.Identifiers = []model.Identifier{{DurableName: endpoint.ID, Format: model.IdentifierUUID}}

		device := model.NewPcieDevice(manager.ID)
		device.Fru.SerialNumber = b.serial(slot.deviceSerial)
		device.ChassisID = chassis.ID

		function := model.NewPcieFunction(device.ID)
		function.FunctionID = "0"
		function.DSPPortID = port.ID
		function.FunctionalDevice = drive.ID

		metric := model.NewMetric(port.ID)
		metric.MetricDefinitionID = definition.ID
		metric.Name = definition.Name
		metric.Value = 1

		b.add(port, drive, zone, endpoint, device, function, metric)

		b.reg.ZoneEndpoints.Add(zone.ID, endpoint.ID)
		b.reg.EndpointPorts.Add(endpoint.ID, port.ID)
		b.reg.DrivePcieFunctions.Add(drive.ID, function.ID)
		b.reg.StorageSubsystemDrives.Add(subsystem.ID, drive.ID)
	}

	return manager.ID
}

// compute is a sled with one system, two processors one of which has no
// readable serial number, two NICs and local drives.
func (b *builder) compute() string {
	manager := model.NewManager()
	manager.GUID = ComputeManagerGUID

	chassis := model.NewChassis(manager.ID)
	chassis.Fru.SerialNumber = b.serial("compute_chassis_serial")

	system := model.NewSystem(manager.ID)
	system.GUID = ComputeSystemGUID
	system.ChassisID = chassis.ID

	subsystem := model.NewStorageSubsystem(system.ID)

	definition := model.NewMetricDefinition(manager.ID)
	definition.Component = model.KindProcessor
	definition.MetricJSONPointer = "/Oem/Temperature"
	definition.Name = "temperature"

	b.add(manager, chassis, system, subsystem, definition)

	for _, slot := range []struct {
		serial string
		socket string
	}{
		{b.serial("cpu_1_serial"), "CPU1"},
		{"", "CPU2"},
	} {
		proc := model.NewProcessor(system.ID)
		proc.Fru.SerialNumber = slot.serial
		proc.Socket = slot.socket

		metric := model.NewMetric(proc.ID)
		metric.MetricDefinitionID = definition.ID
		metric.Name = definition.Name
		metric.Value = 42

		b.add(proc, metric)
	}

	for _, mac := range []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"} {
		nic := model.NewNetworkInterface(system.ID)
		nic.MACAddress = mac
		b.add(nic)
	}

	for _, serial := range []string{"compute_drive_1_serial", "compute_drive_2_serial"} {
		drive := model.NewDrive(subsystem.ID)
		drive.Fru.SerialNumber = b.serial(serial)
		b.add(drive)
		b.reg.StorageSubsystemDrives.Add(subsystem.ID, drive.ID)
	}

	return manager.ID
}

// storage is a storage service exporting two volumes of one pool over a
// fabric, the first volume replicated to the second.
func (b *builder) storage() string {
	manager := model.NewManager()
	manager.GUID = StorageManagerGUID

	chassis := model.NewChassis(manager.ID)
	chassis.Fru.SerialNumber = b.serial("storage_chassis_serial")

	system := model.NewSystem(manager.ID)
	system.GUID = StorageSystemGUID
	system.ChassisID = chassis.ID

	nic := model.NewNetworkInterface(system.ID)
	nic.MACAddress = "aa:bb:cc:dd:ee:10"

	subsystem := model.NewStorageSubsystem(system.ID)
	fabric := model.NewFabric(manager.ID)

	pool := model.NewStoragePool(subsystem.ID)
	pool.Identifiers = []model.Identifier{{DurableName: "pool_1_uuid", Format: model.IdentifierUUID}}

	b.add(manager, chassis, system, nic, subsystem, fabric, pool)

	for _, serial := range []string{"storage_drive_1_serial", "storage_drive_2_serial"} {
		drive := model.NewDrive(chassis.ID)
		drive.Fru.SerialNumber = b.serial(serial)
		b.add(drive)

		pool.CapacitySources = append(pool.CapacitySources, drive.ID)
		b.reg.StorageSubsystemDrives.Add(subsystem.ID, drive.ID)
	}

	source := model.NewVolume(subsystem.ID)
	source.Identifiers = []model.Identifier{{DurableName: "volume_1_uuid", Format: model.IdentifierUUID}}

	target := model.NewVolume(subsystem.ID)
	target.Identifiers = []model.Identifier{{DurableName: "volume_2_uuid", Format: model.IdentifierUUID}}

	source.Replicas = []model.Replica{{VolumeID: target.ID, Role: model.ReplicaRoleTarget}}
	target.Replicas = []model.Replica{{VolumeID: source.ID, Role: model.ReplicaRoleSource}}

	b.add(source, target)

	for i, volume := range []*model.Volume{source, target} {
		b.reg.StoragePoolVolumes.Add(pool.ID, volume.ID)

		endpoint := model.NewEndpoint(fabric.ID)
		endpoint.ConnectedEntities = []model.ConnectedEntity{{EntityID: volume.ID, Role: model.EntityRoleTarget}}
		endpoint.Identifiers = []model.Identifier{
			{DurableName: endpoint.ID, Format: model.IdentifierUUID},
			{DurableName: "nqn.2014-08.org.nvmexpress:volume" + strconv.Itoa(i+1), Format: model.IdentifierNQN},
		}

		b.add(endpoint)
	}

	return manager.ID
}
