package model

import (
	"github.com/google/uuid"
)

// Resource is implemented by every discovered record kept in a registry store.
type Resource interface {
	Kind() Kind

	GetID() string
	SetID(id string)

	GetParentID() string
	SetParentID(id string)

	// GetUniqueKey is empty until the resource has been stabilized.
	GetUniqueKey() string
	SetUniqueKey(key string)
}

// NewID returns a fresh ephemeral identifier.
func NewID() string {
	return uuid.NewString()
}

type Status struct {
	State  string `json:"state,omitempty"`
	Health string `json:"health,omitempty"`
}

// Base holds the attributes every resource kind shares.
type Base struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id,omitempty"`
	UniqueKey string `json:"unique_key,omitempty"`
	Status    Status `json:"status"`
}

func newBase(parentID string) Base {
	return Base{
		ID:       NewID(),
		ParentID: parentID,
		Status:   Status{State: "Enabled", Health: "OK"},
	}
}

func (b *Base) GetID() string { return b.ID }
func (b *Base) SetID(id string) { b.ID = id }
func (b *Base) GetParentID() string { return b.ParentID }
func (b *Base) SetParentID(id string) { b.ParentID = id }
func (b *Base) GetUniqueKey() string { return b.UniqueKey }
func (b *Base) SetUniqueKey(key string) { b.UniqueKey = key }
func (b *Base) IsStabilized() bool { return b.UniqueKey != "" }

// FruInfo is the field replaceable unit data read from the component EEPROM.
type FruInfo struct {
	SerialNumber string `json:"serial_number,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ModelNumber  string `json:"model_number,omitempty"`
	PartNumber   string `json:"part_number,omitempty"`
}

type EntityRole string

const (
	EntityRoleInitiator EntityRole = "Initiator"
	EntityRoleTarget    EntityRole = "Target"
	EntityRoleBoth      EntityRole = "Both"
)

// ConnectedEntity is an endpoint's reference to the device or volume behind it.
type ConnectedEntity struct {
	EntityID string     `json:"entity_id,omitempty"`
	Role     EntityRole `json:"role,omitempty"`
}

type IdentifierFormat string

const (
	IdentifierUUID IdentifierFormat = "UUID"
	IdentifierNQN  IdentifierFormat = "NQN"
	IdentifierIQN  IdentifierFormat = "iQN"
)

type Identifier struct {
	DurableName string           `json:"durable_name" yaml:"durable_name"`
	Format      IdentifierFormat `json:"format" yaml:"format"`
}

type ReplicaRole string

const (
	ReplicaRoleSource ReplicaRole = "Source"
	ReplicaRoleTarget ReplicaRole = "Target"
)

// Replica points at another volume of the same storage service.
type Replica struct {
	VolumeID string      `json:"volume_id"`
	Role     ReplicaRole `json:"role,omitempty"`
}

type Manager struct {
	Base
	GUID string `json:"guid,omitempty"`
}

func NewManager() *Manager { return &Manager{Base: newBase("")} }
func (*Manager) Kind() Kind { return KindManager }

type Chassis struct {
	Base
	Fru FruInfo `json:"fru_info"`
}

func NewChassis(parentID string) *Chassis { return &Chassis{Base: newBase(parentID)} }
func (*Chassis) Kind() Kind { return KindChassis }

type Fabric struct {
	Base
}

func NewFabric(parentID string) *Fabric { return &Fabric{Base: newBase(parentID)} }
func (*Fabric) Kind() Kind { return KindFabric }

type Switch struct {
	Base
	Fru       FruInfo `json:"fru_info"`
	ChassisID string  `json:"chassis_id,omitempty"`
}

func NewSwitch(parentID string) *Switch { return &Switch{Base: newBase(parentID)} }
func (*Switch) Kind() Kind { return KindSwitch }

type Port struct {
	Base
	PortID string `json:"port_id,omitempty"`
}

func NewPort(parentID string) *Port { return &Port{Base: newBase(parentID)} }
func (*Port) Kind() Kind { return KindPort }

type Zone struct {
	Base
	ZoneID   *uint32 `json:"zone_id,omitempty"`
	SwitchID string  `json:"switch_id,omitempty"`
}

func NewZone(parentID string) *Zone { return &Zone{Base: newBase(parentID)} }
func (*Zone) Kind() Kind { return KindZone }

type Endpoint struct {
	Base
	ConnectedEntities []ConnectedEntity `json:"connected_entities,omitempty"`
	Identifiers       []Identifier      `json:"identifiers,omitempty"`
}

func NewEndpoint(parentID string) *Endpoint { return &Endpoint{Base: newBase(parentID)} }
func (*Endpoint) Kind() Kind { return KindEndpoint }

type Drive struct {
	Base
	Fru        FruInfo  `json:"fru_info"`
	DSPPortIDs []string `json:"dsp_port_ids,omitempty"`
}

func NewDrive(parentID string) *Drive { return &Drive{Base: newBase(parentID)} }
func (*Drive) Kind() Kind { return KindDrive }

type PcieDevice struct {
	Base
	Fru       FruInfo `json:"fru_info"`
	ChassisID string  `json:"chassis_id,omitempty"`
}

func NewPcieDevice(parentID string) *PcieDevice { return &PcieDevice{Base: newBase(parentID)} }
func (*PcieDevice) Kind() Kind { return KindPcieDevice }

type PcieFunction struct {
	Base
	FunctionID string `json:"function_id,omitempty"`
	DSPPortID  string `json:"dsp_port_id,omitempty"`
	// FunctionalDevice is the drive or processor this function exposes.
	FunctionalDevice string `json:"functional_device,omitempty"`
}

func NewPcieFunction(parentID string) *PcieFunction { return &PcieFunction{Base: newBase(parentID)} }
func (*PcieFunction) Kind() Kind { return KindPcieFunction }

type Processor struct {
	Base
	Fru        FruInfo  `json:"fru_info"`
	Socket     string   `json:"socket,omitempty"`
	DSPPortIDs []string `json:"dsp_port_ids,omitempty"`
}

func NewProcessor(parentID string) *Processor { return &Processor{Base: newBase(parentID)} }
func (*Processor) Kind() Kind { return KindProcessor }

type System struct {
	Base
	GUID      string `json:"guid,omitempty"`
	ChassisID string `json:"chassis_id,omitempty"`
}

func NewSystem(parentID string) *System { return &System{Base: newBase(parentID)} }
func (*System) Kind() Kind { return KindSystem }

type StorageSubsystem struct {
	Base
}

func NewStorageSubsystem(parentID string) *StorageSubsystem {
	return &StorageSubsystem{Base: newBase(parentID)}
}
func (*StorageSubsystem) Kind() Kind { return KindStorageSubsystem }

type StoragePool struct {
	Base
	Identifiers []Identifier `json:"identifiers,omitempty"`
	// CapacitySources lists the drives providing the pool's capacity.
	CapacitySources []string `json:"capacity_sources,omitempty"`
}

func NewStoragePool(parentID string) *StoragePool { return &StoragePool{Base: newBase(parentID)} }
func (*StoragePool) Kind() Kind { return KindStoragePool }

type Volume struct {
	Base
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Replicas    []Replica    `json:"replicas,omitempty"`
}

func NewVolume(parentID string) *Volume { return &Volume{Base: newBase(parentID)} }
func (*Volume) Kind() Kind { return KindVolume }

type NetworkInterface struct {
	Base
	MACAddress string `json:"mac_address,omitempty"`
}

func NewNetworkInterface(parentID string) *NetworkInterface {
	return &NetworkInterface{Base: newBase(parentID)}
}
func (*NetworkInterface) Kind() Kind { return KindNetworkInterface }

type MetricDefinition struct {
	Base
	Component         Kind   `json:"component"`
	MetricJSONPointer string `json:"metric_jsonptr"`
	Name              string `json:"name,omitempty"`
}

func NewMetricDefinition(parentID string) *MetricDefinition {
	return &MetricDefinition{Base: newBase(parentID)}
}
func (*MetricDefinition) Kind() Kind { return KindMetricDefinition }

type Metric struct {
	Base
	// ComponentID is the resource the reading is taken from.
	ComponentID        string  `json:"component_id"`
	MetricDefinitionID string  `json:"metric_definition_id"`
	Name               string  `json:"name,omitempty"`
	Value              float64 `json:"value,omitempty"`
}

func NewMetric(componentID string) *Metric {
	return &Metric{Base: newBase(""), ComponentID: componentID}
}
func (*Metric) Kind() Kind { return KindMetric }

// DurableIdentifier returns the first identifier with the given format.
func DurableIdentifier(identifiers []Identifier, format IdentifierFormat) (string, bool) {
	for _, identifier := range identifiers {
		if identifier.Format == format && identifier.DurableName != "" {
			return identifier.DurableName, true
		}
	}

	return "", false
}

// AsLogFields returns the common fields of a resource as slog/logrus key value pairs.
func AsLogFields(res Resource) []any {
	return []any{
		"kind", res.Kind().String(),
		"id", res.GetID(),
		"parent_id", res.GetParentID(),
	}
}
