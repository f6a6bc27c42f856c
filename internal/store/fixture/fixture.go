// Package fixture discovers a topology described in a YAML file.
//
// Resources name each other by ref, a label local to the file. Every pass
// maps refs to fresh ephemeral identifiers.
package fixture

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

var (
	ErrFixture = errors.New("topology fixture error")
)

// Topology is the document a fixture file holds.
type Topology struct {
	Agent     string     `yaml:"agent"`
	Resources []Resource `yaml:"resources"`
	Links     []Edge     `yaml:"links"`
}

// Resource is one discovered resource. Only the fields of its kind are read.
type Resource struct {
	Kind   model.Kind `yaml:"kind"`
	Ref    string     `yaml:"ref"`
	Parent string     `yaml:"parent"`

	SerialNumber string   `yaml:"serial_number"`
	GUID         string   `yaml:"guid"`
	PortID       string   `yaml:"port_id"`
	ZoneID       *uint32  `yaml:"zone_id"`
	Switch       string   `yaml:"switch"`
	Chassis      string   `yaml:"chassis"`
	FunctionID   string   `yaml:"function_id"`
	DSPPort      string   `yaml:"dsp_port"`
	DSPPorts     []string `yaml:"dsp_ports"`
	Socket       string   `yaml:"socket"`
	MACAddress   string   `yaml:"mac_address"`

	// FunctionalDevice is the ref of the drive or processor a function exposes.
	FunctionalDevice string `yaml:"functional_device"`

	Identifiers       []model.Identifier `yaml:"identifiers"`
	ConnectedEntities []Entity           `yaml:"connected_entities"`
	CapacitySources   []string           `yaml:"capacity_sources"`
	Replicas          []Replica          `yaml:"replicas"`

	// SelfIdentifier adds a UUID identifier carrying the resource's own id.
	SelfIdentifier bool `yaml:"self_identifier"`

	ComponentKind     model.Kind `yaml:"component_kind"`
	MetricJSONPointer string     `yaml:"metric_jsonptr"`
	Name              string     `yaml:"name"`
	MetricDefinition  string     `yaml:"metric_definition"`
	Value             float64    `yaml:"value"`

	// Component is the ref of the resource a metric is read from.
	Component string `yaml:"component"`
}

type Entity struct {
	Ref  string           `yaml:"ref"`
	Role model.EntityRole `yaml:"role"`
}

type Replica struct {
	Ref  string            `yaml:"ref"`
	Role model.ReplicaRole `yaml:"role"`
}

// Edge names a registry link and the refs it joins.
type Edge struct {
	Link string `yaml:"link"`
	A    string `yaml:"a"`
	B    string `yaml:"b"`
}

// Fixture is a discovery source reading a Topology.
type Fixture struct {
	topology *Topology
}

func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrFixture, err.Error())
	}

	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	topology := &Topology{}
	if err := yaml.Unmarshal(data, topology); err != nil {
		return nil, errors.Wrap(ErrFixture, "yaml: "+err.Error())
	}

	if err := topology.validate(); err != nil {
		return nil, err
	}

	return &Fixture{topology: topology}, nil
}

func (f *Fixture) Topology() *Topology {
	return f.topology
}

func (t *Topology) validate() error {
	refs := make(map[string]bool, len(t.Resources))
	managers := 0

	for _, res := range t.Resources {
		if res.Ref == "" {
			return errors.Wrap(ErrFixture, res.Kind.String()+" without ref")
		}

		if refs[res.Ref] {
			return errors.Wrap(ErrFixture, "duplicate ref "+res.Ref)
		}

		refs[res.Ref] = true

		if res.Kind == model.KindManager {
			managers++
		}
	}

	if managers != 1 {
		return errors.Wrap(ErrFixture, "expected exactly one manager")
	}

	return nil
}

// Discover adds the topology to reg with fresh ephemeral identifiers and
// returns the manager's identifier.
func (f *Fixture) Discover(_ context.Context, reg *registry.Registry) (string, error) {
	ids := make(map[string]string, len(f.topology.Resources))
	for _, res := range f.topology.Resources {
		ids[res.Ref] = model.NewID()
	}

	r := &resolver{ids: ids}

	var managerID string

	for i := range f.topology.Resources {
		entry := &f.topology.Resources[i]

		res := r.build(entry)
		if r.err != nil {
			return "", r.err
		}

		if err := reg.Add(res); err != nil {
			return "", err
		}

		if entry.Kind == model.KindManager {
			managerID = res.GetID()
		}
	}

	links := make(map[string]*registry.Link)
	for _, link := range reg.Links() {
		links[link.Name()] = link
	}

	for _, edge := range f.topology.Links {
		link, ok := links[edge.Link]
		if !ok {
			return "", errors.Wrap(ErrFixture, "unknown link "+edge.Link)
		}

		a, b := r.id(edge.A), r.id(edge.B)
		if r.err != nil {
			return "", r.err
		}

		link.Add(a, b)
	}

	return managerID, nil
}

type resolver struct {
	ids map[string]string
	err error
}

func (r *resolver) id(ref string) string {
	if ref == "" {
		return ""
	}

	id, ok := r.ids[ref]
	if !ok && r.err == nil {
		r.err = errors.Wrap(ErrFixture, "unknown ref "+ref)
	}

	return id
}

func (r *resolver) refIDs(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}

	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.id(ref))
	}

	return out
}

// nolint:gocyclo // one arm per resource kind
func (r *resolver) build(entry *Resource) model.Resource {
	parent := r.id(entry.Parent)
	fru := model.FruInfo{SerialNumber: entry.SerialNumber}

	var res model.Resource

	switch entry.Kind {
	case model.KindManager:
		m := model.NewManager()
		m.GUID = entry.GUID
		res = m
	case model.KindChassis:
		c := model.NewChassis(parent)
		c.Fru = fru
		res = c
	case model.KindFabric:
		res = model.NewFabric(parent)
	case model.KindSwitch:
		s := model.NewSwitch(parent)
		s.Fru = fru
		s.ChassisID = r.id(entry.Chassis)
		res = s
	case model.KindPort:
		p := model.NewPort(parent)
		p.PortID = entry.PortID
		res = p
	case model.KindZone:
		z := model.NewZone(parent)
		z.ZoneID = entry.ZoneID
		z.SwitchID = r.id(entry.Switch)
		res = z
	case model.KindEndpoint:
		e := model.NewEndpoint(parent)
		for _, entity := range entry.ConnectedEntities {
			e.ConnectedEntities = append(e.ConnectedEntities, model.ConnectedEntity{
				EntityID: r.id(entity.Ref),
				Role:     entity.Role,
			})
		}
		e.Identifiers = append(e.Identifiers, entry.Identifiers...)
		res = e
	case model.KindDrive:
		d := model.NewDrive(parent)
		d.Fru = fru
		d.DSPPortIDs = r.refIDs(entry.DSPPorts)
		res = d
	case model.KindPcieDevice:
		d := model.NewPcieDevice(parent)
		d.Fru = fru
		d.ChassisID = r.id(entry.Chassis)
		res = d
	case model.KindPcieFunction:
		f := model.NewPcieFunction(parent)
		f.FunctionID = entry.FunctionID
		f.DSPPortID = r.id(entry.DSPPort)
		f.FunctionalDevice = r.id(entry.FunctionalDevice)
		res = f
	case model.KindProcessor:
		p := model.NewProcessor(parent)
		p.Fru = fru
		p.Socket = entry.Socket
		p.DSPPortIDs = r.refIDs(entry.DSPPorts)
		res = p
	case model.KindSystem:
		s := model.NewSystem(parent)
		s.GUID = entry.GUID
		s.ChassisID = r.id(entry.Chassis)
		res = s
	case model.KindStorageSubsystem:
		res = model.NewStorageSubsystem(parent)
	case model.KindStoragePool:
		p := model.NewStoragePool(parent)
		p.Identifiers = append(p.Identifiers, entry.Identifiers...)
		p.CapacitySources = r.refIDs(entry.CapacitySources)
		res = p
	case model.KindVolume:
		v := model.NewVolume(parent)
		v.Identifiers = append(v.Identifiers, entry.Identifiers...)
		for _, replica := range entry.Replicas {
			v.Replicas = append(v.Replicas, model.Replica{VolumeID: r.id(replica.Ref), Role: replica.Role})
		}
		res = v
	case model.KindNetworkInterface:
		n := model.NewNetworkInterface(parent)
		n.MACAddress = entry.MACAddress
		res = n
	case model.KindMetricDefinition:
		d := model.NewMetricDefinition(parent)
		d.Component = entry.ComponentKind
		d.MetricJSONPointer = entry.MetricJSONPointer
		d.Name = entry.Name
		res = d
	case model.KindMetric:
		m := model.NewMetric(r.id(entry.Component))
		m.MetricDefinitionID = r.id(entry.MetricDefinition)
		m.Name = entry.Name
		m.Value = entry.Value
		res = m
	default:
		r.err = errors.Wrap(ErrFixture, "unsupported kind "+entry.Kind.String())
		return nil
	}

	id := r.ids[entry.Ref]
	res.SetID(id)

	if entry.SelfIdentifier {
		self := model.Identifier{DurableName: id, Format: model.IdentifierUUID}

		switch typed := res.(type) {
		case *model.Endpoint:
			typed.Identifiers = append([]model.Identifier{self}, typed.Identifiers...)
		default:
			r.err = errors.Wrap(ErrFixture, "self_identifier on "+entry.Kind.String())
		}
	}

	return res
}
