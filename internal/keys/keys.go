// Package keys builds the unique key of a resource from its intrinsic
// hardware attributes.
//
// A key never contains an ephemeral identifier. Attributes of other resources
// enter a key only through the Context, and only once those resources are
// persistent themselves.
package keys

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/model"
)

var (
	// ErrKeyUnavailable is returned while the attributes a key needs have not
	// been discovered yet. It is expected and retried on the next pass.
	ErrKeyUnavailable = errors.New("unique key unavailable")
)

// Singleton is the key of kinds an agent only ever has one of.
const Singleton = "singleton"

const sep = "_"

// Context is what a key strategy may need beyond the resource itself.
type Context struct {
	// External is a key supplied by the caller, the unique key or persistent
	// identifier of the resource this one stands for.
	External string
	// ExternalRequired is set when the resource is known to stand for another
	// one. An empty External then leaves the key unavailable.
	ExternalRequired bool
	// Anchor is the already stabilized resource whose attributes scope this one.
	Anchor model.Resource
	// Ports are the stabilized ports an endpoint connects to.
	Ports []*model.Port
}

// Unique returns the unique key of res.
func Unique(res model.Resource, kctx Context) (string, error) {
	switch r := res.(type) {
	case *model.Manager:
		return managerKey(r, kctx)
	case *model.Chassis:
		return chassisKey(r, kctx)
	case *model.Fabric:
		return Singleton, nil
	case *model.Switch:
		return serial(r, r.Fru)
	case *model.Port:
		return portKey(r, kctx)
	case *model.Zone:
		return zoneKey(r, kctx)
	case *model.Endpoint:
		return endpointKey(r, kctx)
	case *model.Drive:
		return serial(r, r.Fru)
	case *model.PcieDevice:
		return pcieDeviceKey(r, kctx)
	case *model.PcieFunction:
		return functionKey(r, kctx)
	case *model.Processor:
		return processorKey(r, kctx)
	case *model.System:
		if r.GUID != "" {
			return r.GUID, nil
		}

		return Singleton, nil
	case *model.StorageSubsystem:
		return subsystemKey(r, kctx)
	case *model.StoragePool:
		return durable(r, r.Identifiers)
	case *model.Volume:
		return durable(r, r.Identifiers)
	case *model.NetworkInterface:
		return nicKey(r, kctx)
	case *model.MetricDefinition:
		return definitionKey(r)
	case *model.Metric:
		return metricKey(r, kctx)
	default:
		return "", errors.Wrapf(model.ErrUnknownKind, "%T", res)
	}
}

func pcieDeviceKey(d *model.PcieDevice, kctx Context) (string, error) {
	if kctx.External != "" {
		return kctx.External, nil
	}

	if kctx.ExternalRequired {
		return "", unavailable(d, "functional device is not identified")
	}

	return serial(d, d.Fru)
}

func unavailable(res model.Resource, reason string) error {
	return errors.Wrap(ErrKeyUnavailable, res.Kind().String()+" "+res.GetID()+": "+reason)
}

func join(parts ...string) string {
	return strings.Join(parts, sep)
}

func serial(res model.Resource, fru model.FruInfo) (string, error) {
	if fru.SerialNumber == "" {
		return "", unavailable(res, "serial number is missing")
	}

	return fru.SerialNumber, nil
}

func anchorSwitchSerial(res model.Resource, kctx Context) (string, error) {
	sw, ok := kctx.Anchor.(*model.Switch)
	if !ok || sw == nil {
		return "", unavailable(res, "no anchor switch")
	}

	if sw.Fru.SerialNumber == "" {
		return "", unavailable(res, "switch serial number is missing")
	}

	return sw.Fru.SerialNumber, nil
}

func managerKey(m *model.Manager, kctx Context) (string, error) {
	if kctx.Anchor != nil {
		return anchorSwitchSerial(m, kctx)
	}

	if m.GUID == "" {
		return "", unavailable(m, "guid is missing")
	}

	return m.GUID, nil
}

func chassisKey(c *model.Chassis, kctx Context) (string, error) {
	switch anchor := kctx.Anchor.(type) {
	case *model.Switch:
		return anchorSwitchSerial(c, kctx)
	case *model.Manager:
		if anchor.GUID == "" {
			return "", unavailable(c, "manager guid is missing")
		}

		return anchor.GUID, nil
	default:
		return serial(c, c.Fru)
	}
}

func portKey(p *model.Port, kctx Context) (string, error) {
	switchSerial, err := anchorSwitchSerial(p, kctx)
	if err != nil {
		return "", err
	}

	if p.PortID == "" {
		return "", unavailable(p, "port id is missing")
	}

	return join(switchSerial, p.PortID), nil
}

func zoneKey(z *model.Zone, kctx Context) (string, error) {
	switchSerial, err := anchorSwitchSerial(z, kctx)
	if err != nil {
		return "", err
	}

	if z.ZoneID == nil {
		return "", unavailable(z, "zone id is missing")
	}

	return join(switchSerial, strconv.FormatUint(uint64(*z.ZoneID), 10)), nil
}

// endpointKey combines what the endpoint connects to with the ports it sits
// on. Neither alone tells two endpoints apart.
func endpointKey(e *model.Endpoint, kctx Context) (string, error) {
	if len(e.ConnectedEntities) == 0 {
		if len(kctx.Ports) == 0 {
			return "", unavailable(e, "no connected entities and no ports")
		}

		return "", unavailable(e, "no connected entities")
	}

	entities := make([]model.ConnectedEntity, len(e.ConnectedEntities))
	copy(entities, e.ConnectedEntities)
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Role != entities[j].Role {
			return entities[i].Role < entities[j].Role
		}

		return entities[i].EntityID < entities[j].EntityID
	})

	parts := make([]string, 0, 2*len(entities)+len(e.Identifiers)+len(kctx.Ports))

	for _, entity := range entities {
		if entity.EntityID == "" {
			return "", unavailable(e, "connected entity without id")
		}

		parts = append(parts, string(entity.Role), entity.EntityID)
	}

	// the UUID identifier mirrors the endpoint's own id and is rewritten with it
	for _, identifier := range e.Identifiers {
		if identifier.Format != model.IdentifierUUID && identifier.DurableName != "" {
			parts = append(parts, identifier.DurableName)
		}
	}

	portKeys := make([]string, 0, len(kctx.Ports))
	for _, port := range kctx.Ports {
		if port.UniqueKey == "" {
			return "", unavailable(e, "port "+port.ID+" is not stabilized")
		}

		portKeys = append(portKeys, port.UniqueKey)
	}

	sort.Strings(portKeys)

	return join(append(parts, portKeys...)...), nil
}

func functionKey(f *model.PcieFunction, kctx Context) (string, error) {
	if kctx.External == "" {
		return "", unavailable(f, "device key was not supplied")
	}

	if f.FunctionID == "" {
		return "", unavailable(f, "function id is missing")
	}

	return join(kctx.External, f.FunctionID), nil
}

func processorKey(p *model.Processor, kctx Context) (string, error) {
	if p.Fru.SerialNumber != "" {
		return p.Fru.SerialNumber, nil
	}

	system, ok := kctx.Anchor.(*model.System)
	if !ok || system == nil || system.UniqueKey == "" {
		return "", unavailable(p, "serial number is missing and no stabilized system")
	}

	if p.Socket == "" {
		return "", unavailable(p, "serial number and socket are missing")
	}

	return join(system.UniqueKey, p.Socket), nil
}

func subsystemKey(s *model.StorageSubsystem, kctx Context) (string, error) {
	if kctx.Anchor == nil {
		return Singleton, nil
	}

	system, ok := kctx.Anchor.(*model.System)
	if !ok || system == nil || system.UniqueKey == "" {
		return "", unavailable(s, "system is not stabilized")
	}

	return system.UniqueKey, nil
}

func durable(res model.Resource, identifiers []model.Identifier) (string, error) {
	name, ok := model.DurableIdentifier(identifiers, model.IdentifierUUID)
	if !ok {
		return "", unavailable(res, "no durable uuid identifier")
	}

	return name, nil
}

func nicKey(n *model.NetworkInterface, kctx Context) (string, error) {
	if n.MACAddress == "" {
		return "", unavailable(n, "mac address is missing")
	}

	mac := strings.ToLower(n.MACAddress)

	if kctx.Anchor == nil {
		return mac, nil
	}

	anchorKey := kctx.Anchor.GetUniqueKey()
	if anchorKey == "" {
		return "", unavailable(n, "anchor is not stabilized")
	}

	return join(anchorKey, mac), nil
}

func definitionKey(d *model.MetricDefinition) (string, error) {
	if d.MetricJSONPointer == "" {
		return "", unavailable(d, "metric json pointer is missing")
	}

	return join(d.Component.String(), d.MetricJSONPointer, d.Name), nil
}

func metricKey(m *model.Metric, kctx Context) (string, error) {
	if kctx.External == "" {
		return "", unavailable(m, "component id was not supplied")
	}

	if m.MetricDefinitionID == "" {
		return "", unavailable(m, "metric definition id is missing")
	}

	return join(kctx.External, m.MetricDefinitionID, m.Name), nil
}
