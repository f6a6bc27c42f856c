package stabilizer

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/store/simulator"
)

const (
	pncManagerID  = "aa114f2a-c67c-5abf-a6eb-afcfaadd6252"
	pncChassisID  = "04ac45f8-fbd7-5e1d-a4c8-6b259e3b6fbf"
	pncFabricID   = "d10d12e6-9f05-5ec6-bb1b-ce36c4971d84"
	pncSwitchID   = "ff447de7-eec1-5935-8bfa-931c900c41a9"
	pncPort1ID    = "00b69aba-f05c-51ee-87cc-1a4b2e69cad5"
	pncZone1ID    = "4ad02eea-92f8-5007-995e-c8a4a46b75fe"
	pncDrive1ID   = "a6d5c322-cad8-582c-89c4-2375337bf310"
	pncDrive2ID   = "92ed8d7c-a05b-509a-8e46-ad20b882b722"
	pncDevice1ID  = "d29e86db-b44c-58d3-9240-35e18cc3b736"
	pncDevice2ID  = "aa864a9b-f961-555a-8ef0-a7571c801348"
	pncFunctionID = "bc94a919-9e94-5158-8f8d-86829e17e6a2"
)

func discover(t *testing.T, agent kind.Agent, withheld ...string) (*registry.Registry, string) {
	t.Helper()

	reg := registry.New()

	managerID, err := simulator.New(agent, withheld...).Discover(context.Background(), reg)
	require.NoError(t, err)

	return reg, managerID
}

// identifiers returns the sorted identifiers of every store by kind name.
func identifiers(reg *registry.Registry) map[string][]string {
	out := make(map[string][]string)

	for _, store := range reg.Stores() {
		ids := store.Keys()
		sort.Strings(ids)
		out[store.Kind().String()] = ids
	}

	return out
}

func counts(reg *registry.Registry) map[string]int {
	n := make(map[string]int)

	for _, store := range reg.Stores() {
		n[store.Kind().String()] = store.Len()
	}

	return n
}

// assertPersistent checks every resource carries the identifier its key
// resolves to.
func assertPersistent(t *testing.T, s *Stabilizer, reg *registry.Registry) {
	t.Helper()

	for _, store := range reg.Stores() {
		for _, id := range store.Keys() {
			res, err := store.Resource(id)
			require.NoError(t, err)

			if assert.NotEmpty(t, res.GetUniqueKey(), "%s %s", res.Kind(), id) {
				assert.Equal(t, s.PersistentID(res.Kind(), res.GetUniqueKey()), id)
			}
		}
	}
}

type skipped struct {
	Kind   model.Kind
	Reason string
}

func skips(report *Report) []skipped {
	out := make([]skipped, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		out = append(out, skipped{s.Kind, s.Reason})
	}

	return out
}

func TestPNCStabilize(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	before := counts(reg)
	ephemeral := identifiers(reg)

	tree := NewPNC(s, reg)
	newID, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)
	assert.Equal(t, pncManagerID, newID)

	report := tree.Report()
	assert.Equal(t, kind.PNC.String(), report.Agent)
	assert.Equal(t, pncManagerID, report.ManagerID)
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Stabilized, reg.Len())
	assert.Equal(t, reg.Len(), report.Renamed())

	if diff := cmp.Diff(before, counts(reg)); diff != "" {
		t.Errorf("resource counts changed (-before +after):\n%s", diff)
	}

	assert.Empty(t, reg.Verify())
	assertPersistent(t, s, reg)

	for _, ids := range ephemeral {
		for _, id := range ids {
			_, err := reg.Lookup(id)
			assert.True(t, errors.Is(err, registry.ErrResourceNotFound), id)
		}
	}

	for id, store := range map[string]registry.Store{
		pncChassisID:  reg.Chassis,
		pncFabricID:   reg.Fabrics,
		pncSwitchID:   reg.Switches,
		pncPort1ID:    reg.Ports,
		pncZone1ID:    reg.Zones,
		pncDrive1ID:   reg.Drives,
		pncDrive2ID:   reg.Drives,
		pncDevice1ID:  reg.PcieDevices,
		pncFunctionID: reg.PcieFunctions,
	} {
		assert.True(t, store.Exists(id), "%s %s", store.Kind(), id)
	}
}

func TestPNCStabilizeRelations(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	_, err := NewPNC(s, reg).Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	function, err := reg.PcieFunctions.Get(pncFunctionID)
	require.NoError(t, err)
	assert.Equal(t, pncDevice1ID, function.ParentID)
	assert.Equal(t, pncDrive1ID, function.FunctionalDevice)
	assert.Equal(t, pncPort1ID, function.DSPPortID)
	assert.True(t, reg.DrivePcieFunctions.Exists(pncDrive1ID, pncFunctionID))

	drive, err := reg.Drives.Get(pncDrive1ID)
	require.NoError(t, err)
	assert.Equal(t, pncChassisID, drive.ParentID)
	assert.Equal(t, []string{pncPort1ID}, drive.DSPPortIDs)

	port, err := reg.Ports.Get(pncPort1ID)
	require.NoError(t, err)
	assert.Equal(t, pncSwitchID, port.ParentID)

	zone, err := reg.Zones.Get(pncZone1ID)
	require.NoError(t, err)
	assert.Equal(t, pncFabricID, zone.ParentID)
	assert.Equal(t, pncSwitchID, zone.SwitchID)

	sw, err := reg.Switches.Get(pncSwitchID)
	require.NoError(t, err)
	assert.Equal(t, pncChassisID, sw.ChassisID)

	endpoints := reg.ZoneEndpoints.ChildrenOf(pncZone1ID)
	require.Len(t, endpoints, 1)

	endpoint, err := reg.Endpoints.Get(endpoints[0])
	require.NoError(t, err)
	assert.Equal(t, []model.ConnectedEntity{{EntityID: pncDrive1ID, Role: model.EntityRoleTarget}}, endpoint.ConnectedEntities)
	assert.Equal(t, []model.Identifier{{DurableName: endpoint.ID, Format: model.IdentifierUUID}}, endpoint.Identifiers)
	assert.Equal(t, []string{pncPort1ID}, reg.EndpointPorts.ChildrenOf(endpoint.ID))

	bound := reg.Metrics.KeysWhere(func(m *model.Metric) bool { return m.ComponentID == pncPort1ID })
	require.Len(t, bound, 1)

	metric, err := reg.Metrics.Get(bound[0])
	require.NoError(t, err)

	definitions := reg.MetricDefinitions.Keys()
	require.Len(t, definitions, 1)
	assert.Equal(t, definitions[0], metric.MetricDefinitionID)
}

func TestPNCStabilizeIsIdempotent(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	tree := NewPNC(s, reg)
	newID, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	first := identifiers(reg)

	again, err := tree.Stabilize(context.Background(), newID)
	require.NoError(t, err)
	assert.Equal(t, newID, again)

	report := tree.Report()
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Stabilized, reg.Len())
	assert.Equal(t, 0, report.Renamed())

	for _, outcome := range report.Stabilized {
		assert.Equal(t, 0, outcome.Rewritten, outcome.To)
	}

	if diff := cmp.Diff(first, identifiers(reg)); diff != "" {
		t.Errorf("identifiers changed on second pass (-first +second):\n%s", diff)
	}
}

func TestPNCStabilizeIsDeterministic(t *testing.T) {
	s := newTestStabilizer()

	first, firstManager := discover(t, kind.PNC)
	second, secondManager := discover(t, kind.PNC)
	require.NotEqual(t, firstManager, secondManager)

	_, err := NewPNC(s, first).Stabilize(context.Background(), firstManager)
	require.NoError(t, err)

	_, err = NewPNC(s, second).Stabilize(context.Background(), secondManager)
	require.NoError(t, err)

	if diff := cmp.Diff(identifiers(first), identifiers(second)); diff != "" {
		t.Errorf("independent passes disagree (-first +second):\n%s", diff)
	}
}

func TestPNCDryStabilizeMatchesCommit(t *testing.T) {
	s := newTestStabilizer()
	committed, managerID := discover(t, kind.PNC)

	_, err := NewPNC(s, committed).Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	fresh, _ := discover(t, kind.PNC)

	switches := fresh.Switches.Keys()
	require.Len(t, switches, 1)

	sw, err := fresh.Switches.GetRef(switches[0])
	require.NoError(t, err)

	for _, id := range fresh.Drives.Keys() {
		drive, err := fresh.Drives.GetRef(id)
		require.NoError(t, err)

		predicted, err := s.DryStabilize(drive, keys.Context{})
		require.NoError(t, err)
		assert.True(t, committed.Drives.Exists(predicted), predicted)
		assert.Equal(t, id, drive.ID)
		assert.Empty(t, drive.UniqueKey)
	}

	for _, id := range fresh.Ports.Keys() {
		port, err := fresh.Ports.GetRef(id)
		require.NoError(t, err)

		predicted, err := s.DryStabilize(port, keys.Context{Anchor: sw})
		require.NoError(t, err)
		assert.True(t, committed.Ports.Exists(predicted), predicted)
	}

	manager, err := fresh.Managers.GetRef(fresh.Managers.Keys()[0])
	require.NoError(t, err)

	predicted, err := s.DryStabilize(manager, keys.Context{Anchor: sw})
	require.NoError(t, err)
	assert.Equal(t, pncManagerID, predicted)

	assert.Equal(t, sw.ID, switches[0])
	assert.Empty(t, sw.UniqueKey)
}

func TestPNCDryRunMatchesCommit(t *testing.T) {
	s := newTestStabilizer()

	outcomes := func(report *Report) map[string]model.Kind {
		out := make(map[string]model.Kind, len(report.Stabilized))
		for _, outcome := range report.Stabilized {
			out[outcome.To] = outcome.Kind
		}

		return out
	}

	for _, withheld := range [][]string{nil, {simulator.Drive2Serial}} {
		committed, managerID := discover(t, kind.PNC, withheld...)
		tree := NewPNC(s, committed)
		_, err := tree.Stabilize(context.Background(), managerID)
		require.NoError(t, err)

		scratch, scratchManagerID := discover(t, kind.PNC, withheld...)
		dry := NewPNC(s, scratch)
		dry.SetDryRun(true)

		predictedManagerID, err := dry.Stabilize(context.Background(), scratchManagerID)
		require.NoError(t, err)
		assert.Equal(t, pncManagerID, predictedManagerID)

		if diff := cmp.Diff(outcomes(tree.Report()), outcomes(dry.Report())); diff != "" {
			t.Errorf("predicted identifiers mismatch (-committed +predicted):\n%s", diff)
		}

		if diff := cmp.Diff(skips(tree.Report()), skips(dry.Report())); diff != "" {
			t.Errorf("skipped mismatch (-committed +predicted):\n%s", diff)
		}
	}
}

func TestPNCStabilizeMissingDriveSerial(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC, simulator.Drive2Serial)

	tree := NewPNC(s, reg)
	newID, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)
	assert.Equal(t, pncManagerID, newID)

	want := []skipped{
		{model.KindDrive, ReasonKeyUnavailable},
		{model.KindEndpoint, ReasonKeyUnavailable},
		{model.KindPcieDevice, ReasonKeyUnavailable},
	}
	if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, reg.Drives.Exists(pncDrive1ID))
	assert.False(t, reg.Drives.Exists(pncDrive2ID))

	ephemeral := reg.Drives.KeysWhere(func(d *model.Drive) bool { return !d.IsStabilized() })
	require.Len(t, ephemeral, 1)
	assert.Equal(t, tree.Report().Skipped[0].ID, ephemeral[0])

	// the device behind the unreadable drive waits for the drive serial
	assert.True(t, reg.PcieDevices.Exists(pncDevice1ID))
	assert.False(t, reg.PcieDevices.Exists(pncDevice2ID))
	assert.Len(t, reg.PcieDevices.KeysWhere(func(d *model.PcieDevice) bool { return !d.IsStabilized() }), 1)
	assert.Len(t, reg.PcieFunctions.KeysWhere(func(f *model.PcieFunction) bool { return !f.IsStabilized() }), 1)

	assert.Empty(t, reg.Verify())
}

func TestPNCPcieDeviceIDSurvivesUnreadableDrive(t *testing.T) {
	s := newTestStabilizer()

	// drive 2 serial unreadable in the first cycle, readable in the second
	for _, withheld := range [][]string{{simulator.Drive2Serial}, nil} {
		reg, managerID := discover(t, kind.PNC, withheld...)

		_, err := NewPNC(s, reg).Stabilize(context.Background(), managerID)
		require.NoError(t, err)

		for _, id := range reg.PcieDevices.Keys() {
			assert.NotEqual(t, pncDevice2ID, id, "device keyed by its own serial")
		}

		for _, id := range reg.PcieFunctions.Keys() {
			assert.NotEqual(t, s.PersistentID(model.KindPcieFunction, simulator.Device2Serial+"_0"), id)
		}
	}

	reg, managerID := discover(t, kind.PNC)
	_, err := NewPNC(s, reg).Stabilize(context.Background(), managerID)
	require.NoError(t, err)
	assert.True(t, reg.PcieDevices.Exists(s.PersistentID(model.KindPcieDevice, simulator.Drive2Serial)))
}

func TestPNCStabilizeDeviceWithoutFunctionalDevice(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	reg.PcieFunctions.UpdateAll(func(f *model.PcieFunction) bool {
		f.FunctionalDevice = ""
		f.DSPPortID = ""
		return true
	})

	tree := NewPNC(s, reg)
	_, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)
	assert.Empty(t, tree.Report().Skipped)

	// nothing stands behind the functions, so the devices use their own serials
	assert.True(t, reg.PcieDevices.Exists(pncDevice2ID))
	assert.True(t, reg.PcieDevices.Exists(s.PersistentID(model.KindPcieDevice, simulator.Device1Serial)))
}

func TestPNCStabilizeOutOfBandDevice(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	reg.PcieFunctions.UpdateAll(func(f *model.PcieFunction) bool {
		f.FunctionalDevice = ""
		return true
	})

	tree := NewPNC(s, reg)
	_, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)
	assert.Empty(t, tree.Report().Skipped)

	assert.True(t, reg.PcieDevices.Exists(pncDevice1ID))
	assert.True(t, reg.PcieFunctions.Exists(pncFunctionID))
}

func TestPNCStabilizeMissingSwitchSerial(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC, simulator.SwitchSerial)

	tree := NewPNC(s, reg)
	newID, err := tree.Stabilize(context.Background(), managerID)
	assert.True(t, errors.Is(err, keys.ErrKeyUnavailable))
	assert.Equal(t, managerID, newID)
	assert.True(t, reg.Managers.Exists(managerID))

	want := []skipped{{model.KindManager, ReasonKeyUnavailable}}
	if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}

	// only the metric definitions, which hang off no manager key, are persistent
	require.Len(t, tree.Report().Stabilized, 1)
	assert.Equal(t, model.KindMetricDefinition, tree.Report().Stabilized[0].Kind)
	assert.Empty(t, reg.Verify())
}

func TestPNCStabilizeChassisWithoutSwitch(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	reg.Switches.UpdateAll(func(sw *model.Switch) bool {
		sw.ChassisID = ""
		return true
	})

	tree := NewPNC(s, reg)
	_, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	want := []skipped{
		{model.KindChassis, ReasonInconsistentTopology},
		{model.KindEndpoint, ReasonKeyUnavailable},
		{model.KindEndpoint, ReasonKeyUnavailable},
	}
	if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}

	// drives below the skipped chassis stay ephemeral
	assert.Empty(t, reg.Drives.KeysWhere(func(d *model.Drive) bool { return d.IsStabilized() }))
	assert.True(t, reg.Switches.Exists(pncSwitchID))
	assert.True(t, reg.PcieDevices.Exists(pncDevice1ID))
	assert.Empty(t, reg.Verify())
}

func TestPNCStabilizeDuplicateSerial(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	reg.Drives.UpdateAll(func(d *model.Drive) bool {
		d.Fru.SerialNumber = simulator.Drive1Serial
		return true
	})

	tree := NewPNC(s, reg)
	_, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	want := []skipped{
		{model.KindDrive, ReasonInconsistentTopology},
		{model.KindEndpoint, ReasonKeyUnavailable},
		{model.KindPcieDevice, ReasonInconsistentTopology},
	}
	if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, len(reg.Drives.KeysWhere(func(d *model.Drive) bool { return d.IsStabilized() })))
	assert.Empty(t, reg.Verify())
}

func TestPNCStabilizeEndpointWithUndiscoveredEntity(t *testing.T) {
	s := newTestStabilizer()

	for range 2 {
		reg, managerID := discover(t, kind.PNC)

		reg.Endpoints.UpdateAll(func(e *model.Endpoint) bool {
			e.ConnectedEntities = []model.ConnectedEntity{{EntityID: model.NewID(), Role: model.EntityRoleTarget}}
			return true
		})

		tree := NewPNC(s, reg)
		_, err := tree.Stabilize(context.Background(), managerID)
		require.NoError(t, err)

		want := []skipped{
			{model.KindEndpoint, ReasonKeyUnavailable},
			{model.KindEndpoint, ReasonKeyUnavailable},
		}
		if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
			t.Errorf("skipped mismatch (-want +got):\n%s", diff)
		}

		assert.Empty(t, reg.Endpoints.KeysWhere(func(e *model.Endpoint) bool { return e.IsStabilized() }))

		for _, outcome := range tree.Report().Stabilized {
			assert.NotEqual(t, model.KindEndpoint, outcome.Kind)
		}
	}
}

func TestPNCStabilizeUnstabilizedMetricDefinition(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	reg.MetricDefinitions.UpdateAll(func(d *model.MetricDefinition) bool {
		d.MetricJSONPointer = ""
		return true
	})

	tree := NewPNC(s, reg)
	_, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	want := []skipped{
		{model.KindMetricDefinition, ReasonKeyUnavailable},
		{model.KindMetric, ReasonKeyUnavailable},
		{model.KindMetric, ReasonKeyUnavailable},
	}
	if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, reg.Ports.Exists(pncPort1ID))
	assert.Empty(t, reg.Verify())
}

func TestPNCStabilizeTwoSwitches(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.PNC)

	fabrics := reg.Fabrics.KeysByParent(managerID)
	require.Len(t, fabrics, 1)

	extra := model.NewSwitch(fabrics[0])
	extra.Fru.SerialNumber = "second_switch_serial"
	require.NoError(t, reg.Add(extra))

	tree := NewPNC(s, reg)
	newID, err := tree.Stabilize(context.Background(), managerID)
	assert.True(t, errors.Is(err, ErrInconsistentTopology))
	assert.Equal(t, managerID, newID)
}
