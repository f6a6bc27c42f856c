package stabilizer

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/store/simulator"
)

func TestStorageStabilize(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.Storage)

	tree := NewStorage(s, reg)
	newID, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)
	assert.Equal(t, s.PersistentID(model.KindManager, simulator.StorageManagerGUID), newID)

	report := tree.Report()
	assert.Equal(t, kind.Storage.String(), report.Agent)
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Stabilized, reg.Len())

	assert.Empty(t, reg.Verify())
	assertPersistent(t, s, reg)

	assert.True(t, reg.Chassis.Exists("009ae2e8-721e-5b21-b822-5ac0640680f1"))

	sourceID := "3691fa03-8cfb-519e-9587-9eb2bb91e463"
	targetID := s.PersistentID(model.KindVolume, "volume_2_uuid")

	source, err := reg.Volumes.Get(sourceID)
	require.NoError(t, err)
	assert.Equal(t, []model.Replica{{VolumeID: targetID, Role: model.ReplicaRoleTarget}}, source.Replicas)

	target, err := reg.Volumes.Get(targetID)
	require.NoError(t, err)
	assert.Equal(t, []model.Replica{{VolumeID: sourceID, Role: model.ReplicaRoleSource}}, target.Replicas)

	poolID := s.PersistentID(model.KindStoragePool, "pool_1_uuid")
	assert.ElementsMatch(t, []string{sourceID, targetID}, reg.StoragePoolVolumes.ChildrenOf(poolID))

	pool, err := reg.StoragePools.Get(poolID)
	require.NoError(t, err)

	want := []string{
		s.PersistentID(model.KindDrive, "storage_drive_1_serial"),
		s.PersistentID(model.KindDrive, "storage_drive_2_serial"),
	}
	if diff := cmp.Diff(want, pool.CapacitySources); diff != "" {
		t.Errorf("capacity sources mismatch (-want +got):\n%s", diff)
	}

	nicKey := simulator.StorageSystemGUID + "_aa:bb:cc:dd:ee:10"
	assert.True(t, reg.NetworkInterfaces.Exists(s.PersistentID(model.KindNetworkInterface, nicKey)))

	for _, endpoint := range reg.Endpoints.List() {
		require.Len(t, endpoint.ConnectedEntities, 1)
		assert.Contains(t, []string{sourceID, targetID}, endpoint.ConnectedEntities[0].EntityID)

		self, ok := model.DurableIdentifier(endpoint.Identifiers, model.IdentifierUUID)
		require.True(t, ok)
		assert.Equal(t, endpoint.ID, self)

		_, ok = model.DurableIdentifier(endpoint.Identifiers, model.IdentifierNQN)
		assert.True(t, ok)
	}
}

func TestStorageStabilizeMissingDriveSerial(t *testing.T) {
	s := newTestStabilizer()
	reg, managerID := discover(t, kind.Storage, "storage_drive_2_serial")

	tree := NewStorage(s, reg)
	_, err := tree.Stabilize(context.Background(), managerID)
	require.NoError(t, err)

	want := []skipped{{model.KindDrive, ReasonKeyUnavailable}}
	if diff := cmp.Diff(want, skips(tree.Report())); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}

	pool, err := reg.StoragePools.Get(s.PersistentID(model.KindStoragePool, "pool_1_uuid"))
	require.NoError(t, err)
	require.Len(t, pool.CapacitySources, 2)
	assert.Equal(t, s.PersistentID(model.KindDrive, "storage_drive_1_serial"), pool.CapacitySources[0])
	assert.Equal(t, tree.Report().Skipped[0].ID, pool.CapacitySources[1])

	assert.Empty(t, reg.Verify())
}
