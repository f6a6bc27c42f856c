package stabilizer

import (
	"context"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

// Storage stabilizes a storage service: drives, pools and volumes of its
// systems and the fabric endpoints exposing them.
type Storage struct {
	tree
}

func NewStorage(s *Stabilizer, reg *registry.Registry) *Storage {
	return &Storage{tree: newTree(s, reg, kind.Storage.String())}
}

func (s *Storage) Stabilize(ctx context.Context, managerID string) (newID string, err error) {
	span := s.begin(ctx, managerID)
	defer func() { s.end(span, newID, err) }()

	s.stabilizeMetricDefinitions()

	newID, err = stabilizeNode(&s.tree, s.reg.Managers, managerID, keys.Context{})
	if err != nil {
		return managerID, err
	}

	manager, err := s.reg.Managers.GetRef(newID)
	if err != nil {
		return newID, err
	}

	for _, id := range s.reg.Chassis.KeysByParent(newID) {
		chassisID, err := stabilizeNode(&s.tree, s.reg.Chassis, id, keys.Context{Anchor: manager})
		if err != nil {
			continue
		}

		s.stabilizeDrives(chassisID)
	}

	for _, id := range s.reg.Systems.KeysByParent(newID) {
		s.stabilizeSystem(id)
	}

	// endpoints reference volumes, so fabrics go last
	for _, id := range s.reg.Fabrics.KeysByParent(newID) {
		fabricID, err := stabilizeNode(&s.tree, s.reg.Fabrics, id, keys.Context{})
		if err != nil {
			continue
		}

		for _, endpoint := range s.reg.Endpoints.KeysByParent(fabricID) {
			s.stabilizeEndpoint(endpoint)
		}
	}

	return newID, nil
}

func (s *Storage) stabilizeSystem(id string) {
	newID, err := stabilizeNode(&s.tree, s.reg.Systems, id, keys.Context{})
	if err != nil {
		return
	}

	system, err := s.reg.Systems.GetRef(newID)
	if err != nil {
		return
	}

	for _, nic := range s.reg.NetworkInterfaces.KeysByParent(newID) {
		_, _ = stabilizeNode(&s.tree, s.reg.NetworkInterfaces, nic, keys.Context{Anchor: system})
	}

	for _, sub := range s.reg.StorageSubsystems.KeysByParent(newID) {
		subID, err := stabilizeNode(&s.tree, s.reg.StorageSubsystems, sub, keys.Context{Anchor: system})
		if err != nil {
			continue
		}

		for _, pool := range s.reg.StoragePools.KeysByParent(subID) {
			_, _ = stabilizeNode(&s.tree, s.reg.StoragePools, pool, keys.Context{})
		}

		for _, volume := range s.reg.Volumes.KeysByParent(subID) {
			_, _ = stabilizeNode(&s.tree, s.reg.Volumes, volume, keys.Context{})
		}
	}
}
