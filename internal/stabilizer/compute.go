package stabilizer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

// Compute stabilizes a compute sled: its BMC manager, the system it manages
// and the chassis around them.
type Compute struct {
	tree
}

func NewCompute(s *Stabilizer, reg *registry.Registry) *Compute {
	return &Compute{tree: newTree(s, reg, kind.Compute.String())}
}

func (c *Compute) Stabilize(ctx context.Context, managerID string) (newID string, err error) {
	span := c.begin(ctx, managerID)
	defer func() { c.end(span, newID, err) }()

	c.stabilizeMetricDefinitions()

	if len(c.reg.Systems.KeysByParent(managerID)) == 0 {
		err = errors.Wrap(ErrInconsistentTopology, "no system under manager "+managerID)
		c.skip(model.KindManager, managerID, err)

		return managerID, err
	}

	newID, err = stabilizeNode(&c.tree, c.reg.Managers, managerID, keys.Context{})
	if err != nil {
		return managerID, err
	}

	manager, err := c.reg.Managers.GetRef(newID)
	if err != nil {
		return newID, err
	}

	for _, id := range c.reg.Systems.KeysByParent(newID) {
		c.stabilizeSystem(id)
	}

	for _, id := range c.reg.Chassis.KeysByParent(newID) {
		chassisID, err := stabilizeNode(&c.tree, c.reg.Chassis, id, keys.Context{Anchor: manager})
		if err != nil {
			continue
		}

		c.stabilizeDrives(chassisID)
	}

	return newID, nil
}

func (c *Compute) stabilizeSystem(id string) {
	newID, err := stabilizeNode(&c.tree, c.reg.Systems, id, keys.Context{})
	if err != nil {
		return
	}

	system, err := c.reg.Systems.GetRef(newID)
	if err != nil {
		return
	}

	for _, proc := range c.reg.Processors.KeysByParent(newID) {
		_, _ = stabilizeNode(&c.tree, c.reg.Processors, proc, keys.Context{Anchor: system})
	}

	for _, nic := range c.reg.NetworkInterfaces.KeysByParent(newID) {
		_, _ = stabilizeNode(&c.tree, c.reg.NetworkInterfaces, nic, keys.Context{})
	}

	for _, sub := range c.reg.StorageSubsystems.KeysByParent(newID) {
		subID, err := stabilizeNode(&c.tree, c.reg.StorageSubsystems, sub, keys.Context{Anchor: system})
		if err != nil {
			continue
		}

		c.stabilizeDrives(subID)
	}
}
