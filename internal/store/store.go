package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/configuration"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/store/fixture"
	"github.com/metal-toolbox/rackstab/internal/store/simulator"
)

var (
	ErrSource = errors.New("unknown discovery source")
)

// Repository is where an agent discovers its resources from.
type Repository interface {
	// Discover adds the resources found in one pass to reg, every one with a
	// fresh ephemeral identifier, and returns the identifier of the manager
	// at the root of the tree.
	Discover(ctx context.Context, reg *registry.Registry) (string, error)
}

func NewRepository(_ context.Context, config *configuration.Configuration) (Repository, error) {
	switch config.Source {
	case configuration.SourceSimulator:
		agent, err := kind.FromString(config.Agent)
		if err != nil {
			return nil, err
		}

		return simulator.New(agent, config.SimulatorOptions.WithheldSerials...), nil
	case configuration.SourceFixture:
		return fixture.Load(config.TopologyFile)
	default:
		return nil, errors.Wrap(ErrSource, config.Source)
	}
}
