// Package agents wires an agent kind to its discovery source, stabilizer and
// publisher and runs stabilization passes.
package agents

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/configuration"
	"github.com/metal-toolbox/rackstab/internal/handlers"
	"github.com/metal-toolbox/rackstab/internal/identity"
	"github.com/metal-toolbox/rackstab/internal/notify"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/stabilizer"
	"github.com/metal-toolbox/rackstab/internal/store"
)

// NewTree returns the tree stabilizer of an agent kind.
func NewTree(agent kind.Agent, s *stabilizer.Stabilizer, reg *registry.Registry) (stabilizer.TreeStabilizer, error) {
	switch agent {
	case kind.PNC:
		return stabilizer.NewPNC(s, reg), nil
	case kind.Compute:
		return stabilizer.NewCompute(s, reg), nil
	case kind.Storage:
		return stabilizer.NewStorage(s, reg), nil
	default:
		return nil, kind.ErrUnknownAgentKind
	}
}

// Agent runs the stabilization passes of one agent kind.
type Agent struct {
	kind       kind.Agent
	cfg        *configuration.Configuration
	logger     *logrus.Entry
	stabilizer *stabilizer.Stabilizer
	repository store.Repository
	registry   *registry.Registry
	publisher  notify.Publisher
	handler    *handlers.HandlerFactory
}

// New creates an agent from its configuration.
func New(ctx context.Context, cfg *configuration.Configuration, logger *logrus.Logger) (*Agent, error) {
	agentKind, err := kind.FromString(cfg.Agent)
	if err != nil {
		return nil, err
	}

	namespace, err := identity.LoadNamespace(cfg.ServiceUUID, cfg.ServiceUUIDFile)
	if err != nil {
		return nil, err
	}

	repository, err := store.NewRepository(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize discovery source")
	}

	publisher, err := notify.New(ctx, agentKind.String(), cfg.NotifyOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize notifier")
	}

	a := &Agent{
		kind:       agentKind,
		cfg:        cfg,
		logger:     logger.WithFields(logrus.Fields{"agent": agentKind.String(), "namespace": namespace.String()}),
		stabilizer: stabilizer.New(namespace, logger),
		repository: repository,
		registry:   registry.New(),
		publisher:  publisher,
	}

	tree, err := NewTree(agentKind, a.stabilizer, a.registry)
	if err != nil {
		return nil, err
	}

	a.handler = handlers.NewHandlerFactory(agentKind.String(), repository, a.registry, tree)

	return a, nil
}

func (a *Agent) Kind() kind.Agent {
	return a.kind
}

// Registry returns the registry the agent's passes write to. Hold its lock
// while reading.
func (a *Agent) Registry() *registry.Registry {
	return a.registry
}

func (a *Agent) Stabilizer() *stabilizer.Stabilizer {
	return a.stabilizer
}

// Once runs a single pass.
func (a *Agent) Once(ctx context.Context) (*stabilizer.Report, error) {
	return a.handler.Handle(ctx, a.publisher)
}

// Listen runs a pass every configured interval until ctx is done. A failed
// pass is logged and retried on the next tick.
func (a *Agent) Listen(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := a.Once(ctx); err != nil {
			a.logger.WithError(err).Warn("stabilization pass failed")
		}

		select {
		case <-ctx.Done():
			a.logger.Info("agent stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Predict discovers into a scratch registry and predicts the persistent
// identifier of every resource with a dry run. The agent's own registry is
// left untouched.
func (a *Agent) Predict(ctx context.Context) (*stabilizer.Report, error) {
	scratch := registry.New()

	tree, err := NewTree(a.kind, a.stabilizer, scratch)
	if err != nil {
		return nil, err
	}

	tree.SetDryRun(true)

	managerID, err := a.repository.Discover(ctx, scratch)
	if err != nil {
		return nil, err
	}

	if _, err := tree.Stabilize(ctx, managerID); err != nil {
		return tree.Report(), err
	}

	return tree.Report(), nil
}
