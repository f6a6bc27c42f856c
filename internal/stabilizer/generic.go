// Package stabilizer replaces the ephemeral identifiers a discovery pass
// assigns with persistent identifiers and rewrites every relation that
// referenced the old ones.
package stabilizer

import (
	"github.com/google/uuid"
	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/metal-toolbox/rackstab/internal/identity"
	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

// Stabilizer computes persistent identifiers within one agent namespace.
type Stabilizer struct {
	namespace uuid.UUID
	logger    *logrus.Logger
}

func New(namespace uuid.UUID, logger *logrus.Logger) *Stabilizer {
	if logger == nil {
		logger = logrus.New()
	}

	return &Stabilizer{
		namespace: namespace,
		logger:    logger,
	}
}

func (s *Stabilizer) Namespace() uuid.UUID {
	return s.namespace
}

// PersistentID returns the identifier a resource of kind with key resolves to.
func (s *Stabilizer) PersistentID(kind model.Kind, key string) string {
	return identity.Hash(s.namespace, kind.String()+"_"+key).String()
}

// StabilizeSingle renames the resource stored under oldID to the persistent
// identifier of key and records key on it. It is a no-op returning the same
// identifier when the resource already carries it.
func StabilizeSingle[T model.Resource](s *Stabilizer, store *registry.Manager[T], oldID, key string) (string, error) {
	newID := s.PersistentID(store.Kind(), key)

	if err := store.Rename(oldID, newID); err != nil {
		if errors.Is(err, registry.ErrIDConflict) {
			return "", errors.Wrap(ErrInconsistentTopology, err.Error())
		}

		return "", err
	}

	if err := store.Update(newID, func(res T) { res.SetUniqueKey(key) }); err != nil {
		return "", err
	}

	return newID, nil
}

// DryStabilize returns the identifier res would be given, working on detached
// copies of res and the context so nothing stored is touched.
func (s *Stabilizer) DryStabilize(res model.Resource, kctx keys.Context) (string, error) {
	detached, err := detach(res)
	if err != nil {
		return "", err
	}

	dctx := keys.Context{External: kctx.External, ExternalRequired: kctx.ExternalRequired}

	if kctx.Anchor != nil {
		if dctx.Anchor, err = detach(kctx.Anchor); err != nil {
			return "", err
		}
	}

	for _, port := range kctx.Ports {
		cp, err := detach(port)
		if err != nil {
			return "", err
		}

		dctx.Ports = append(dctx.Ports, cp.(*model.Port))
	}

	key, err := keys.Unique(detached, dctx)
	if err != nil {
		return "", err
	}

	return s.PersistentID(detached.Kind(), key), nil
}

func detach(res model.Resource) (model.Resource, error) {
	cp, err := copystructure.Copy(res)
	if err != nil {
		return nil, errors.Wrap(err, "detach "+res.Kind().String())
	}

	detached, ok := cp.(model.Resource)
	if !ok {
		return nil, errors.New("detach " + res.Kind().String() + ": unexpected copy type")
	}

	return detached, nil
}
