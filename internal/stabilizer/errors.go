package stabilizer

import (
	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/model"
)

var (
	// ErrInconsistentTopology is returned when a structural assumption does
	// not hold, for example a chassis without a switch.
	ErrInconsistentTopology = errors.New("inconsistent topology")

	ErrUnknownKind = model.ErrUnknownKind
)
