package stabilizer

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/model"
)

const (
	ReasonKeyUnavailable       = "key_unavailable"
	ReasonInconsistentTopology = "inconsistent_topology"
	ReasonError                = "error"
)

// Report is the outcome of one stabilization pass.
type Report struct {
	Agent      string        `json:"agent"`
	ManagerID  string        `json:"manager_id"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Stabilized []Outcome     `json:"stabilized"`
	Skipped    []Skip        `json:"skipped,omitempty"`
}

// Outcome is a resource given a persistent identifier. From equals To when
// the resource already had it.
type Outcome struct {
	Kind      model.Kind `json:"kind"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	UniqueKey string     `json:"unique_key"`
	// Rewritten counts the references updated to To.
	Rewritten int `json:"rewritten,omitempty"`
}

// Skip is a resource left ephemeral in this pass together with its subtree.
type Skip struct {
	Kind   model.Kind `json:"kind"`
	ID     string     `json:"id"`
	Reason string     `json:"reason"`
	Error  string     `json:"error"`
}

// Renamed returns how many resources changed identifier in this pass.
func (r *Report) Renamed() int {
	var n int
	for _, o := range r.Stabilized {
		if o.From != o.To {
			n++
		}
	}

	return n
}

// PersistentID returns the identifier the resource ephemerally known as id
// was given, if it was stabilized in this pass.
func (r *Report) PersistentID(id string) (string, bool) {
	for _, o := range r.Stabilized {
		if o.From == id {
			return o.To, true
		}
	}

	return "", false
}

func (r *Report) AsLogFields() []any {
	return []any{
		"agent", r.Agent,
		"manager_id", r.ManagerID,
		"stabilized", len(r.Stabilized),
		"renamed", r.Renamed(),
		"skipped", len(r.Skipped),
		"duration", r.Duration.String(),
	}
}

func (r *Report) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal report to json")
	}

	return b, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, keys.ErrKeyUnavailable):
		return ReasonKeyUnavailable
	case errors.Is(err, ErrInconsistentTopology):
		return ReasonInconsistentTopology
	default:
		return ReasonError
	}
}
