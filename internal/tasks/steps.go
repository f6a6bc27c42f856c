package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/metrics"
	"github.com/metal-toolbox/rackstab/internal/notify"
)

var (
	errNoManager = errors.New("discovery returned no manager")
)

// StepStatus has status about a step, to be reported as part of the overall task.
type StepStatus struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewStepStatus will create a new step status struct
func NewStepStatus(stepName string, state notify.State, details string, err error) *StepStatus {
	status := &StepStatus{
		Step:    stepName,
		Status:  string(state),
		Details: details,
	}

	if err != nil {
		status.Error = err.Error()
	}

	return status
}

func (s *StepStatus) AsLogFields() []any {
	return []any{
		"step", s.Step,
		"status", s.Status,
		"details", s.Details,
		"error", s.Error,
	}
}

// Step is a unit of work. Multiple steps accomplish a task.
type Step interface {
	// Name of this step
	Name() string
	// Run will execute the code to accomplish this step
	Run(ctx context.Context, pass *Pass) (string, error)
}

type discoverStep struct {
	name string
}

// DiscoverStep replaces the registry contents with a fresh discovery pass.
func DiscoverStep() Step {
	return &discoverStep{
		name: "Discover",
	}
}

func (t *discoverStep) Name() string {
	return t.name
}

func (t *discoverStep) Run(ctx context.Context, pass *Pass) (string, error) {
	pass.Registry.Clear()

	managerID, err := pass.Repository.Discover(ctx, pass.Registry)
	if err != nil {
		return "Discovery failed", err
	}

	if managerID == "" {
		return "Discovery failed", errNoManager
	}

	pass.ManagerID = managerID

	return fmt.Sprintf("Discovered %d resources", pass.Registry.Len()), nil
}

type stabilizeStep struct {
	name string
}

// StabilizeStep gives the discovered resources their persistent identifiers.
func StabilizeStep() Step {
	return &stabilizeStep{
		name: "Stabilize",
	}
}

func (t *stabilizeStep) Name() string {
	return t.name
}

func (t *stabilizeStep) Run(ctx context.Context, pass *Pass) (string, error) {
	managerID, err := pass.Tree.Stabilize(ctx, pass.ManagerID)
	pass.Report = pass.Tree.Report()
	pass.ManagerID = managerID

	if err != nil {
		return "Manager left ephemeral", err
	}

	return fmt.Sprintf(
		"Stabilized %d resources, renamed %d, skipped %d",
		len(pass.Report.Stabilized),
		pass.Report.Renamed(),
		len(pass.Report.Skipped),
	), nil
}

type verifyStep struct {
	name string
}

// VerifyStep checks every reference in the registry still resolves.
func VerifyStep() Step {
	return &verifyStep{
		name: "Verify",
	}
}

func (t *verifyStep) Name() string {
	return t.name
}

func (t *verifyStep) Run(_ context.Context, pass *Pass) (string, error) {
	pass.Dangling = pass.Registry.Verify()
	metrics.DanglingReferences.WithLabelValues(pass.Agent).Set(float64(len(pass.Dangling)))

	if len(pass.Dangling) > 0 {
		for _, d := range pass.Dangling {
			slog.Error("Dangling reference", d.AsLogFields()...)
		}

		return fmt.Sprintf("%d dangling references", len(pass.Dangling)), pass.Registry.VerifyError()
	}

	return "All references resolve", nil
}
