package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metal-toolbox/rackstab/internal/notify"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/stabilizer"
	"github.com/metal-toolbox/rackstab/internal/store"
)

const pkgName = "rackstab/tasks"

// Pass is the data the steps of one discovery and stabilization pass share.
type Pass struct {
	Agent      string
	Registry   *registry.Registry
	Repository store.Repository
	Tree       stabilizer.TreeStabilizer

	// ManagerID is ephemeral after discovery and persistent once stabilized.
	ManagerID string
	Report    *stabilizer.Report
	Dangling  []registry.DanglingReference
}

func (p *Pass) AsLogFields() []any {
	return []any{
		"agent", p.Agent,
		"managerID", p.ManagerID,
	}
}

// TaskStatus has status about a task, and it's steps.
type TaskStatus struct {
	Task       string                       `json:"task"`
	Status     string                       `json:"status"`
	Details    string                       `json:"details,omitempty"`
	Error      string                       `json:"error,omitempty"`
	ActiveStep string                       `json:"active_step,omitempty"`
	Steps      []*StepStatus                `json:"steps"`
	Report     *stabilizer.Report           `json:"report,omitempty"`
	Dangling   []registry.DanglingReference `json:"dangling,omitempty"`
}

// NewTaskStatus will generate a new task status struct
func NewTaskStatus(taskName string, state notify.State) *TaskStatus {
	return &TaskStatus{
		Task:   taskName,
		Status: string(state),
	}
}

func (r *TaskStatus) AsLogFields() []any {
	return []any{
		"task", r.Task,
		"status", r.Status,
		"details", r.Details,
		"error", r.Error,
	}
}

func (r *TaskStatus) Marshal() ([]byte, error) {
	respBytes, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal response to json")
	}

	return respBytes, nil
}

// Task is a unit of work made of steps run in order.
type Task interface {
	// Name of the task
	Name() string
	// Pass is the data the steps work on
	Pass() *Pass
	// Steps is the multiple units of work that will accomplish this task
	Steps() []Step
}

type stabilizeTask struct {
	name  string
	pass  *Pass
	steps []Step
}

// NewStabilizeTask creates the task discovering resources into the pass
// registry, stabilizing them and verifying the result.
func NewStabilizeTask(pass *Pass) Task {
	return &stabilizeTask{
		name: "Stabilize",
		pass: pass,
		steps: []Step{
			DiscoverStep(),
			StabilizeStep(),
			VerifyStep(),
		},
	}
}

func (j *stabilizeTask) Name() string {
	return j.name
}

func (j *stabilizeTask) Steps() []Step {
	return j.steps
}

func (j *stabilizeTask) Pass() *Pass {
	return j.pass
}

// TaskRunner Will run the task by executing the individual steps in the task,
// and reports task status using the publisher.
type TaskRunner struct {
	publisher  notify.Publisher
	task       Task
	taskStatus *TaskStatus
}

// NewTaskRunner creates a TaskRunner to run a specific Task
func NewTaskRunner(publisher notify.Publisher, task Task) *TaskRunner {
	return &TaskRunner{
		publisher:  publisher,
		task:       task,
		taskStatus: NewTaskStatus(task.Name(), notify.Pending),
	}
}

// Status returns the last status published.
func (r *TaskRunner) Status() *TaskStatus {
	return r.taskStatus
}

func (r *TaskRunner) Run(ctx context.Context) (err error) {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"TaskRunner.Run",
		trace.WithAttributes(
			attribute.String("task", r.task.Name()),
			attribute.String("agent", r.task.Pass().Agent),
		),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	slog.With(r.task.Pass().AsLogFields()...).Info("Running task", "task", r.task.Name())

	r.initTaskLog()

	defer func() {
		if rec := recover(); rec != nil {
			err = r.handlePanic(ctx, rec)
		}
	}()

	r.publishTaskUpdate(ctx, notify.Active, "Task started", nil)

	for stepID, step := range r.task.Steps() {
		r.publishStepUpdate(ctx, stepID, "Running step")

		details, err := step.Run(ctx, r.task.Pass())
		if err != nil {
			r.publishFailed(ctx, stepID, details, err)
			return err
		}

		r.publishStepSuccess(ctx, stepID, details)
	}

	r.publishTaskSuccess(ctx)

	return nil
}

func (r *TaskRunner) initTaskLog() {
	steps := r.task.Steps()
	r.taskStatus.Steps = make([]*StepStatus, len(steps))

	for i, step := range steps {
		r.taskStatus.Steps[i] = NewStepStatus(step.Name(), notify.Pending, "", nil)
	}
}

func (r *TaskRunner) handlePanic(ctx context.Context, rec any) error {
	msg := "Panic occurred while running task"
	slog.Error("!!panic occurred", "rec", rec, "stack", string(debug.Stack()))
	slog.Error(msg)
	err := errors.New("Task fatal error, check logs for details")

	r.publishTaskUpdate(ctx, notify.Failed, msg, err)

	return err
}

func (r *TaskRunner) publishStepUpdate(ctx context.Context, stepID int, details string) {
	r.taskStatus.ActiveStep = r.task.Steps()[stepID].Name()
	r.publish(ctx, stepID, notify.Active, notify.Active, details, nil)
}

func (r *TaskRunner) publishStepSuccess(ctx context.Context, stepID int, details string) {
	r.publish(ctx, stepID, notify.Succeeded, notify.Active, details, nil)
}

func (r *TaskRunner) publishFailed(ctx context.Context, stepID int, details string, err error) {
	slog.With(r.task.Pass().AsLogFields()...).Error("Task failed", "task", r.task.Name())
	r.publish(ctx, stepID, notify.Failed, notify.Failed, details, err)
}

func (r *TaskRunner) publishTaskSuccess(ctx context.Context) {
	slog.With(r.task.Pass().AsLogFields()...).Info("Task completed successfully", "task", r.task.Name())
	r.taskStatus.ActiveStep = ""
	r.publishTaskUpdate(ctx, notify.Succeeded, "Task completed successfully", nil)
}

func (r *TaskRunner) publish(ctx context.Context, stepID int, stepState, taskState notify.State, details string, err error) {
	step := r.task.Steps()[stepID]
	stepStatus := NewStepStatus(step.Name(), stepState, details, err)

	slog.With(r.task.Pass().AsLogFields()...).With(stepStatus.AsLogFields()...).Debug(details, "step", step.Name())

	r.taskStatus.Steps[stepID] = stepStatus

	var taskDetails string
	if err != nil {
		taskDetails = "Task failed at step " + step.Name()
	}

	r.publishTaskUpdate(ctx, taskState, taskDetails, err)
}

func (r *TaskRunner) publishTaskUpdate(ctx context.Context, state notify.State, details string, err error) {
	pass := r.task.Pass()

	r.taskStatus.Status = string(state)
	r.taskStatus.Details = details
	r.taskStatus.Report = pass.Report
	r.taskStatus.Dangling = pass.Dangling

	if err != nil {
		r.taskStatus.Error = err.Error()
	}

	slog.With(pass.AsLogFields()...).Debug("Task update", "task", r.task.Name(), "state", string(state))

	respBytes, err := r.taskStatus.Marshal()
	if err != nil {
		slog.Error("Failed to marshal task update", "error", err)
		return
	}

	subject := pass.ManagerID
	if subject == "" {
		subject = pass.Agent
	}

	r.publisher.Publish(ctx, subject, state, respBytes)
}
