package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/metal-toolbox/rackstab/internal/metrics"
	"github.com/metal-toolbox/rackstab/internal/notify"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/stabilizer"
	"github.com/metal-toolbox/rackstab/internal/store"
	"github.com/metal-toolbox/rackstab/internal/tasks"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

// HandlerFactory has the data and business logic for the application
type HandlerFactory struct {
	agent      string
	repository store.Repository
	registry   *registry.Registry
	tree       stabilizer.TreeStabilizer
}

// NewHandlerFactory returns a new instance of the Handler
func NewHandlerFactory(
	agent string,
	repository store.Repository,
	reg *registry.Registry,
	tree stabilizer.TreeStabilizer,
) *HandlerFactory {
	return &HandlerFactory{
		agent:      agent,
		repository: repository,
		registry:   reg,
		tree:       tree,
	}
}

// Handle runs one discovery and stabilization pass. The registry stays
// locked for the whole pass so no reader sees a partly renamed tree.
func (h *HandlerFactory) Handle(ctx context.Context, publisher notify.Publisher) (*stabilizer.Report, error) {
	h.registry.Lock()
	defer h.registry.Unlock()

	pass := &tasks.Pass{
		Agent:      h.agent,
		Registry:   h.registry,
		Repository: h.repository,
		Tree:       h.tree,
	}

	task := tasks.NewStabilizeTask(pass)
	runner := tasks.NewTaskRunner(publisher, task)

	started := time.Now()
	err := runner.Run(ctx)

	outcome := outcomeSucceeded
	if err != nil {
		outcome = outcomeFailed
		slog.Error("Failed running task", "error", err, "task", task.Name())
	}

	metrics.PassDuration.WithLabelValues(h.agent, outcome).Observe(time.Since(started).Seconds())

	if pass.Report != nil {
		slog.Info("Stabilization pass done", pass.Report.AsLogFields()...)
	}

	return pass.Report, err
}
