package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/equinix-labs/otel-init-go/otelinit"

	"github.com/metal-toolbox/rackstab/internal/agents"
	"github.com/metal-toolbox/rackstab/internal/configuration"
	"github.com/metal-toolbox/rackstab/internal/log"
	"github.com/metal-toolbox/rackstab/internal/metrics"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/profiling"
	"github.com/metal-toolbox/rackstab/internal/version"
)

// newAgent loads the configuration and builds the agent it describes.
func newAgent(ctx context.Context, args *model.Args) (*agents.Agent, *configuration.Configuration, error) {
	config, err := configuration.Load(args)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, nil, err
	}

	log.SetLevel(config.LogLevel)

	slog.Info("Configuration loaded", config.AsLogFields()...)

	logger := log.NewLogrusLogger(config.LogLevel, config.Agent)
	log.BridgeOtel(logger)

	agent, err := agents.New(ctx, config, logger)
	if err != nil {
		slog.Error("Failed to create agent", "error", err)
		return nil, nil, err
	}

	return agent, config, nil
}

func runWorker(ctx context.Context, args *model.Args) error {
	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	agent, config, err := newAgent(ctx, args)
	if err != nil {
		return err
	}

	// serve metrics endpoint
	metrics.ListenAndServe(config.MetricsAddress)
	version.ExportBuildInfoMetric()

	if config.EnableProfiling {
		profiling.Enable(profiling.DefaultEndpoint)
	}

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel the context when we receive a termination signal.
	go func() {
		s := <-termChan
		slog.Info("Received signal for termination, exiting...", "signal", s.String())
		cancel()
	}()

	v, err := version.Current().AsMap()
	if err != nil {
		slog.Warn("Failed to read version", "error", err)
	}

	slog.Info("rackstab worker running", "agent", agent.Kind().String(), "version", v)

	if err := agent.Listen(ctx); err != nil {
		slog.Error("Worker stopped", "error", err)
		return err
	}

	return nil
}
