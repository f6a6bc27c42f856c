package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultEndpoint   = "0.0.0.0:9090"
	ReadHeaderTimeout = 2 * time.Second
)

var (
	// StabilizedResources counts resources given a persistent identifier.
	StabilizedResources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackstab_stabilized_resources_total",
			Help: "Resources whose identifier was stabilized.",
		},
		[]string{"agent", "kind"},
	)

	// SkippedResources counts resources left ephemeral, by reason.
	SkippedResources = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackstab_skipped_resources_total",
			Help: "Resources left with an ephemeral identifier.",
		},
		[]string{"agent", "kind", "reason"},
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rackstab_pass_duration_seconds",
			Help:    "Duration of a discovery and stabilization pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent", "outcome"},
	)

	DanglingReferences = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rackstab_dangling_references",
			Help: "References found pointing at no resource after the last pass.",
		},
		[]string{"agent"},
	)

	NotifyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rackstab_notify_errors_total",
			Help: "Pass reports that could not be published.",
		},
		[]string{"agent", "publisher"},
	)
)

// ListenAndServe exposes /metrics on endpoint in the background.
func ListenAndServe(endpoint string) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.Handler(), "metrics"))

	go func() {
		server := &http.Server{
			Addr:              endpoint,
			Handler:           mux,
			ReadHeaderTimeout: ReadHeaderTimeout,
		}

		if err := server.ListenAndServe(); err != nil {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()

	slog.Info("metrics enabled", "endpoint", endpoint+"/metrics")
}
