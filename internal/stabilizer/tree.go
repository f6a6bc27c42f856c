package stabilizer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/metrics"
	"github.com/metal-toolbox/rackstab/internal/model"
	"github.com/metal-toolbox/rackstab/internal/registry"
)

const pkgName = "rackstab/stabilizer"

// TreeStabilizer stabilizes everything an agent discovered below one manager.
type TreeStabilizer interface {
	// Stabilize walks the resources below managerID parent first and returns
	// the manager's persistent identifier. Resources that cannot be
	// identified are left ephemeral with their subtree; the walk continues
	// with their siblings.
	Stabilize(ctx context.Context, managerID string) (string, error)
	// Report returns the outcome of the last Stabilize call.
	Report() *Report
	// SetDryRun makes Stabilize predict every identifier on detached copies
	// before replaying the rename on its registry, which must then be a
	// scratch registry. Predictions are not counted in metrics.
	SetDryRun(dry bool)
}

// tree holds what every agent's walk shares.
type tree struct {
	stabilizer *Stabilizer
	reg        *registry.Registry
	agent      string
	logger     *logrus.Entry
	report     *Report
	dry        bool
}

func newTree(s *Stabilizer, reg *registry.Registry, agent string) tree {
	return tree{
		stabilizer: s,
		reg:        reg,
		agent:      agent,
		logger:     s.logger.WithField("agent", agent),
		report:     &Report{Agent: agent},
	}
}

func (t *tree) Report() *Report {
	return t.report
}

func (t *tree) SetDryRun(dry bool) {
	t.dry = dry
}

func (t *tree) begin(ctx context.Context, managerID string) trace.Span {
	t.report = &Report{
		Agent:     t.agent,
		ManagerID: managerID,
		Started:   time.Now(),
	}

	_, span := otel.Tracer(pkgName).Start(
		ctx,
		"stabilizer.Stabilize",
		trace.WithAttributes(
			attribute.String("agent", t.agent),
			attribute.String("manager_id", managerID),
		),
	)

	return span
}

func (t *tree) end(span trace.Span, managerID string, err error) {
	t.report.ManagerID = managerID
	t.report.Duration = time.Since(t.report.Started)

	span.SetAttributes(
		attribute.Int("stabilized", len(t.report.Stabilized)),
		attribute.Int("renamed", t.report.Renamed()),
		attribute.Int("skipped", len(t.report.Skipped)),
	)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()

	t.logger.WithFields(logrus.Fields{
		"manager_id": managerID,
		"stabilized": len(t.report.Stabilized),
		"renamed":    t.report.Renamed(),
		"skipped":    len(t.report.Skipped),
	}).Debug("stabilization pass done")
}

func (t *tree) stabilized(kind model.Kind, oldID, newID, key string, rewritten int) {
	t.report.Stabilized = append(t.report.Stabilized, Outcome{
		Kind:      kind,
		From:      oldID,
		To:        newID,
		UniqueKey: key,
		Rewritten: rewritten,
	})

	if !t.dry {
		metrics.StabilizedResources.WithLabelValues(t.agent, kind.String()).Inc()
	}

	if oldID != newID {
		t.logger.WithFields(logrus.Fields{
			"kind":      kind.String(),
			"from":      oldID,
			"to":        newID,
			"rewritten": rewritten,
		}).Trace("resource stabilized")
	}
}

// skip records a resource left ephemeral. Missing keys are routine and
// logged as warnings, anything else as errors.
func (t *tree) skip(kind model.Kind, id string, err error) {
	why := reason(err)

	t.report.Skipped = append(t.report.Skipped, Skip{
		Kind:   kind,
		ID:     id,
		Reason: why,
		Error:  err.Error(),
	})

	if !t.dry {
		metrics.SkippedResources.WithLabelValues(t.agent, kind.String(), why).Inc()
	}

	entry := t.logger.WithFields(logrus.Fields{
		"kind":  kind.String(),
		"id":    id,
		"error": err.Error(),
	})

	if why == ReasonKeyUnavailable {
		entry.Warn("resource left ephemeral, key unavailable")
		return
	}

	entry.Error("resource left ephemeral")
}

// stabilizeNode stabilizes one resource: key, rename, relation rewrite and
// the metrics bound to it. On failure the resource is recorded as skipped and
// its old identifier returned with the error.
func stabilizeNode[T model.Resource](t *tree, store *registry.Manager[T], id string, kctx keys.Context) (string, error) {
	kind := store.Kind()

	res, err := store.GetRef(id)
	if err != nil {
		t.skip(kind, id, err)
		return id, err
	}

	var predicted string

	if t.dry {
		if predicted, err = t.stabilizer.DryStabilize(res, kctx); err != nil {
			t.skip(kind, id, err)
			return id, err
		}
	}

	key, err := keys.Unique(res, kctx)
	if err != nil {
		t.skip(kind, id, err)
		return id, err
	}

	newID, err := StabilizeSingle(t.stabilizer, store, id, key)
	if err != nil {
		t.skip(kind, id, err)
		return id, err
	}

	if t.dry && newID != predicted {
		err = errors.Wrap(ErrInconsistentTopology, "predicted "+predicted+", replayed "+newID)
		t.skip(kind, id, err)

		return newID, err
	}

	rewritten, err := UpdateRelations(t.reg, kind, id, newID)
	if err != nil {
		t.skip(kind, id, err)
		return newID, err
	}

	t.stabilized(kind, id, newID, key, rewritten)

	if kind != model.KindMetric {
		t.stabilizeMetrics(newID)
	}

	return newID, nil
}

func (t *tree) stabilizeMetricDefinitions() {
	for _, id := range t.reg.MetricDefinitions.Keys() {
		_, _ = stabilizeNode(t, t.reg.MetricDefinitions, id, keys.Context{})
	}
}

// stabilizeMetrics stabilizes the metrics read from componentID.
func (t *tree) stabilizeMetrics(componentID string) {
	bound := t.reg.Metrics.KeysWhere(func(m *model.Metric) bool {
		return m.ComponentID == componentID
	})

	for _, id := range bound {
		metric, err := t.reg.Metrics.GetRef(id)
		if err != nil {
			t.skip(model.KindMetric, id, err)
			continue
		}

		if metric.MetricDefinitionID != "" {
			definition, err := t.reg.MetricDefinitions.GetRef(metric.MetricDefinitionID)
			if err != nil {
				t.skip(model.KindMetric, id, errors.Wrap(ErrInconsistentTopology, err.Error()))
				continue
			}

			if !definition.IsStabilized() {
				t.skip(model.KindMetric, id, errors.Wrap(keys.ErrKeyUnavailable, "metric definition "+definition.ID+" is not stabilized"))
				continue
			}
		}

		_, _ = stabilizeNode(t, t.reg.Metrics, id, keys.Context{External: componentID})
	}
}

func (t *tree) stabilizeDrives(parentID string) {
	for _, id := range t.reg.Drives.KeysByParent(parentID) {
		_, _ = stabilizeNode(t, t.reg.Drives, id, keys.Context{})
	}
}

// stabilizeEndpoint assembles the ports an endpoint connects to before
// computing its key. Connected entities must be known to the registry and
// persistent already since their identifiers become part of the key.
func (t *tree) stabilizeEndpoint(id string) {
	endpoint, err := t.reg.Endpoints.GetRef(id)
	if err != nil {
		t.skip(model.KindEndpoint, id, err)
		return
	}

	for _, entity := range endpoint.ConnectedEntities {
		res, err := t.reg.Lookup(entity.EntityID)
		if err != nil {
			t.skip(model.KindEndpoint, id, errors.Wrap(keys.ErrKeyUnavailable, "connected entity "+entity.EntityID+" is not discovered"))
			return
		}

		if res.GetUniqueKey() == "" {
			t.skip(model.KindEndpoint, id, errors.Wrap(
				keys.ErrKeyUnavailable,
				"connected "+res.Kind().String()+" "+res.GetID()+" is not stabilized",
			))

			return
		}
	}

	var ports []*model.Port

	for _, portID := range t.reg.EndpointPorts.ChildrenOf(id) {
		port, err := t.reg.Ports.GetRef(portID)
		if err != nil {
			t.skip(model.KindEndpoint, id, errors.Wrap(ErrInconsistentTopology, "endpoint port "+portID+" not found"))
			return
		}

		ports = append(ports, port)
	}

	_, _ = stabilizeNode(t, t.reg.Endpoints, id, keys.Context{Ports: ports})
}

var (
	_ TreeStabilizer = (*PNC)(nil)
	_ TreeStabilizer = (*Compute)(nil)
	_ TreeStabilizer = (*Storage)(nil)
)
