package tasks

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/keys"
	"github.com/metal-toolbox/rackstab/internal/notify"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/stabilizer"
	"github.com/metal-toolbox/rackstab/internal/store/simulator"
)

type fakeStep struct {
	err   error
	panic bool
}

func (s *fakeStep) Name() string {
	return "fake step"
}

func (s *fakeStep) Run(_ context.Context, _ *Pass) (string, error) {
	if s.panic {
		panic("step exploded")
	}

	return "fake details", s.err
}

type fakeTask struct {
	pass  *Pass
	steps []Step
}

func newFakeTask(steps ...Step) *fakeTask {
	return &fakeTask{
		pass:  &Pass{Agent: "pnc"},
		steps: steps,
	}
}

func (t *fakeTask) Name() string {
	return "fake task"
}

func (t *fakeTask) Pass() *Pass {
	return t.pass
}

func (t *fakeTask) Steps() []Step {
	return t.steps
}

type update struct {
	subject string
	state   notify.State
	status  TaskStatus
}

type fakePublisher struct {
	t       *testing.T
	updates []update
}

func (m *fakePublisher) Publish(_ context.Context, subject string, state notify.State, status json.RawMessage) {
	var ts TaskStatus
	require.NoError(m.t, json.Unmarshal(status, &ts))

	m.updates = append(m.updates, update{subject: subject, state: state, status: ts})
}

func (m *fakePublisher) last() update {
	return m.updates[len(m.updates)-1]
}

func TestTaskRunnerHandlePanic(t *testing.T) {
	publisher := &fakePublisher{t: t}
	runner := NewTaskRunner(publisher, newFakeTask(&fakeStep{panic: true}))

	err := runner.Run(context.Background())
	if assert.NotNil(t, err) {
		assert.Equal(t, "Task fatal error, check logs for details", err.Error())
	}

	assert.Equal(t, notify.Failed, publisher.last().state)
	assert.Equal(t, string(notify.Failed), runner.Status().Status)
}

func TestTaskRunnerStepFailure(t *testing.T) {
	stepErr := errors.New("boom")
	publisher := &fakePublisher{t: t}
	runner := NewTaskRunner(publisher, newFakeTask(&fakeStep{}, &fakeStep{err: stepErr}, &fakeStep{}))

	err := runner.Run(context.Background())
	assert.ErrorIs(t, err, stepErr)

	last := publisher.last()
	assert.Equal(t, notify.Failed, last.state)
	assert.Equal(t, "pnc", last.subject)
	assert.Equal(t, "boom", last.status.Error)
	assert.Equal(t, "Task failed at step fake step", last.status.Details)
	assert.Equal(t, string(notify.Succeeded), last.status.Steps[0].Status)
	assert.Equal(t, string(notify.Failed), last.status.Steps[1].Status)
	assert.Equal(t, string(notify.Pending), last.status.Steps[2].Status)
}

func newPass(t *testing.T, agent kind.Agent, withheld ...string) *Pass {
	t.Helper()

	logger := logrus.New()
	logger.Out = io.Discard

	reg := registry.New()
	s := stabilizer.New(uuid.MustParse("e784d192-379c-11e6-bc47-0242ac110002"), logger)

	return &Pass{
		Agent:      agent.String(),
		Registry:   reg,
		Repository: simulator.New(agent, withheld...),
		Tree:       stabilizer.NewPNC(s, reg),
	}
}

func TestStabilizeTask(t *testing.T) {
	pass := newPass(t, kind.PNC)
	publisher := &fakePublisher{t: t}

	runner := NewTaskRunner(publisher, NewStabilizeTask(pass))
	require.NoError(t, runner.Run(context.Background()))

	assert.Equal(t, "aa114f2a-c67c-5abf-a6eb-afcfaadd6252", pass.ManagerID)
	assert.Empty(t, pass.Dangling)
	require.NotNil(t, pass.Report)
	assert.Len(t, pass.Report.Stabilized, pass.Registry.Len())

	first := publisher.updates[0]
	assert.Equal(t, notify.Active, first.state)
	assert.Equal(t, "pnc", first.subject)

	last := publisher.last()
	assert.Equal(t, notify.Succeeded, last.state)
	assert.Equal(t, pass.ManagerID, last.subject)
	require.Len(t, last.status.Steps, 3)

	for i, name := range []string{"Discover", "Stabilize", "Verify"} {
		assert.Equal(t, name, last.status.Steps[i].Step)
		assert.Equal(t, string(notify.Succeeded), last.status.Steps[i].Status)
	}

	require.NotNil(t, last.status.Report)
	assert.Len(t, last.status.Report.Stabilized, pass.Registry.Len())
}

func TestStabilizeTaskRediscovers(t *testing.T) {
	pass := newPass(t, kind.PNC)

	require.NoError(t, NewTaskRunner(&fakePublisher{t: t}, NewStabilizeTask(pass)).Run(context.Background()))
	count := pass.Registry.Len()
	managerID := pass.ManagerID

	require.NoError(t, NewTaskRunner(&fakePublisher{t: t}, NewStabilizeTask(pass)).Run(context.Background()))
	assert.Equal(t, count, pass.Registry.Len())
	assert.Equal(t, managerID, pass.ManagerID)
}

func TestStabilizeTaskManagerKeyUnavailable(t *testing.T) {
	pass := newPass(t, kind.PNC, simulator.SwitchSerial)
	publisher := &fakePublisher{t: t}

	err := NewTaskRunner(publisher, NewStabilizeTask(pass)).Run(context.Background())
	assert.ErrorIs(t, err, keys.ErrKeyUnavailable)

	last := publisher.last()
	assert.Equal(t, notify.Failed, last.state)
	assert.Equal(t, "Stabilize", last.status.ActiveStep)
	require.NotNil(t, last.status.Report)
	assert.NotEmpty(t, last.status.Report.Skipped)
}
