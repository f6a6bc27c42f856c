package handlers

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metal-toolbox/rackstab/internal/agents/kind"
	"github.com/metal-toolbox/rackstab/internal/notify"
	"github.com/metal-toolbox/rackstab/internal/registry"
	"github.com/metal-toolbox/rackstab/internal/stabilizer"
	"github.com/metal-toolbox/rackstab/internal/store/simulator"
)

type countingPublisher struct {
	mu     sync.Mutex
	states []notify.State
}

func (p *countingPublisher) Publish(_ context.Context, _ string, state notify.State, _ json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

type failingRepository struct{}

func (failingRepository) Discover(context.Context, *registry.Registry) (string, error) {
	return "", errors.New("bmc unreachable")
}

func newFactory(t *testing.T) (*HandlerFactory, *registry.Registry) {
	t.Helper()

	logger := logrus.New()
	logger.Out = io.Discard

	reg := registry.New()
	s := stabilizer.New(uuid.New(), logger)

	return NewHandlerFactory(kind.Storage.String(), simulator.New(kind.Storage), reg, stabilizer.NewStorage(s, reg)), reg
}

func TestHandle(t *testing.T) {
	h, reg := newFactory(t)
	publisher := &countingPublisher{}

	report, err := h.Handle(context.Background(), publisher)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Stabilized, reg.Len())
	assert.Equal(t, notify.Succeeded, publisher.states[len(publisher.states)-1])

	// the registry lock is released after the pass
	assert.True(t, reg.TryLock())
	reg.Unlock()
}

func TestHandleConcurrentPasses(t *testing.T) {
	h, reg := newFactory(t)

	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := h.Handle(context.Background(), &countingPublisher{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, 13, reg.Len())
	assert.Empty(t, reg.Verify())
}

func TestHandleDiscoveryFailure(t *testing.T) {
	logger := logrus.New()
	logger.Out = io.Discard

	reg := registry.New()
	s := stabilizer.New(uuid.New(), logger)
	h := NewHandlerFactory(kind.PNC.String(), failingRepository{}, reg, stabilizer.NewPNC(s, reg))

	publisher := &countingPublisher{}

	report, err := h.Handle(context.Background(), publisher)
	assert.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, notify.Failed, publisher.states[len(publisher.states)-1])
}
