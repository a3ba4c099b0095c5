package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/checkchef/pkg/models"
)

type blockingEvaluator struct {
	release chan struct{}
	started chan string
	calls   atomic.Int32
}

func (b *blockingEvaluator) Evaluate(ctx context.Context, check Check) models.CheckResult {
	b.calls.Add(1)
	id := check.Definition().ID
	if b.started != nil {
		b.started <- id
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
		}
	}
	return models.CheckResult{CheckID: id, Succeeded: true}
}

func buildCheck(id string) Check {
	c, _ := FromDefinition(models.CheckDefinition{
		ID:    id,
		Kind:  models.CheckKindBuild,
		Build: &models.BuildCheckSpec{Job: id},
	})
	return c
}

func TestPoolRejectsDuplicateInFlight(t *testing.T) {
	eval := &blockingEvaluator{release: make(chan struct{}), started: make(chan string, 4)}
	var (
		mu   sync.Mutex
		done []string
	)
	p := NewPool(PoolOptions{
		Evaluator: eval,
		Workers:   2,
		QueueSize: 4,
		Logger:    quiet,
		OnResult: func(_ context.Context, _ Check, r models.CheckResult) {
			mu.Lock()
			done = append(done, r.CheckID)
			mu.Unlock()
		},
	})
	p.Start(context.Background())
	defer p.Stop()

	require.True(t, p.Submit(buildCheck("a")))
	assert.Equal(t, "a", <-eval.started)
	assert.False(t, p.Submit(buildCheck("a")), "already running")

	_, err := p.Run(context.Background(), buildCheck("a"))
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, 1, p.InFlight())

	close(eval.release)
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a"}, done)
	mu.Unlock()
	assert.True(t, p.Submit(buildCheck("a")), "accepted again once finished")
}

func TestPoolQueueFull(t *testing.T) {
	eval := &blockingEvaluator{}
	// not started: nothing drains the queue
	p := NewPool(PoolOptions{Evaluator: eval, Workers: 1, QueueSize: 1, Logger: quiet})

	assert.True(t, p.Submit(buildCheck("a")))
	assert.False(t, p.Submit(buildCheck("b")))
	assert.Equal(t, 1, p.InFlight(), "rejected check is released")
}

func TestPoolRunIsSynchronous(t *testing.T) {
	eval := &blockingEvaluator{}
	var handled atomic.Bool
	p := NewPool(PoolOptions{
		Evaluator: eval,
		Logger:    quiet,
		OnResult:  func(context.Context, Check, models.CheckResult) { handled.Store(true) },
	})

	res, err := p.Run(context.Background(), buildCheck("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", res.CheckID)
	assert.True(t, handled.Load())
	assert.Zero(t, p.InFlight())
}
