package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mr-karan/checkchef/internal/metrics"
	"github.com/mr-karan/checkchef/pkg/models"
)

// ErrInFlight is returned when a check is already queued or running.
var ErrInFlight = errors.New("check evaluation already in flight")

// Evaluator runs one check.
type Evaluator interface {
	Evaluate(ctx context.Context, check Check) models.CheckResult
}

// ResultHandler receives every completed evaluation.
type ResultHandler func(ctx context.Context, check Check, result models.CheckResult)

// PoolOptions configures a Pool.
type PoolOptions struct {
	Evaluator Evaluator
	OnResult  ResultHandler
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// Pool evaluates checks on a fixed number of workers. A check is never evaluated twice
// concurrently.
type Pool struct {
	eval     Evaluator
	onResult ResultHandler
	workers  int
	queue    chan Check
	log      *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a pool. Workers and QueueSize default to 4 and 256.
func NewPool(opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		eval:     opts.Evaluator,
		onResult: opts.OnResult,
		workers:  workers,
		queue:    make(chan Check, size),
		log:      logger.With("component", "engine_pool"),
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the workers. They run until Stop is called or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("starting evaluation workers", "workers", p.workers, "queue_size", cap(p.queue))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels running evaluations and waits for the workers to exit. Queued checks are
// dropped.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit queues a check. It returns false when the check is already in flight or the
// queue is full.
func (p *Pool) Submit(check Check) bool {
	id := check.Definition().ID
	if !p.acquire(id) {
		return false
	}
	select {
	case p.queue <- check:
		metrics.SetQueueDepth(len(p.queue))
		return true
	default:
		p.release(id)
		p.log.Warn("evaluation queue full, skipping check", "check_id", id)
		return false
	}
}

// Run evaluates a check synchronously on the caller's goroutine and hands the result to
// the result handler.
func (p *Pool) Run(ctx context.Context, check Check) (models.CheckResult, error) {
	id := check.Definition().ID
	if !p.acquire(id) {
		return models.CheckResult{}, ErrInFlight
	}
	defer p.release(id)
	return p.execute(ctx, check), nil
}

// InFlight reports how many checks are queued or running.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("evaluation worker stopping", "worker", n)
			return
		case check := <-p.queue:
			metrics.SetQueueDepth(len(p.queue))
			p.execute(ctx, check)
			p.release(check.Definition().ID)
		}
	}
}

func (p *Pool) execute(ctx context.Context, check Check) models.CheckResult {
	result := p.eval.Evaluate(ctx, check)
	if p.onResult != nil {
		p.onResult(ctx, check, result)
	}
	return result
}

func (p *Pool) acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[id]; ok {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}
