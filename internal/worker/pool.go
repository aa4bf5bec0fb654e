package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// DefaultDrainTimeout bounds how long a finished worker may take to exit.
const DefaultDrainTimeout = 5 * time.Second

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Spawner starts workers. Required.
	Spawner Spawner
	// Size is the number of ready workers kept per policy. Defaults to 1.
	Size         int
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Pool keeps ready workers per policy. A worker is handed out once and
// replaced in the background.
type Pool struct {
	spawner      Spawner
	size         int
	drainTimeout time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queues  map[string]chan *Worker
	closed  bool
	refills sync.WaitGroup
}

// NewPool creates an empty pool.
func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Spawner == nil {
		return nil, errors.New("worker: spawner is required")
	}
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		spawner:      opts.Spawner,
		size:         opts.Size,
		drainTimeout: opts.DrainTimeout,
		logger:       opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
		queues:       make(map[string]chan *Worker),
	}, nil
}

// Checkout returns a ready worker for policy, taking a pre-warmed one when
// available and spawning one otherwise. Either way a replacement is
// spawned in the background.
func (p *Pool) Checkout(ctx context.Context, policy string) (*Worker, error) {
	q, err := p.queue(policy)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case w := <-q:
			if w.State() != Ready {
				w.Terminate()
				continue
			}
			p.refill(policy)
			return w, nil
		default:
			w, err := p.spawn(ctx, policy)
			if err != nil {
				return nil, err
			}
			p.refill(policy)
			return w, nil
		}
	}
}

// Prewarm fills the queue of policy.
func (p *Pool) Prewarm(ctx context.Context, policy string) error {
	q, err := p.queue(policy)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for range cap(q) - len(q) {
		g.Go(func() error {
			w, err := p.spawn(ctx, policy)
			if err != nil {
				return err
			}
			p.offer(q, w)
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of queued workers for policy.
func (p *Pool) Len(policy string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[policy])
}

// Close stops refilling and terminates every queued worker. Checked out
// workers are not affected.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	p.mu.Unlock()

	p.refills.Wait()

	p.mu.Lock()
	var workers []*Worker
	for _, q := range p.queues {
		for len(q) > 0 {
			workers = append(workers, <-q)
		}
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.Terminate()
	}
	for _, w := range workers {
		<-w.Done()
	}
	return nil
}

func (p *Pool) queue(policy string) (chan *Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	q, ok := p.queues[policy]
	if !ok {
		q = make(chan *Worker, p.size)
		p.queues[policy] = q
	}
	return q, nil
}

func (p *Pool) refill(policy string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	q := p.queues[policy]
	p.refills.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.refills.Done()
		w, err := p.spawn(p.ctx, policy)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Warn("failed to spawn replacement worker", slog.String("policy", policy), slog.Any("error", err))
			}
			return
		}
		p.offer(q, w)
	}()
}

// offer queues w, terminating it when the queue is full or the pool closed.
func (p *Pool) offer(q chan *Worker, w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.Terminate()
		return
	}
	select {
	case q <- w:
	default:
		w.Terminate()
	}
}

func (p *Pool) spawn(ctx context.Context, policy string) (*Worker, error) {
	id := uuid.NewString()
	t, err := p.spawner.Spawn(ctx, id, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn worker: %w", err)
	}
	w := newWorker(id, policy, t, p.drainTimeout, p.logger)
	if err := w.WaitReady(ctx); err != nil {
		w.Terminate()
		return nil, err
	}
	p.logger.Debug("worker ready", slog.String("worker", id), slog.String("policy", policy))
	return w, nil
}
