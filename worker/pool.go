// Package worker implements the cooperative thread pool (wtp/wti) that
// drains a queue and drives a consumer, elastically scaling between a
// configured low and high worker count.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/syslogcore/engine/record"
)

// Dequeuer is the subset of queue.Queue the pool needs, kept narrow so
// tests can supply a fake without constructing a real queue.
type Dequeuer interface {
	DequeueBatch(shutdownFlag *atomic.Bool) (*record.Batch, error)
	Commit(deqID uint64) error
}

// Consumer processes one dequeued batch. It is typically the action
// engine's per-ruleset dispatch entry point.
type Consumer interface {
	Process(ctx context.Context, batch *record.Batch) error
}

// State is the pool's lifecycle state.
type State int32

const (
	Running State = iota
	Shutdown
	ShutdownImmediate
)

// Config configures the pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	IdleTimeout time.Duration
	// DequeueSlowdown caps post-batch throughput via a token-bucket
	// limiter (1 token per batch), the idiomatic Go analogue of the
	// source's manual post-consume sleep. Zero disables throttling.
	DequeueSlowdown rate.Limit
}

// Pool is the elastic worker pool driving one queue/consumer pair.
type Pool struct {
	queue    Dequeuer
	consumer Consumer
	cfg      Config
	log      *logrus.Entry

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu      sync.Mutex
	current int
	state   atomic.Int32

	shutdownFlag atomic.Bool
	stopCh       chan struct{}
	stopOnce     sync.Once

	wg sync.WaitGroup
}

// New constructs a Pool. Workers are not started until Start is called.
func New(q Dequeuer, consumer Consumer, cfg Config, log *logrus.Entry) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pool{
		queue:    q,
		consumer: consumer,
		cfg:      cfg,
		log:      log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		stopCh:   make(chan struct{}),
	}
	if cfg.DequeueSlowdown > 0 {
		p.limiter = rate.NewLimiter(cfg.DequeueSlowdown, 1)
	}
	return p
}

// Start launches the configured minimum worker count.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.MinWorkers; i++ {
		p.spawn(ctx)
	}
}

// AdviseMaxWorkers spawns additional workers up to n, bounded by the
// configured maximum (spec.md §4.3 "Scaling").
func (p *Pool) AdviseMaxWorkers(ctx context.Context, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.cfg.MaxWorkers {
		n = p.cfg.MaxWorkers
	}
	for p.current < n {
		p.spawnLocked(ctx)
	}
}

func (p *Pool) spawn(ctx context.Context) {
	p.mu.Lock()
	p.spawnLocked(ctx)
	p.mu.Unlock()
}

// spawnLocked must be called with p.mu held. It sets an inactivity guard
// (tracked via an unbuffered "ready" channel) before the goroutine starts, so
// a race where the lone new worker exits before observing the work that
// triggered its creation cannot shrink current below what the caller
// observed.
func (p *Pool) spawnLocked(ctx context.Context) {
	if !p.sem.TryAcquire(1) {
		return
	}
	p.current++
	p.wg.Add(1)
	ready := make(chan struct{})
	go p.runWorker(ctx, ready)
	<-ready
}

func (p *Pool) runWorker(ctx context.Context, ready chan struct{}) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	defer func() {
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
	}()
	close(ready)

	idle := p.cfg.IdleTimeout
	if idle <= 0 {
		idle = 5 * time.Second
	}

	for {
		if State(p.state.Load()) == ShutdownImmediate {
			return
		}

		batch, err := p.queue.DequeueBatch(&p.shutdownFlag)
		if err != nil {
			p.log.WithError(err).Error("worker: dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if batch == nil || batch.Len() == 0 {
			if State(p.state.Load()) == Shutdown {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-time.After(idle):
				return
			}
		}

		if err := p.consumer.Process(ctx, batch); err != nil {
			p.log.WithError(err).Error("worker: batch processing failed")
		}
		if err := p.queue.Commit(batch.DeqID); err != nil {
			p.log.WithError(err).Error("worker: commit failed")
		}
		batch.Release()

		if p.limiter != nil {
			p.limiter.Wait(ctx)
		}

		if State(p.state.Load()) == Shutdown {
			return
		}
	}
}

// Shutdown requests a graceful stop: each worker finishes the batch it holds
// and then exits without dequeuing another, so records still queued are not
// drained by this pool; a worker waiting in DequeueBatch processes the batch
// that call returns, if any, and then exits. immediate forces workers to drop
// out before their next dequeue, matching the queue's own shutdown-
// immediate phase (spec.md §4.2 phase 2/3).
func (p *Pool) Shutdown(immediate bool) {
	if immediate {
		p.state.Store(int32(ShutdownImmediate))
		p.shutdownFlag.Store(true)
	} else {
		p.state.Store(int32(Shutdown))
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Wait blocks until every worker has exited, or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current reports the number of live workers. Intended for tests and the
// observability surface.
func (p *Pool) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// MaxWorkers reports the configured worker ceiling, the value callers that
// drive AdviseMaxWorkers off external signals (e.g. queue depth) scale up
// to.
func (p *Pool) MaxWorkers() int {
	return p.cfg.MaxWorkers
}

// MinWorkers reports the configured worker floor Start spawns at.
func (p *Pool) MinWorkers() int {
	return p.cfg.MinWorkers
}
