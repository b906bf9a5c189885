package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// daOverflow implements on-demand disk-assist overflow for a memory-backed
// Queue (spec.md §4.2 "Disk-assist (DA) overflow"): above the high-water
// mark, a single worker drains the memory queue into a child disk queue;
// below the low-water mark, the child is allowed to drain and DA tears down.
type daOverflow struct {
	parent *Queue
	cfg    Config

	mu     sync.Mutex
	child  *Queue
	on     atomic.Bool
	cancel context.CancelFunc
}

func newDAOverflow(parent *Queue, cfg Config) *daOverflow {
	return &daOverflow{parent: parent, cfg: cfg}
}

func (d *daOverflow) active() bool { return d.on.Load() }

// requestStart spins up the child disk queue and its single consumer
// worker, if not already running. Called with parent.mu held.
func (d *daOverflow) requestStart() {
	if !d.on.CompareAndSwap(false, true) {
		return
	}

	childCfg := d.cfg
	childCfg.Name = d.cfg.Name + ".da"
	childCfg.Type = Disk
	childCfg.FilePrefix = d.cfg.DAFilePrefix
	childCfg.DAFilePrefix = ""

	child, err := New(childCfg, d.parent.log)
	if err != nil {
		d.parent.log.WithError(err).Error("disk-assist: failed to construct child queue")
		d.on.Store(false)
		return
	}
	if err := child.Start(); err != nil {
		d.parent.log.WithError(err).Error("disk-assist: failed to start child queue")
		d.on.Store(false)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.child = child
	d.cancel = cancel
	d.mu.Unlock()

	go d.drainLoop(ctx)
}

// drainLoop is the DA worker: it dequeues from the parent memory queue and
// enqueues into the child disk queue until told to stop.
func (d *daOverflow) drainLoop(ctx context.Context) {
	var shutdownFlag = new(atomic.Bool)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := d.parent.DequeueBatch(shutdownFlag)
		if err != nil || batch == nil || batch.Len() == 0 {
			if err != nil {
				d.parent.log.WithError(err).Warn("disk-assist: drain dequeue failed")
			}
			continue
		}

		d.mu.Lock()
		child := d.child
		d.mu.Unlock()
		if child == nil {
			return
		}

		for i := range batch.Slots {
			rec := batch.Slots[i].Rec
			if rec == nil {
				continue
			}
			// The child queue becomes a second holder of this record, so it
			// needs its own reference before batch.Release() below drops the
			// parent batch's: otherwise the refcount hits zero and the
			// destructor fires while the child still holds the pointer
			// (spec.md §3.1 invariant 1, record.Release doc).
			rec.AddRef()
			if err := child.Submit(ctx, rec, rec.Pri.Severity); err != nil {
				d.parent.log.WithError(err).Warn("disk-assist: spill enqueue failed")
				rec.Release()
			}
		}
		batch.AdvanceDoneUpTo(batch.Len())
		if err := d.parent.Commit(batch.DeqID); err != nil {
			d.parent.log.WithError(err).Warn("disk-assist: commit failed")
		}
		batch.Release()
	}
}

// requestDrainAndStop tears DA down once the child has drained to empty
// (spec.md: "DA tears down when the child drains to empty").
func (d *daOverflow) requestDrainAndStop() {
	if !d.on.Load() {
		return
	}
	d.mu.Lock()
	child := d.child
	d.mu.Unlock()
	if child == nil {
		return
	}
	if child.Stats().LogicalSize > 0 {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	d.child = nil
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.on.Store(false)
	go func() {
		if err := child.Shutdown(context.Background()); err != nil {
			d.parent.log.WithError(err).Warn("disk-assist: child shutdown failed")
		}
	}()
}

// spillRemainder runs on parent shutdown with save-on-shutdown set: it
// forces DA on (if not already) and drains the parent to the child disk
// queue with an unbounded timeout so the next process run resumes from
// the child's persisted state.
func (d *daOverflow) spillRemainder(ctx context.Context) {
	d.requestStart()

	for {
		d.parent.mu.Lock()
		remaining := d.parent.logicalSizeLocked()
		d.parent.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	d.parent.log.Info(fmt.Sprintf("disk-assist: spilled remainder of %s on shutdown", d.cfg.Name))
}
