package record

import "sync/atomic"

// SlotState is the per-slot progress marker inside a Batch.
type SlotState int

const (
	SlotReady SlotState = iota
	SlotSubmitted
	SlotCommitted
	SlotDiscarded
	SlotBad
)

func (s SlotState) String() string {
	switch s {
	case SlotReady:
		return "ready"
	case SlotSubmitted:
		return "submitted"
	case SlotCommitted:
		return "committed"
	case SlotDiscarded:
		return "discarded"
	case SlotBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Slot is one record's position within a Batch.
type Slot struct {
	Rec               *Record
	State             SlotState
	FilterMatched     bool
	PrevWasSuspended  bool
	RenderedParams    []string
}

// Batch is an ordered run of slots dequeued together and committed as one
// transactional unit. DeqID is assigned by the queue driver and used to
// serialise deferred physical deletion (see queue.Queue).
type Batch struct {
	DeqID     uint64
	Slots     []Slot
	doneUpTo  atomic.Int32
	shutdown  *atomic.Bool
}

// NewBatch allocates a batch of the given capacity. shutdown, if non-nil, is
// a shared flag the batch can consult to learn that the owning queue has
// begun an immediate shutdown mid-processing.
func NewBatch(deqID uint64, capacity int, shutdown *atomic.Bool) *Batch {
	return &Batch{
		DeqID:    deqID,
		Slots:    make([]Slot, 0, capacity),
		shutdown: shutdown,
	}
}

// Add appends a record to the batch in "ready" state.
func (b *Batch) Add(rec *Record, matched bool) {
	b.Slots = append(b.Slots, Slot{Rec: rec, State: SlotReady, FilterMatched: matched})
}

// Len returns the number of slots in the batch.
func (b *Batch) Len() int { return len(b.Slots) }

// ShuttingDown reports whether the owning queue has begun an immediate
// shutdown; long-running action processing should check this between slots.
func (b *Batch) ShuttingDown() bool {
	return b.shutdown != nil && b.shutdown.Load()
}

// DoneUpTo returns the index below which every slot is resolved (committed,
// discarded, or bad).
func (b *Batch) DoneUpTo() int { return int(b.doneUpTo.Load()) }

// AdvanceDoneUpTo records that all slots below idx are now resolved
// (committed, discarded, or bad). It never moves backwards.
func (b *Batch) AdvanceDoneUpTo(idx int) {
	for {
		cur := b.doneUpTo.Load()
		if int32(idx) <= cur {
			return
		}
		if b.doneUpTo.CompareAndSwap(cur, int32(idx)) {
			return
		}
	}
}

// Fully reports whether every slot has left {ready, submitted}.
func (b *Batch) Fully() bool {
	return b.DoneUpTo() >= len(b.Slots)
}

// Release drops every slot's record reference. Callers must ensure the batch
// is Fully() resolved before calling Release, matching the invariant that a
// batch may only be freed once done-up-to reaches its length.
func (b *Batch) Release() {
	for i := range b.Slots {
		if b.Slots[i].Rec != nil {
			b.Slots[i].Rec.Release()
			b.Slots[i].Rec = nil
		}
		b.Slots[i].RenderedParams = nil
	}
}

// Half splits the batch's unresolved tail in two. from is the first
// unresolved index; the split point divides [from, len) in half, so it is
// not the midpoint of a sub-range that ends before len.
func (b *Batch) Half(from int) (mid int) {
	remaining := len(b.Slots) - from
	return from + remaining/2
}
