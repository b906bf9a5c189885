package ruleset

import (
	"context"

	"github.com/syslogcore/engine/record"
)

// BindingFunc resolves which ruleset a record should be dispatched through
// (spec.md §4.4 step 1: "input-assigned or default"). Returning "" defers to
// the registry's default ruleset.
type BindingFunc func(rec *record.Record) string

// Consumer implements worker.Consumer over a Registry: each dequeued batch's
// records are dispatched through their bound (or default) ruleset. It is the
// worker.Consumer driving the main intake queue's pool, upstream of every
// per-action queue/pool pair.
type Consumer struct {
	Registry *Registry
	Binding  BindingFunc
}

// NewConsumer constructs a Consumer against reg. A nil binding always
// dispatches through the registry's default ruleset.
func NewConsumer(reg *Registry, binding BindingFunc) *Consumer {
	return &Consumer{Registry: reg, Binding: binding}
}

// Process dispatches every slot in batch through its bound ruleset, then
// advances the batch's done-marker so the worker pool can commit it. A
// per-record dispatch error marks that slot bad but does not abort the
// rest of the batch — one malformed or unroutable record must not stall
// the whole intake queue.
func (c *Consumer) Process(ctx context.Context, batch *record.Batch) error {
	for i := range batch.Slots {
		slot := &batch.Slots[i]
		name := ""
		if c.Binding != nil {
			name = c.Binding(slot.Rec)
		}
		rs, ok := c.Registry.Resolve(name)
		if !ok {
			slot.State = record.SlotBad
			continue
		}

		severity := slot.Rec.Pri.Severity
		isMark := slot.Rec.Origin.MsgID == "mark"

		if err := rs.Dispatch(ctx, slot.Rec, isMark, severity); err != nil && err != ErrDiscard {
			slot.State = record.SlotBad
			continue
		}
		slot.State = record.SlotCommitted
	}
	batch.AdvanceDoneUpTo(batch.Len())
	return nil
}
