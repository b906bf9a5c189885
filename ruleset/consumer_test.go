package ruleset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syslogcore/engine/record"
)

func TestConsumerProcessDispatchesAndMarksBatchDone(t *testing.T) {
	a1 := &fakeSubmitter{}
	rs := &Ruleset{Name: "main", Rules: []Rule{{Filter: nil, Actions: []Submitter{a1}}}}

	reg := NewRegistry()
	reg.Register(rs)

	c := NewConsumer(reg, nil)
	batch := record.NewBatch(1, 2, nil)
	batch.Add(mkRecord("h1", "sshd", "one"), true)
	batch.Add(mkRecord("h1", "sshd", "two"), true)

	require.NoError(t, c.Process(context.Background(), batch))
	assert.ElementsMatch(t, []string{"one", "two"}, a1.received)
	assert.True(t, batch.Fully())
}

func TestConsumerProcessMarksSlotBadOnUnknownRuleset(t *testing.T) {
	reg := NewRegistry()
	c := NewConsumer(reg, func(rec *record.Record) string { return "missing" })

	batch := record.NewBatch(1, 1, nil)
	batch.Add(mkRecord("h1", "sshd", "one"), true)

	require.NoError(t, c.Process(context.Background(), batch))
	assert.Equal(t, record.SlotBad, batch.Slots[0].State)
}
