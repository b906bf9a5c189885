package ruleset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syslogcore/engine/record"
)

type fakeSubmitter struct {
	name     string
	received []string
	err      error
}

func (f *fakeSubmitter) SubmitToActQ(ctx context.Context, rec *record.Record, isMark bool, severity int) error {
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, string(rec.Raw))
	return nil
}

func mkRecord(host, app, msg string) *record.Record {
	return record.New([]byte(msg), record.Priority{}, record.Origin{Host: host, App: app}, record.NoDelay)
}

func TestDispatchRunsMatchingRulesInOrder(t *testing.T) {
	a1 := &fakeSubmitter{name: "a1"}
	a2 := &fakeSubmitter{name: "a2"}

	rs := &Ruleset{
		Name: "main",
		Rules: []Rule{
			{Filter: NewPropertyFilter(PropApp, OpEquals, "sshd"), Actions: []Submitter{a1}},
			{Filter: nil, Actions: []Submitter{a2}},
		},
	}

	rec := mkRecord("h1", "sshd", "login failure")
	require.NoError(t, rs.Dispatch(context.Background(), rec, false, 3))

	assert.Equal(t, []string{"login failure"}, a1.received)
	assert.Equal(t, []string{"login failure"}, a2.received)
}

func TestDispatchSkipsNonMatchingRule(t *testing.T) {
	a1 := &fakeSubmitter{}
	rs := &Ruleset{
		Name: "main",
		Rules: []Rule{
			{Filter: NewPropertyFilter(PropApp, OpEquals, "sshd"), Actions: []Submitter{a1}},
		},
	}

	rec := mkRecord("h1", "cron", "job ran")
	require.NoError(t, rs.Dispatch(context.Background(), rec, false, 6))
	assert.Empty(t, a1.received)
}

func TestDispatchDiscardStopsLaterRules(t *testing.T) {
	a1 := &fakeSubmitter{}
	a2 := &fakeSubmitter{}
	rs := &Ruleset{
		Name: "main",
		Rules: []Rule{
			{Filter: NewPropertyFilter(PropApp, OpEquals, "noisy"), Actions: []Submitter{a1}, Discard: true},
			{Filter: nil, Actions: []Submitter{a2}},
		},
	}

	rec := mkRecord("h1", "noisy", "spam")
	err := rs.Dispatch(context.Background(), rec, false, 7)
	assert.ErrorIs(t, err, ErrDiscard)
	assert.Equal(t, []string{"spam"}, a1.received)
	assert.Empty(t, a2.received, "discard must stop evaluation of later rules")
}

func TestPropertyFilterOps(t *testing.T) {
	rec := mkRecord("web01", "nginx", "GET /health 200")

	assert.True(t, NewPropertyFilter(PropHost, OpEquals, "web01").Match(rec))
	assert.False(t, NewPropertyFilter(PropHost, OpEquals, "web02").Match(rec))
	assert.True(t, NewPropertyFilter(PropMsg, OpContains, "/health").Match(rec))
	assert.True(t, NewPropertyFilter(PropApp, OpStartsWith, "ngi").Match(rec))
	assert.True(t, NewPropertyFilter(PropMsg, OpRegexp, `\d{3}$`).Match(rec))
	assert.False(t, NewPropertyFilter(PropMsg, OpRegexp, `(`).Match(rec), "invalid pattern never matches")
}

func TestRegistryResolvesDefaultWhenUnnamed(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Ruleset{Name: "main"})
	reg.Register(&Ruleset{Name: "audit"})

	rs, ok := reg.Resolve("")
	require.True(t, ok)
	assert.Equal(t, "main", rs.Name, "first registered ruleset is the default")

	rs, ok = reg.Resolve("audit")
	require.True(t, ok)
	assert.Equal(t, "audit", rs.Name)

	rs, ok = reg.Resolve("unknown")
	require.True(t, ok)
	assert.Equal(t, "main", rs.Name, "unknown name falls back to default")
}

func TestRegistrySetDefaultRejectsUnknown(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Ruleset{Name: "main"})
	assert.False(t, reg.SetDefault("nope"))
	assert.True(t, reg.SetDefault("main"))
}
