// Package ruleset implements dispatch of a parsed record to one or more
// actions: select the ruleset bound to the record, evaluate each rule's
// filter in order, and for a match submit the record to every action the
// rule names (spec.md §4.4).
package ruleset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syslogcore/engine/record"
)

// ErrDiscard is returned by Dispatch when a rule's filter matched and the
// rule is marked discard: processing of the record stops for this ruleset,
// but the caller (other rulesets, other records in the batch) is unaffected.
var ErrDiscard = errors.New("ruleset: record discarded by rule")

// Filter is the out-of-scope "match?" boolean contract (spec.md §4.4): only
// whether a record matches is the core's concern, not how a filter decides.
type Filter interface {
	Match(rec *record.Record) bool
}

// Submitter is satisfied by *action.Action. Kept narrow so rulesets can be
// tested against a fake without constructing a real action/module/queue.
type Submitter interface {
	SubmitToActQ(ctx context.Context, rec *record.Record, isMark bool, severity int) error
}

// Rule binds a filter to an ordered list of actions. A nil Filter matches
// every record (the "no filter, always execute" selector line).
type Rule struct {
	Filter  Filter
	Actions []Submitter
	Discard bool
}

func (r Rule) matches(rec *record.Record) bool {
	if r.Filter == nil {
		return true
	}
	return r.Filter.Match(rec)
}

// Ruleset owns an ordered list of rules, evaluated top to bottom.
type Ruleset struct {
	Name  string
	Rules []Rule
}

// Dispatch evaluates rec against every rule in order. For each match, rec is
// submitted to every rule's actions; a Discard rule stops evaluation for
// this ruleset after its actions have been submitted to. severity is the
// record's syslog severity, forwarded to each action's queue admission
// logic. isMark flags a periodically generated mark message.
func (rs *Ruleset) Dispatch(ctx context.Context, rec *record.Record, isMark bool, severity int) error {
	for _, rule := range rs.Rules {
		if !rule.matches(rec) {
			continue
		}
		for _, act := range rule.Actions {
			if err := act.SubmitToActQ(ctx, rec, isMark, severity); err != nil {
				return fmt.Errorf("ruleset %s: submit: %w", rs.Name, err)
			}
		}
		if rule.Discard {
			return ErrDiscard
		}
	}
	return nil
}

// Registry binds ruleset names to Rulesets and tracks which one is the
// default (spec.md §4.4 step 1: "input-assigned or default").
type Registry struct {
	mu       sync.RWMutex
	sets     map[string]*Ruleset
	defaultN string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]*Ruleset)}
}

// Register adds or replaces a Ruleset. The first Ruleset registered becomes
// the default unless SetDefault is called explicitly afterward.
func (reg *Registry) Register(rs *Ruleset) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sets[rs.Name] = rs
	if reg.defaultN == "" {
		reg.defaultN = rs.Name
	}
}

// SetDefault names the ruleset used when a record carries no input-assigned
// binding. Returns false if name is not registered.
func (reg *Registry) SetDefault(name string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.sets[name]; !ok {
		return false
	}
	reg.defaultN = name
	return true
}

// Resolve returns the ruleset bound to name, falling back to the default
// ruleset when name is empty or unknown.
func (reg *Registry) Resolve(name string) (*Ruleset, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if rs, ok := reg.sets[name]; ok {
		return rs, true
	}
	rs, ok := reg.sets[reg.defaultN]
	return rs, ok
}
