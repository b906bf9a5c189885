// Package action implements the action engine: a per-action state machine
// that drives an output module transactionally over a batch, honouring
// suspend/retry/disable, duplicate suppression, mark handling, and interval
// gating.
package action

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/syslogcore/engine/record"
)

// State is one of the action state machine's six states (spec.md §4.1).
type State int32

const (
	RDY State = iota
	ITX
	RTRY
	SUSP
	DIED
	COMM
)

func (s State) String() string {
	switch s {
	case RDY:
		return "rdy"
	case ITX:
		return "itx"
	case RTRY:
		return "rtry"
	case SUSP:
		return "susp"
	case DIED:
		return "died"
	case COMM:
		return "comm"
	default:
		return "unknown"
	}
}

// Sentinel errors forming the dispatch error taxonomy (spec.md §7).
var (
	ErrSuspended     = errors.New("action: suspended")
	ErrActionFailed  = errors.New("action: failed, batch marked bad")
	ErrDisableAction = errors.New("action: disabled, terminal until reload")
	ErrNoQueue       = errors.New("action: no queue configured")
)

// ModuleResult is an output module's reply to a single contract operation
// (spec.md §6.1).
type ModuleResult int

const (
	ResultOK ModuleResult = iota
	ResultDeferCommit
	ResultPreviousCommitted
	ResultSuspended
	ResultDisable
	ResultDiscard
)

// Module is the output-module transactional contract. Concrete modules
// (file/pipe/HTTP/cloud emitters) are out of scope; this package ships only
// the contract plus reference modules in the executor package.
type Module interface {
	BeginTransaction(ctx context.Context) (ModuleResult, error)
	DoAction(ctx context.Context, params []string, rec *record.Record) (ModuleResult, error)
	EndTransaction(ctx context.Context) (ModuleResult, error)
	TryResume(ctx context.Context) (ModuleResult, error)
	HUP(ctx context.Context) error
}

// Enqueuer is the subset of queue.Queue an action needs to submit records at
// ruleset-dispatch time, kept narrow so ruleset tests can supply a fake.
type Enqueuer interface {
	Submit(ctx context.Context, r *record.Record, severity int) error
}

// SubmitMode selects the submitToActQ variant (spec.md §4.4), chosen once at
// construction from which gating features the action uses.
type SubmitMode int

const (
	// SubmitFirehose enqueues every matched record unconditionally.
	SubmitFirehose SubmitMode = iota
	// SubmitNotAllMark additionally consults MaybeWriteMark for records
	// flagged as periodic mark messages, so a mark is never enqueued more
	// often than the half-mark-interval rule allows.
	SubmitNotAllMark
	// SubmitComplex is selected when duplicate-suppression or interval
	// gating is configured. The actual gating decision still happens once,
	// under the action mutex, in prepareLocked at batch-processing time
	// (spec.md §5: the action mutex protects the duplicate-suppression
	// snapshot) — repeating it lock-free at submission would race against
	// concurrent producers. SubmitComplex exists as a distinct,
	// construction-time-selected mode for parity with spec.md's three
	// variants and for the observability surface, not because submission
	// behaves differently from firehose.
	SubmitComplex
)

func (m SubmitMode) String() string {
	switch m {
	case SubmitFirehose:
		return "firehose"
	case SubmitNotAllMark:
		return "not-all-mark"
	case SubmitComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// ParamMode selects how a slot's parameters are rendered before DoAction.
type ParamMode int

const (
	ParamStrings ParamMode = iota
	ParamStringArray
	ParamRawRecord
)

// Config is the per-action configuration surface (spec.md §6.4).
type Config struct {
	Name                  string
	Module                Module
	ParamMode             ParamMode
	ResumeInterval        time.Duration
	ResumeRetryCount      int
	ExecEveryNth          int
	ExecEveryNthTimeout   time.Duration
	ExecOnceEveryInterval time.Duration
	ReduceRepeated        bool
	RepeatIntervalBase    time.Duration
	WriteAllMarkMsgs      bool
	MarkInterval          time.Duration
	ExecWhenPrevSuspended bool
	Queue                 Enqueuer
}

// Action is one bound output invocation with its own retry policy,
// duplicate-suppression snapshot, and gating state.
type Action struct {
	cfg Config

	mu    sync.Mutex
	state State

	resumeInterval   time.Duration
	failedResumes    int
	falseOKCount     int

	lastExec time.Time

	nthCount   int
	nthWindowStart time.Time

	lastWrite atomic.Int64 // unix nano, CAS-guarded mark-message timestamp

	prevRecord    *record.Record
	repeatCount   int
	lastEmit      time.Time

	limiter *rate.Limiter
	history *History

	submitMode SubmitMode
}

// New constructs an Action in the RDY state.
func New(cfg Config) *Action {
	a := &Action{
		cfg:            cfg,
		state:          RDY,
		resumeInterval: cfg.ResumeInterval,
		history:        NewHistory(200),
	}
	if cfg.ExecOnceEveryInterval > 0 {
		a.limiter = rate.NewLimiter(rate.Every(cfg.ExecOnceEveryInterval), 1)
	}
	switch {
	case cfg.ReduceRepeated || cfg.ExecEveryNth > 1 || cfg.ExecOnceEveryInterval > 0:
		a.submitMode = SubmitComplex
	case !cfg.WriteAllMarkMsgs && cfg.MarkInterval > 0:
		a.submitMode = SubmitNotAllMark
	default:
		a.submitMode = SubmitFirehose
	}
	return a
}

// SubmitMode reports the submitToActQ variant this action was constructed
// with. Intended for tests and the observability surface.
func (a *Action) SubmitMode() SubmitMode { return a.submitMode }

// SubmitToActQ enqueues rec onto the action's queue, implementing the
// submitToActQ step of ruleset dispatch (spec.md §4.4). isMark flags a
// periodically generated mark message; severity is passed through to the
// queue's admission/flow-control logic (spec.md §4.2).
func (a *Action) SubmitToActQ(ctx context.Context, rec *record.Record, isMark bool, severity int) error {
	if a.cfg.Queue == nil {
		return fmt.Errorf("action %s: submitToActQ: %w", a.cfg.Name, ErrNoQueue)
	}
	if isMark && a.submitMode == SubmitNotAllMark && !a.MaybeWriteMark(time.Now()) {
		return nil
	}
	return a.cfg.Queue.Submit(ctx, rec, severity)
}

// State reports the action's current state. Intended for tests and the
// observability surface.
func (a *Action) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns the action's bounded execution history.
func (a *Action) History() *History { return a.history }

// Name returns the action's configured name, for the observability surface.
func (a *Action) Name() string { return a.cfg.Name }

// LastExec reports when a slot last passed the action's interval gating in
// prepare. Intended for the observability surface.
func (a *Action) LastExec() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastExec
}

// FailedResumes reports the current consecutive-failed-resume-attempt count
// used against ResumeRetryCount (spec.md §4.1 RTRY→SUSP transition).
func (a *Action) FailedResumes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failedResumes
}

// ProcessBatch runs the prepare/submit/commit/release pipeline over a batch
// (spec.md §4.1 "Per-batch processing"). It returns ErrSuspended,
// ErrActionFailed, or ErrDisableAction to signal the caller's (worker pool's)
// next step; nil means every matched slot committed.
func (a *Action) ProcessBatch(ctx context.Context, batch *record.Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.processBatchLocked(ctx, batch)

	entry := Entry{At: time.Now(), State: a.state, Resolved: batch.DoneUpTo()}
	if err != nil {
		entry.Err = err.Error()
	}
	a.history.Record(entry)

	return err
}

func (a *Action) processBatchLocked(ctx context.Context, batch *record.Batch) error {
	a.prepareLocked(batch)

	if err := a.reachITXLocked(ctx); err != nil {
		a.markTailBad(batch, 0)
		return err
	}

	if err := a.submitLocked(ctx, batch); err != nil {
		return err
	}

	return a.commitLocked(ctx, batch, 0, batch.Len())
}

// prepareLocked renders action parameters for matched slots and applies
// interval gating / duplicate suppression, skipping records that should not
// reach the output module at all.
func (a *Action) prepareLocked(batch *record.Batch) {
	now := time.Now()
	for i := range batch.Slots {
		slot := &batch.Slots[i]
		if !slot.FilterMatched {
			continue
		}

		if a.gatedLocked(now) {
			slot.FilterMatched = false
			slot.State = record.SlotDiscarded
			continue
		}

		if a.cfg.ReduceRepeated && slot.Rec != nil {
			if record.SameContent(a.prevRecord, slot.Rec) {
				a.repeatCount++
				if now.Sub(a.lastEmit) < a.repeatFlushInterval() {
					slot.FilterMatched = false
					slot.State = record.SlotDiscarded
					continue
				}
			}
			a.prevRecord = slot.Rec
			a.repeatCount = 0
			a.lastEmit = now
		}

		slot.RenderedParams = renderParams(slot.Rec, a.cfg.ParamMode)
		slot.State = record.SlotReady
	}
}

// repeatFlushInterval grows exponentially with repeatCount, capped at 10x
// the configured base, mirroring the source's exponential repeat-interval.
func (a *Action) repeatFlushInterval() time.Duration {
	mult := math.Pow(2, float64(min(a.repeatCount, 10)))
	d := time.Duration(float64(a.cfg.RepeatIntervalBase) * mult)
	max := a.cfg.RepeatIntervalBase * 10
	if max > 0 && d > max {
		return max
	}
	return d
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// gatedLocked applies exec-once-every-N-seconds and exec-every-Nth-
// occurrence gating (spec.md §4.1 "Interval gating").
func (a *Action) gatedLocked(now time.Time) bool {
	if a.limiter != nil && !a.limiter.AllowN(now, 1) {
		return true
	}

	if a.cfg.ExecEveryNth > 1 {
		if a.cfg.ExecEveryNthTimeout > 0 && !a.nthWindowStart.IsZero() &&
			now.Sub(a.nthWindowStart) > a.cfg.ExecEveryNthTimeout {
			a.nthCount = 0
		}
		if a.nthCount == 0 {
			a.nthWindowStart = now
		}
		a.nthCount++
		if a.nthCount < a.cfg.ExecEveryNth {
			return true
		}
		a.nthCount = 0
	}

	a.lastExec = now
	return false
}

// MaybeWriteMark decides whether a mark message should be written this
// batch, per write-all-mark-msgs or the half-mark-interval rule, guarded by
// a compare-and-swap on the shared last-write timestamp so concurrent
// workers across actions sharing one mark ticker do not double-count
// (spec.md §4.1 "Duplicate suppression and mark handling").
func (a *Action) MaybeWriteMark(now time.Time) bool {
	if a.cfg.WriteAllMarkMsgs {
		return true
	}
	threshold := a.cfg.MarkInterval / 2
	for {
		last := a.lastWrite.Load()
		lastT := time.Unix(0, last)
		if last != 0 && now.Sub(lastT) < threshold {
			return false
		}
		if a.lastWrite.CompareAndSwap(last, now.UnixNano()) {
			return true
		}
	}
}

func renderParams(r *record.Record, mode ParamMode) []string {
	if r == nil {
		return nil
	}
	switch mode {
	case ParamRawRecord:
		return []string{string(r.Raw)}
	default:
		return []string{r.Origin.Host, r.Origin.App, string(r.Raw)}
	}
}

// reachITXLocked drives RDY/RTRY toward ITX via begin-transaction or
// try-resume, per the transition table in spec.md §4.1. An action in SUSP
// returns ErrSuspended for every later batch; nothing moves it back to RTRY.
func (a *Action) reachITXLocked(ctx context.Context) error {
	switch a.state {
	case DIED:
		return ErrDisableAction
	case SUSP:
		return ErrSuspended
	case RTRY:
		res, err := a.cfg.Module.TryResume(ctx)
		if err != nil {
			return fmt.Errorf("action %s: try-resume: %w", a.cfg.Name, err)
		}
		switch res {
		case ResultOK:
			a.state = RDY
			a.failedResumes = 0
		case ResultSuspended:
			a.failedResumes++
			if a.failedResumes%10 == 0 {
				a.resumeInterval = a.cfg.ResumeInterval * time.Duration((a.failedResumes/10)+1)
			}
			if a.failedResumes >= a.cfg.ResumeRetryCount {
				a.state = SUSP
				return ErrSuspended
			}
			return ErrSuspended
		case ResultDisable:
			a.state = DIED
			return ErrDisableAction
		}
		if a.state != RDY {
			return ErrSuspended
		}
		fallthrough
	case RDY:
		res, err := a.cfg.Module.BeginTransaction(ctx)
		if err != nil {
			return fmt.Errorf("action %s: begin-transaction: %w", a.cfg.Name, err)
		}
		switch res {
		case ResultOK:
			a.state = ITX
			return nil
		case ResultSuspended:
			a.state = RTRY
			return ErrSuspended
		case ResultDisable:
			a.state = DIED
			return ErrDisableAction
		}
	}
	return nil
}

// submitLocked iterates matched, ready slots calling do-action while state
// is ITX. The first suspended do-action marks its slot bad and returns
// ErrSuspended at once, leaving the later slots ready, so
// ExecWhenPrevSuspended does not change which slots are submitted.
func (a *Action) submitLocked(ctx context.Context, batch *record.Batch) error {
	prevSuspended := false
	for i := range batch.Slots {
		slot := &batch.Slots[i]
		if !slot.FilterMatched || slot.State != record.SlotReady {
			continue
		}
		if prevSuspended && !a.cfg.ExecWhenPrevSuspended {
			slot.PrevWasSuspended = true
			slot.State = record.SlotDiscarded
			continue
		}

		res, err := a.cfg.Module.DoAction(ctx, slot.RenderedParams, slot.Rec)
		if err != nil {
			return fmt.Errorf("action %s: do-action: %w", a.cfg.Name, err)
		}

		switch res {
		case ResultOK:
			a.falseOKCount = 0
			slot.State = record.SlotSubmitted
		case ResultDeferCommit:
			a.falseOKCount = 0
			slot.State = record.SlotSubmitted
		case ResultPreviousCommitted:
			a.falseOKCount = 0
			slot.State = record.SlotCommitted
		case ResultSuspended:
			// Mirrors the source's actionRetry(): every do-action failure that
			// follows a try-resume/begin-transaction OK counts toward the
			// false-OK guard, since it is do-action — not end-transaction —
			// that a module reporting bogus health keeps failing.
			a.falseOKCount++
			if a.falseOKCount >= 1000 {
				a.state = SUSP
			} else {
				a.state = RTRY
			}
			prevSuspended = true
			slot.State = record.SlotBad
			return ErrSuspended
		case ResultDisable:
			a.state = DIED
			slot.State = record.SlotBad
			return ErrDisableAction
		case ResultDiscard:
			slot.State = record.SlotDiscarded
		}
	}
	return nil
}

// commitLocked calls end-transaction and resolves the batch's submitted
// tail. On a multi-slot failure it recursively halves the batch and retries
// each half; a single-slot failure marks that slot bad (spec.md §4.1
// "Commit"). The false-OK guard (submitLocked) is what breaks tight spin
// loops on modules that report try-resume OK but then keep failing
// do-action; end-transaction failures have no such cycle to guard against.
func (a *Action) commitLocked(ctx context.Context, batch *record.Batch, from, to int) error {
	if from >= to {
		batch.AdvanceDoneUpTo(to)
		return nil
	}

	res, err := a.cfg.Module.EndTransaction(ctx)
	if err != nil {
		return fmt.Errorf("action %s: end-transaction: %w", a.cfg.Name, err)
	}

	switch res {
	case ResultOK:
		for i := from; i < to; i++ {
			if batch.Slots[i].State == record.SlotSubmitted {
				batch.Slots[i].State = record.SlotCommitted
			}
		}
		a.state = RDY // transits COMM momentarily per the transition table; not independently observable
		batch.AdvanceDoneUpTo(to)
		return nil

	case ResultSuspended:
		// The false-OK guard tracks do-action failures (submitLocked), not
		// end-transaction ones: end-transaction has no try-resume/do-action
		// cycle to spin on, so it only transitions to RTRY here.
		a.state = RTRY
		if to-from == 1 {
			batch.Slots[from].State = record.SlotBad
			batch.Slots[from].PrevWasSuspended = true
			batch.AdvanceDoneUpTo(to)
			return ErrSuspended
		}
		mid := from + (to-from)/2
		if err := a.commitLocked(ctx, batch, from, mid); err != nil {
			return err
		}
		return a.commitLocked(ctx, batch, mid, to)

	case ResultDisable:
		a.state = DIED
		for i := from; i < to; i++ {
			batch.Slots[i].State = record.SlotBad
		}
		batch.AdvanceDoneUpTo(to)
		return ErrDisableAction
	}

	for i := from; i < to; i++ {
		batch.Slots[i].State = record.SlotBad
	}
	batch.AdvanceDoneUpTo(to)
	return ErrActionFailed
}

// markTailBad marks every slot from idx onward bad, used when the action
// could not even reach ITX for this batch.
func (a *Action) markTailBad(batch *record.Batch, idx int) {
	for i := idx; i < batch.Len(); i++ {
		if batch.Slots[i].FilterMatched {
			batch.Slots[i].State = record.SlotBad
		}
	}
	batch.AdvanceDoneUpTo(batch.Len())
}

// Process implements worker.Consumer so an Action can be driven directly by
// a Pool for single-action queues.
func (a *Action) Process(ctx context.Context, batch *record.Batch) error {
	return a.ProcessBatch(ctx, batch)
}
