// Package queue implements the polymorphic action queue: four interchangeable
// backends behind one vtable, water-mark driven admission and flow control,
// batched dequeue with a deferred to-delete list, and disk-assist overflow.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syslogcore/engine/record"
)

// Kind selects a queue's backend.
type Kind string

const (
	FixedArray Kind = "fixed-array"
	LinkedList Kind = "linked-list"
	Disk       Kind = "disk"
	Direct     Kind = "direct"
)

// Sentinel errors forming the admission/persistence/dispatch error taxonomy.
var (
	ErrFull            = errors.New("queue: full")
	ErrFullDropped     = errors.New("queue: full, record dropped")
	ErrNotStarted      = errors.New("queue: not started")
	ErrQTypeMismatch   = errors.New("queue: persisted type does not match configured type")
	ErrFileNotFound    = errors.New("queue: no persisted state found")
	ErrInvalidParams   = errors.New("queue: invalid parameters")
	ErrIO              = errors.New("queue: io error")
)

// WaterMarks defines the size thresholds that gate admission and scaling.
type WaterMarks struct {
	High      int
	Low       int
	Discard   int
	FullDelay int
	LightDelay int
}

// TimeWindow is an hour-of-day dequeue gate, minute accurate. Zero value
// (From == To) means "always open".
type TimeWindow struct {
	FromHour, FromMinute int
	ToHour, ToMinute     int
}

func (w TimeWindow) open(now time.Time) bool {
	if w.FromHour == w.ToHour && w.FromMinute == w.ToMinute {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	from := w.FromHour*60 + w.FromMinute
	to := w.ToHour*60 + w.ToMinute
	if from <= to {
		return cur >= from && cur < to
	}
	// window wraps midnight
	return cur >= from || cur < to
}

// Config is the per-queue configuration surface (spec.md §6.4).
type Config struct {
	Name              string
	Type              Kind
	Capacity          int
	DeqBatchSize      int
	Marks             WaterMarks
	DiscardSeverity   int
	NumWorkers        int
	FilePrefix        string
	MaxFileSize       int64
	MaxDiskBytes      int64
	PersistUpdateCount int
	QueueShutdownTimeout  time.Duration
	ActionShutdownTimeout time.Duration
	WorkerShutdownTimeout time.Duration
	EnqueueTimeout        time.Duration
	MinMsgsPerWorker  int
	SaveOnShutdown    bool
	DequeueSlowdown   time.Duration
	DequeueWindow     TimeWindow
	DAFilePrefix      string // non-empty enables disk-assist on memory backends
}

// Stats is a read-only snapshot of a queue's state, used by the
// observability surface and the Redis mirror. It never drives admission.
type Stats struct {
	Name          string
	Kind          Kind
	LogicalSize   int
	PhysicalSize  int
	BytesOnDisk   int64
	DAActive      bool
	LoggedDeqID   uint64
}

// driver is the common vtable every backend implements. It operates beneath
// the Queue's water-mark/admission logic and is not exported; callers use
// Queue.
type driver interface {
	construct(cfg Config) error
	destruct() error
	add(r *record.Record) error
	// deq pulls up to n records, returns them plus an assigned deq-id.
	deq(n int) ([]*record.Record, uint64, error)
	// del physically removes the records of the given deq-id when it is the
	// oldest outstanding one and does nothing otherwise; Queue.Commit calls
	// it in deq-id order once the to-delete list allows it.
	del(deqID uint64) error
	size() int
	bytesOnDisk() int64
}

// Queue is the polymorphic, water-mark aware action queue.
type Queue struct {
	cfg Config
	log *logrus.Entry

	mu            sync.Mutex
	notEmpty      *sync.Cond
	notFull       *sync.Cond
	belowFullDly  *sync.Cond
	belowLightDly *sync.Cond

	drv driver

	physicalSize int
	logicalDeq   int // count of records logically but not physically removed

	toDelete map[uint64]bool // deq-id -> still pending physical delete
	nextDeqID uint64
	lowestPendingDeqID uint64

	started bool
	shuttingDown bool
	shutdownImmediate bool

	da *daOverflow

	checkpointCounter int
}

// New constructs a Queue around the backend implied by cfg.Type. The queue
// is not yet started; call Start to rehydrate persisted state (disk
// backends) and begin accepting enqueues.
func New(cfg Config, log *logrus.Entry) (*Queue, error) {
	if cfg.Capacity <= 0 && cfg.Type != Direct {
		return nil, fmt.Errorf("%w: capacity must be positive for %s queue", ErrInvalidParams, cfg.Type)
	}
	if cfg.DeqBatchSize <= 0 {
		cfg.DeqBatchSize = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	q := &Queue{
		cfg:      cfg,
		log:      log.WithField("queue", cfg.Name),
		toDelete: make(map[uint64]bool),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.belowFullDly = sync.NewCond(&q.mu)
	q.belowLightDly = sync.NewCond(&q.mu)

	var drv driver
	switch cfg.Type {
	case FixedArray:
		drv = newFixedArray(cfg.Capacity)
	case LinkedList:
		drv = newLinkedList()
	case Disk:
		drv = newDiskDriver(cfg)
	case Direct:
		drv = newDirectDriver()
	default:
		return nil, fmt.Errorf("%w: unknown queue type %q", ErrInvalidParams, cfg.Type)
	}
	q.drv = drv

	if cfg.DAFilePrefix != "" && (cfg.Type == FixedArray || cfg.Type == LinkedList) {
		q.da = newDAOverflow(q, cfg)
	}

	return q, nil
}

// Start constructs the backend (rehydrating disk state if present) and
// marks the queue ready for enqueue/dequeue.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.drv.construct(q.cfg); err != nil {
		return err
	}
	q.physicalSize = q.drv.size()
	q.started = true
	return nil
}

// Submit admits a record per its flow class and the queue's water marks
// (spec.md §4.2 "Admission and flow control"). cfg.EnqueueTimeout bounds the
// capacity wait; ctx is checked each time that wait wakes, and the delay-mark
// waits do not observe ctx.
func (q *Queue) Submit(ctx context.Context, r *record.Record, severity int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.shuttingDown {
		return ErrNotStarted
	}

	size := q.logicalSizeLocked()

	if q.cfg.Marks.Discard > 0 && size >= q.cfg.Marks.Discard && severity >= q.cfg.DiscardSeverity {
		q.log.WithField("severity", severity).Debug("dropping record at discard mark")
		return ErrFullDropped
	}

	if q.da != nil && q.cfg.Marks.High > 0 && size >= q.cfg.Marks.High {
		q.da.requestStart()
	}

	switch r.Flow {
	case record.FullDelay:
		if q.cfg.Marks.FullDelay > 0 {
			for q.logicalSizeLocked() >= q.cfg.Marks.FullDelay && !q.shuttingDown {
				q.belowFullDly.Wait()
			}
		}
	case record.LightDelay:
		if q.cfg.Marks.LightDelay > 0 && q.logicalSizeLocked() >= q.cfg.Marks.LightDelay {
			q.waitWithTimeout(q.belowLightDly, time.Second)
		}
	}

	deadline := q.cfg.EnqueueTimeout
	if deadline <= 0 {
		deadline = 24 * time.Hour
	}
	waitStart := time.Now()
	for q.admissionBlockedLocked() {
		remaining := deadline - time.Since(waitStart)
		if remaining <= 0 {
			return ErrFull
		}
		if !q.waitWithTimeout(q.notFull, remaining) {
			return ErrFull
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if err := q.drv.add(r); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	q.physicalSize++
	q.notEmpty.Signal()
	return nil
}

func (q *Queue) admissionBlockedLocked() bool {
	if q.cfg.Type == Direct {
		return false
	}
	if q.cfg.Capacity > 0 && q.logicalSizeLocked() >= q.cfg.Capacity {
		return true
	}
	if q.cfg.Type == Disk && q.cfg.MaxDiskBytes > 0 && q.drv.bytesOnDisk() >= q.cfg.MaxDiskBytes {
		return true
	}
	return false
}

// waitWithTimeout waits on cond (whose Locker is q.mu) for up to d, reporting
// whether it was signalled (true) or timed out (false). sync.Cond has no
// native timeout, so a private done channel plus a timer goroutine is used;
// this mirrors the condition-variable-with-timeout idiom the teacher's
// blocking-dequeue helpers approximate with time.After channels.
func (q *Queue) waitWithTimeout(cond *sync.Cond, d time.Duration) bool {
	woke := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		close(woke)
		cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	select {
	case <-woke:
		return false
	default:
	}
	cond.Wait()
	select {
	case <-woke:
		return false
	default:
		return true
	}
}

func (q *Queue) logicalSizeLocked() int {
	n := q.physicalSize - q.logicalDeq
	if n < 0 {
		return 0
	}
	return n
}

// DequeueBatch pulls up to DeqBatchSize records in queue order and returns
// them wrapped in a record.Batch with a fresh deq-id. It does not filter
// records by severity. While DequeueWindow is closed it waits, rechecking
// once a minute. Physical removal is deferred to the to-delete list; see
// Commit.
func (q *Queue) DequeueBatch(shutdownFlag *atomic.Bool) (*record.Batch, error) {
	q.mu.Lock()
	for !q.shuttingDown {
		if !q.cfg.DequeueWindow.open(time.Now()) {
			q.mu.Unlock()
			time.Sleep(time.Minute)
			q.mu.Lock()
			continue
		}
		if q.logicalSizeLocked() > 0 {
			break
		}
		q.notEmpty.Wait()
	}
	if q.logicalSizeLocked() == 0 && q.shuttingDown {
		q.mu.Unlock()
		return nil, nil
	}

	recs, deqID, err := q.drv.deq(q.cfg.DeqBatchSize)
	if err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	q.logicalDeq += len(recs)
	q.toDelete[deqID] = true
	if q.nextDeqID <= deqID {
		q.nextDeqID = deqID + 1
	}
	q.mu.Unlock()

	batch := record.NewBatch(deqID, len(recs), shutdownFlag)
	for _, r := range recs {
		batch.Add(r, true)
	}

	if q.cfg.DequeueSlowdown > 0 {
		time.Sleep(q.cfg.DequeueSlowdown)
	}
	return batch, nil
}

// Commit marks deqID fully resolved and advances the to-delete list,
// physically removing every contiguous resolved run from the head. Order is
// preserved across retries that halve-and-resubmit because physical removal
// never skips ahead of an unresolved lower deq-id.
func (q *Queue) Commit(deqID uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.toDelete, deqID)

	before := q.drv.size()
	for q.lowestPendingDeqID < q.nextDeqID {
		if q.toDelete[q.lowestPendingDeqID] {
			break
		}
		if err := q.drv.del(q.lowestPendingDeqID); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		q.lowestPendingDeqID++
	}
	if removed := before - q.drv.size(); removed > 0 {
		q.physicalSize -= removed
		q.logicalDeq -= removed
	}

	q.checkpointCounter++
	size := q.logicalSizeLocked()
	if size < q.cfg.Marks.FullDelay || q.cfg.Marks.FullDelay == 0 {
		q.belowFullDly.Broadcast()
	}
	if size < q.cfg.Marks.LightDelay || q.cfg.Marks.LightDelay == 0 {
		q.belowLightDly.Broadcast()
	}
	if !q.admissionBlockedLocked() {
		q.notFull.Broadcast()
	}
	if q.da != nil && q.cfg.Marks.Low > 0 && size < q.cfg.Marks.Low {
		q.da.requestDrainAndStop()
	}
	return nil
}

// Stats returns a read-only snapshot for the observability surface.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:         q.cfg.Name,
		Kind:         q.cfg.Type,
		LogicalSize:  q.logicalSizeLocked(),
		PhysicalSize: q.physicalSize,
		BytesOnDisk:  q.drv.bytesOnDisk(),
		DAActive:     q.da != nil && q.da.active(),
	}
}

// Shutdown runs the four-phase shutdown from spec.md §4.2.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.shuttingDown = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.belowFullDly.Broadcast()
	q.belowLightDly.Broadcast()
	q.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(ctx, q.cfg.QueueShutdownTimeout)
	defer cancel()
	q.waitDrain(drainCtx)

	q.mu.Lock()
	incomplete := q.logicalSizeLocked() > 0
	q.mu.Unlock()

	if incomplete && q.cfg.SaveOnShutdown && q.da != nil {
		q.mu.Lock()
		q.shutdownImmediate = true
		q.mu.Unlock()
		q.da.spillRemainder(context.Background())
	}

	<-time.After(minDuration(q.cfg.ActionShutdownTimeout, 0))

	return q.drv.destruct()
}

func (q *Queue) waitDrain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.logicalSizeLocked() > 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			q.mu.Lock()
		}
		q.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func minDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
