package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syslogcore/engine/record"
)

// fakeQueue is an in-memory Dequeuer for pool tests, independent of the
// real queue package so worker tests don't need a live queue.Queue.
type fakeQueue struct {
	mu      sync.Mutex
	batches []*record.Batch
	commits []uint64
}

func (f *fakeQueue) push(b *record.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
}

func (f *fakeQueue) DequeueBatch(shutdownFlag *atomic.Bool) (*record.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeQueue) Commit(deqID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, deqID)
	return nil
}

type countingConsumer struct {
	mu        sync.Mutex
	processed int
}

func (c *countingConsumer) Process(ctx context.Context, batch *record.Batch) error {
	c.mu.Lock()
	c.processed += batch.Len()
	c.mu.Unlock()
	for i := range batch.Slots {
		batch.Slots[i].State = record.SlotCommitted
	}
	batch.AdvanceDoneUpTo(batch.Len())
	return nil
}

func TestPoolProcessesDequeuedBatches(t *testing.T) {
	fq := &fakeQueue{}
	r := record.New([]byte("x"), record.Priority{}, record.Origin{}, record.NoDelay)
	b := record.NewBatch(1, 1, nil)
	b.Add(r, true)
	fq.push(b)

	consumer := &countingConsumer{}
	pool := New(fq, consumer, Config{MinWorkers: 1, MaxWorkers: 2, IdleTimeout: 50 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Wait(ctx))

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	assert.Equal(t, 1, consumer.processed)
	assert.Equal(t, []uint64{1}, fq.commits)
}

func TestPoolAdviseMaxWorkersRespectsCeiling(t *testing.T) {
	fq := &fakeQueue{}
	pool := New(fq, &countingConsumer{}, Config{MinWorkers: 0, MaxWorkers: 2, IdleTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.AdviseMaxWorkers(ctx, 5)
	assert.LessOrEqual(t, pool.Current(), 2)

	pool.Shutdown(true)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, pool.Wait(waitCtx))
}

func TestPoolMaxWorkersReportsConfiguredCeiling(t *testing.T) {
	pool := New(&fakeQueue{}, &countingConsumer{}, Config{MinWorkers: 0, MaxWorkers: 7}, nil)
	assert.Equal(t, 7, pool.MaxWorkers())
}

func TestPoolMinWorkersReportsConfiguredFloor(t *testing.T) {
	pool := New(&fakeQueue{}, &countingConsumer{}, Config{MinWorkers: 3, MaxWorkers: 7}, nil)
	assert.Equal(t, 3, pool.MinWorkers())
}

func TestPoolShutdownImmediateStopsWorkers(t *testing.T) {
	fq := &fakeQueue{}
	pool := New(fq, &countingConsumer{}, Config{MinWorkers: 2, MaxWorkers: 2, IdleTimeout: 5 * time.Second}, nil)

	ctx := context.Background()
	pool.Start(ctx)
	require.Equal(t, 2, pool.Current())

	pool.Shutdown(true)
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(waitCtx))
	assert.Equal(t, 0, pool.Current())
}
