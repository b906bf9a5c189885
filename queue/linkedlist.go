package queue

import "github.com/syslogcore/engine/record"

// node is one link in the linked-list backend.
type node struct {
	rec  *record.Record
	next *node
}

// linkedListDriver keeps separate delete/dequeue/last pointers so physical
// delete can lag behind logical dequeue, which is what lets retried
// (halved, resubmitted) batches stay in order: the dequeue pointer always
// advances with deq(), while del only walks the delete pointer forward once
// a deq-id is fully resolved.
type linkedListDriver struct {
	delPtr  *node // next node physical delete will remove
	deqPtr  *node // next node deq() will read
	last    *node // tail, for O(1) append
	count   int   // physical size (not yet deleted)

	nextDeqID uint64
	pendingDeq []deqRun
}

func newLinkedList() *linkedListDriver {
	return &linkedListDriver{}
}

func (d *linkedListDriver) construct(Config) error { return nil }
func (d *linkedListDriver) destruct() error        { return nil }

func (d *linkedListDriver) add(r *record.Record) error {
	n := &node{rec: r}
	if d.last == nil {
		d.delPtr = n
		d.deqPtr = n
		d.last = n
	} else {
		d.last.next = n
		d.last = n
		if d.deqPtr == nil {
			d.deqPtr = n
		}
	}
	d.count++
	return nil
}

func (d *linkedListDriver) deq(n int) ([]*record.Record, uint64, error) {
	out := make([]*record.Record, 0, n)
	cur := d.deqPtr
	for i := 0; i < n && cur != nil; i++ {
		out = append(out, cur.rec)
		cur = cur.next
	}
	d.deqPtr = cur
	id := d.nextDeqID
	d.nextDeqID++
	d.pendingDeq = append(d.pendingDeq, deqRun{id: id, n: len(out)})
	return out, id, nil
}

func (d *linkedListDriver) del(deqID uint64) error {
	if len(d.pendingDeq) == 0 || d.pendingDeq[0].id != deqID {
		return nil
	}
	run := d.pendingDeq[0]
	d.pendingDeq = d.pendingDeq[1:]
	for i := 0; i < run.n && d.delPtr != nil; i++ {
		d.delPtr = d.delPtr.next
	}
	d.count -= run.n
	if d.delPtr == nil {
		d.last = nil
	}
	return nil
}

func (d *linkedListDriver) size() int          { return d.count }
func (d *linkedListDriver) bytesOnDisk() int64 { return 0 }
