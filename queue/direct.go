package queue

import "github.com/syslogcore/engine/record"

// directDriver keeps added records in an unbounded slice until a later
// deq() call takes them; Submit returns once the record is stored and does
// not run the consumer itself. Queue.Submit's capacity wait never applies
// to this backend (admissionBlockedLocked always returns false for Direct),
// so add never blocks on capacity; the discard and delay marks still apply.
type directDriver struct {
	pending   []*record.Record
	nextDeqID uint64
}

func newDirectDriver() *directDriver {
	return &directDriver{}
}

func (d *directDriver) construct(Config) error { return nil }
func (d *directDriver) destruct() error        { return nil }

func (d *directDriver) add(r *record.Record) error {
	d.pending = append(d.pending, r)
	return nil
}

func (d *directDriver) deq(n int) ([]*record.Record, uint64, error) {
	if n > len(d.pending) {
		n = len(d.pending)
	}
	out := d.pending[:n]
	d.pending = d.pending[n:]
	id := d.nextDeqID
	d.nextDeqID++
	return out, id, nil
}

func (d *directDriver) del(uint64) error { return nil }

func (d *directDriver) size() int          { return len(d.pending) }
func (d *directDriver) bytesOnDisk() int64 { return 0 }
