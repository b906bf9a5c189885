package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/syslogcore/engine/record"
)

// diskDriver persists records in a bbolt database: a "meta" bucket holding
// only the queue kind (checked on reopen to detect a type mismatch; sizes
// are recomputed from the records on Start), and a "records"
// bucket keyed by a monotonically increasing bolt.NextSequence() id. This
// replaces the original rotating-flat-file-plus-.qi-sidecar design outright:
// a bbolt transaction is the checkpoint, so there is no separate rewrite-
// then-rename step, and "rotation" (max-file-size) has no equivalent failure
// mode to guard against and is therefore not implemented for this backend.
type diskDriver struct {
	path   string
	kind   string
	db     *bolt.DB

	pendingDeq []diskDeqRun
	nextDeqID  uint64
}

type diskDeqRun struct {
	id   uint64
	keys [][]byte
}

var (
	metaBucket    = []byte("meta")
	recordsBucket = []byte("records")
	keyKind       = []byte("kind")
)

// recordDTO is the on-disk wire shape of a record.Record; Record itself
// carries an unexported refcount and destructor and is not serializable
// directly.
type recordDTO struct {
	Raw        []byte
	Facility   int
	Severity   int
	Received   int64
	Originated int64
	Host, App, ProcID, MsgID string
	StructData string
	Vars       map[string]string
	Flow       int
}

func newDiskDriver(cfg Config) *diskDriver {
	return &diskDriver{path: cfg.FilePrefix + ".db", kind: string(cfg.Type)}
}

func (d *diskDriver) construct(cfg Config) error {
	db, err := bolt.Open(d.path, 0600, nil)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrIO, d.path, err)
	}
	d.db = db

	return db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}

		existingKind := meta.Get(keyKind)
		if existingKind == nil {
			// clean start: no prior queue-info, not an error (spec.md §6.2)
			return meta.Put(keyKind, []byte(d.kind))
		}
		if string(existingKind) != d.kind {
			return ErrQTypeMismatch
		}
		return nil
	})
}

func (d *diskDriver) destruct() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *diskDriver) add(r *record.Record) error {
	dto := recordDTO{
		Raw:        r.Raw,
		Facility:   r.Pri.Facility,
		Severity:   r.Pri.Severity,
		Received:   r.Received.UnixNano(),
		Originated: r.Originated.UnixNano(),
		Host:       r.Origin.Host,
		App:        r.Origin.App,
		ProcID:     r.Origin.ProcID,
		MsgID:      r.Origin.MsgID,
		StructData: r.StructData,
		Vars:       r.Vars,
		Flow:       int(r.Flow),
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		seq, _ := b.NextSequence()
		return b.Put(seqKey(seq), data)
	})
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (d *diskDriver) deq(n int) ([]*record.Record, uint64, error) {
	var out []*record.Record
	var keys [][]byte

	var after []byte
	for i := len(d.pendingDeq) - 1; i >= 0 && after == nil; i-- {
		if ks := d.pendingDeq[i].keys; len(ks) > 0 {
			after = ks[len(ks)-1]
		}
	}

	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		k, v := c.First()
		if after != nil {
			if k, v = c.Seek(after); k != nil && string(k) == string(after) {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(out) < n; k, v = c.Next() {
			var dto recordDTO
			if err := json.Unmarshal(v, &dto); err != nil {
				return err
			}
			r := record.New(dto.Raw, record.Priority{Facility: dto.Facility, Severity: dto.Severity},
				record.Origin{Host: dto.Host, App: dto.App, ProcID: dto.ProcID, MsgID: dto.MsgID},
				record.FlowClass(dto.Flow))
			r.StructData = dto.StructData
			for vk, vv := range dto.Vars {
				r.Vars[vk] = vv
			}
			out = append(out, r)
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	id := d.nextDeqID
	d.nextDeqID++
	d.pendingDeq = append(d.pendingDeq, diskDeqRun{id: id, keys: keys})
	return out, id, nil
}

func (d *diskDriver) del(deqID uint64) error {
	if len(d.pendingDeq) == 0 || d.pendingDeq[0].id != deqID {
		return nil
	}
	run := d.pendingDeq[0]
	d.pendingDeq = d.pendingDeq[1:]
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		for _, k := range run.keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *diskDriver) size() int {
	n := 0
	d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(recordsBucket).Stats().KeyN
		return nil
	})
	return n
}

func (d *diskDriver) bytesOnDisk() int64 {
	fi, err := os.Stat(d.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
