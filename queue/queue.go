// Package queue implements the durable on-device packet queue: a
// bbolt-backed row store with reverse-insertion batch checkout, atomic
// commit/rollback, and age/size eviction.
package queue

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.etcd.io/bbolt"

	"github.com/n0needt0/goodies/s2s-edge-client/clienterrors"
	"github.com/n0needt0/goodies/s2s-edge-client/packet"
)

var rowsBucket = []byte("rows")

// Config bounds the queue's retained rows, mirroring QueuedClientConfig's
// eviction fields.
type Config struct {
	MaxRows      int
	MaxSizeBytes int64
	MaxAge       time.Duration
}

// row is the on-disk envelope for one queued packet.
type row struct {
	ID              uint64            `json:"-"`
	CreatedAtMillis int64             `json:"createdAtMillis"`
	Attributes      map[string]string `json:"attributes"`
	Payload         []byte            `json:"payload"`
	TransactionID   string            `json:"transactionId,omitempty"`
}

func (r *row) age() time.Duration {
	return time.Since(time.UnixMilli(r.CreatedAtMillis))
}

// Queue is the durable packet store. A single bbolt database file backs
// it; keys are 8-byte big-endian row ids so bbolt's native byte-ordered
// cursor iteration is also row-id order.
type Queue struct {
	db  *bbolt.DB
	cfg Config
}

// Open opens (creating if necessary) the queue's database file at path.
// As part of opening, any row left checked out by a prior, aborted
// process is rolled back (its transactionId stamp cleared), matching the
// "open procedure clears transaction_id" invariant.
func Open(path string, cfg Config) (*Queue, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open queue database")
	}

	q := &Queue{db: db, cfg: cfg}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(rowsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.TransactionID == "" {
				return nil
			}
			r.TransactionID = ""
			encoded, err := json.Marshal(&r)
			if err != nil {
				return err
			}
			return b.Put(k, encoded)
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, &clienterrors.QueueError{Op: "open", Err: err}
	}
	return q, nil
}

// Close releases the underlying database file.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue writes packets in insertion order within a single atomic
// group, each assigned a fresh monotonically increasing id.
func (q *Queue) Enqueue(packets []packet.DataPacket) error {
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, p := range packets {
			r, err := p.GetData()
			if err != nil {
				return err
			}
			payload, readErr := io.ReadAll(r)
			r.Close()
			if readErr != nil {
				return readErr
			}

			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec := row{
				ID:              id,
				CreatedAtMillis: time.Now().UnixMilli(),
				Attributes:      p.Attributes(),
				Payload:         payload,
			}
			encoded, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			if err := b.Put(itob(id), encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &clienterrors.QueueError{Op: "enqueue", Err: err}
	}
	return nil
}

// BatchHandle identifies a set of rows checked out by GetNextBatch,
// presented to callers as DataPackets in delivery order.
type BatchHandle struct {
	TransactionID string
	RowIDs        []uint64
	Packets       []packet.DataPacket
}

// GetNextBatch selects up to maxCount rows with the highest ids (most
// recent first) whose cumulative payload size does not exceed maxSize,
// excluding any row currently checked out by another batch or older than
// maxAgeMillis (0 means unbounded), and stamps the selection with a fresh
// transaction id so it becomes invisible to concurrent drains. The size
// bound does not apply to the first row selected: a row whose payload
// alone exceeds maxSize is returned as a batch of one. Selection stops at
// the first row that would push the total past maxSize. Checked-out and
// over-age rows are skipped without ending the scan, which continues
// toward older rows.
func (q *Queue) GetNextBatch(maxCount int, maxSize int64, maxAgeMillis int64) (*BatchHandle, error) {
	handle := &BatchHandle{TransactionID: xid.New().String()}
	var cumSize int64
	maxAge := time.Duration(maxAgeMillis) * time.Millisecond

	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(handle.RowIDs) < maxCount; k, v = c.Prev() {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.TransactionID != "" {
				continue
			}
			if maxAgeMillis > 0 && r.age() > maxAge {
				continue
			}
			if cumSize+int64(len(r.Payload)) > maxSize && len(handle.RowIDs) > 0 {
				break
			}

			r.ID = binary.BigEndian.Uint64(k)
			r.TransactionID = handle.TransactionID
			encoded, err := json.Marshal(&r)
			if err != nil {
				return err
			}
			if err := b.Put(k, encoded); err != nil {
				return err
			}

			handle.RowIDs = append(handle.RowIDs, r.ID)
			handle.Packets = append(handle.Packets, packet.NewBytes(r.Attributes, r.Payload))
			cumSize += int64(len(r.Payload))
		}
		return nil
	})
	if err != nil {
		return nil, &clienterrors.QueueError{Op: "getNextBatch", Err: err}
	}
	return handle, nil
}

// Commit atomically deletes the rows identified by handle.
func (q *Queue) Commit(handle *BatchHandle) error {
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, id := range handle.RowIDs {
			if err := b.Delete(itob(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &clienterrors.QueueError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback clears the transactionId stamp on handle's rows, making them
// visible to the next drain again.
func (q *Queue) Rollback(handle *BatchHandle) error {
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		for _, id := range handle.RowIDs {
			key := itob(id)
			v := b.Get(key)
			if v == nil {
				continue
			}
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			r.TransactionID = ""
			encoded, err := json.Marshal(&r)
			if err != nil {
				return err
			}
			if err := b.Put(key, encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &clienterrors.QueueError{Op: "rollback", Err: err}
	}
	return nil
}

// Cleanup evicts the oldest (lowest-id) rows first until count <=
// MaxRows, totalBytes <= MaxSizeBytes, and no remaining row exceeds
// MaxAge. Checked-out rows are never evicted. Idempotent: a second call
// with no intervening writes is a no-op.
func (q *Queue) Cleanup() error {
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rowsBucket)

		var entries []cleanupEntry
		var totalBytes int64

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			entries = append(entries, cleanupEntry{key: append([]byte(nil), k...), row: r})
			totalBytes += int64(len(r.Payload))
		}

		count := len(entries)
		var freedBytes int64
		evicted := 0
		for _, e := range entries {
			tooMany := q.cfg.MaxRows > 0 && count-evicted > q.cfg.MaxRows
			tooBig := q.cfg.MaxSizeBytes > 0 && totalBytes > q.cfg.MaxSizeBytes
			tooOld := q.cfg.MaxAge > 0 && e.row.age() > q.cfg.MaxAge
			if !tooMany && !tooBig && !tooOld {
				break
			}
			if e.row.TransactionID != "" {
				continue
			}
			if err := b.Delete(e.key); err != nil {
				return err
			}
			evicted++
			freedBytes += int64(len(e.row.Payload))
			totalBytes -= int64(len(e.row.Payload))
		}
		if evicted > 0 {
			log.Infof("queue: cleanup evicted %d rows, %s freed", evicted, humanize.Bytes(uint64(freedBytes)))
		}
		return nil
	})
	if err != nil {
		return &clienterrors.QueueError{Op: "cleanup", Err: err}
	}
	return nil
}

type cleanupEntry struct {
	key []byte
	row row
}

// Stats reports the current row count and total payload bytes.
type Stats struct {
	Count      int
	TotalBytes int64
}

// Stats scans the bucket and reports its current size. Intended for
// diagnostics, not the hot path.
func (q *Queue) Stats() (Stats, error) {
	var s Stats
	err := q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rowsBucket)
		return b.ForEach(func(k, v []byte) error {
			var r row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			s.Count++
			s.TotalBytes += int64(len(r.Payload))
			return nil
		})
	})
	if err != nil {
		return Stats{}, &clienterrors.QueueError{Op: "stats", Err: err}
	}
	return s, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
