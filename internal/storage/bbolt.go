package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/developingchet/logfallback/internal/record"
)

// Compile-time proof that BoltStore satisfies the Store interface.
var _ Store = (*BoltStore)(nil)

var bucketSpool = []byte("spool")

// BoltStore is an ACID bbolt-backed implementation of Store.
// It is safe for concurrent use.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) a bbolt database at path and initialises the
// spool bucket.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSpool)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Append(r *record.Record) error {
	return s.AppendBatch([]*record.Record{r})
}

func (s *BoltStore) AppendBatch(rs []*record.Record) error {
	at := s.now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpool)
		for _, r := range rs {
			val, err := encodeEntry(r, at)
			if err != nil {
				return err
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Count() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSpool).Stats().KeyN
		return nil
	})
	return n
}

func (s *BoltStore) Peek(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Entry
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		out, err = oldest(tx.Bucket(bucketSpool), n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Remove(seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpool)
		for _, seq := range seqs {
			if err := b.Delete(seqKey(seq)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Drain(n int) ([]*record.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []*record.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpool)
		entries, err := oldest(b, n)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := b.Delete(seqKey(e.Seq)); err != nil {
				return err
			}
			out = append(out, e.Record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// oldest collects up to n decodable entries in sequence order. Entries that
// cannot be decoded are logged and deleted so they never block the spool.
func oldest(b *bolt.Bucket, n int) ([]Entry, error) {
	var (
		out     []Entry
		corrupt [][]byte
	)
	c := b.Cursor()
	for k, v := c.First(); k != nil && len(out) < n; k, v = c.Next() {
		r, _, err := decodeEntry(v)
		if err != nil {
			log.Warn().Err(err).Str("key", hex.EncodeToString(k)).Msg("deleting corrupt spool entry")
			corrupt = append(corrupt, append([]byte{}, k...))
			continue
		}
		out = append(out, Entry{Seq: binary.BigEndian.Uint64(k), Record: r})
	}
	for _, k := range corrupt {
		if err := b.Delete(k); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *BoltStore) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpool)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if spooledAt(v).Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(toDelete)
		return nil
	})
	return removed, err
}

// DBPath returns the filesystem path of the database file.
func (s *BoltStore) DBPath() string { return s.db.Path() }

// Close cleanly closes the underlying bbolt database.
func (s *BoltStore) Close() error { return s.db.Close() }
