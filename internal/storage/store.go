// Package storage provides the durable record spool used by the spool sink:
// records are appended in arrival order and can later be drained oldest
// first or pruned by age.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/developingchet/logfallback/internal/record"
)

// ErrCorruptEntry is returned when a spooled value cannot be decoded.
var ErrCorruptEntry = errors.New("storage: corrupt spool entry")

// Store is the spool persistence abstraction. Implementations must be safe
// for concurrent use.
type Store interface {
	// Append spools one record.
	Append(r *record.Record) error

	// AppendBatch spools every record in a single transaction: either all
	// are stored or none are.
	AppendBatch(rs []*record.Record) error

	// Count returns the number of spooled records.
	Count() int

	// Peek returns up to n of the oldest records without removing them.
	Peek(n int) ([]Entry, error)

	// Remove deletes the entries with the given sequence numbers. Unknown
	// sequence numbers are ignored.
	Remove(seqs []uint64) error

	// Drain removes and returns up to n of the oldest records.
	Drain(n int) ([]*record.Record, error)

	// Prune deletes records spooled before cutoff and returns how many were
	// removed.
	Prune(cutoff time.Time) (int, error)

	// DBPath returns the filesystem path of the database file ("" for in-memory).
	DBPath() string

	Close() error
}

// Entry is a spooled record together with its sequence number.
type Entry struct {
	Seq    uint64
	Record *record.Record
}

// seqKey encodes a spool sequence number so that bbolt's byte ordering is
// arrival ordering.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// encodeEntry prefixes the JSON record with its 8-byte spool time (Unix
// seconds).
func encodeEntry(r *record.Record, spooledAt time.Time) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("storage: encode record: %w", err)
	}
	val := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(val, uint64(spooledAt.Unix()))
	copy(val[8:], data)
	return val, nil
}

func decodeEntry(val []byte) (*record.Record, time.Time, error) {
	if len(val) < 8 {
		return nil, time.Time{}, ErrCorruptEntry
	}
	at := time.Unix(int64(binary.BigEndian.Uint64(val)), 0)
	r := &record.Record{}
	if err := json.Unmarshal(val[8:], r); err != nil {
		return nil, at, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return r, at, nil
}

// spooledAt reads only the time prefix of an entry. Entries too short to
// carry one report the zero time so that Prune removes them.
func spooledAt(val []byte) time.Time {
	if len(val) < 8 {
		return time.Time{}
	}
	return time.Unix(int64(binary.BigEndian.Uint64(val)), 0)
}
