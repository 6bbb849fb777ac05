package storage

import (
	"sync"
	"time"

	"github.com/developingchet/logfallback/internal/record"
)

var _ Store = (*MemStore)(nil)

type memEntry struct {
	seq uint64
	r   *record.Record
	at  time.Time
}

// MemStore is an in-memory implementation of Store for use in unit tests.
// It is exported so that sink and relay tests can use it without creating
// a file on disk.
type MemStore struct {
	mu      sync.Mutex
	entries []memEntry
	seq     uint64
	now     func() time.Time
}

// NewMemStore creates an empty in-memory spool.
func NewMemStore() *MemStore {
	return &MemStore{now: time.Now}
}

func (m *MemStore) Append(r *record.Record) error {
	return m.AppendBatch([]*record.Record{r})
}

func (m *MemStore) AppendBatch(rs []*record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now()
	for _, r := range rs {
		m.seq++
		m.entries = append(m.entries, memEntry{seq: m.seq, r: r, at: at})
	}
	return nil
}

func (m *MemStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemStore) Peek(n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	if n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = Entry{Seq: m.entries[i].seq, Record: m.entries[i].r}
	}
	return out, nil
}

func (m *MemStore) Remove(seqs []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[uint64]bool, len(seqs))
	for _, seq := range seqs {
		drop[seq] = true
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !drop[e.seq] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *MemStore) Drain(n int) ([]*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	if n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]*record.Record, n)
	for i := 0; i < n; i++ {
		out[i] = m.entries[i].r
	}
	m.entries = append([]memEntry(nil), m.entries[n:]...)
	return out, nil
}

func (m *MemStore) Prune(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if e.at.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

// DBPath returns "" for the in-memory store.
func (m *MemStore) DBPath() string { return "" }

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
