package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/developingchet/logfallback/internal/record"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestAppend_Concurrent fires 50 goroutines appending 20 records each.
// Every record must be spooled exactly once.
func TestAppend_Concurrent(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 20

	store := openTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if err := store.Append(&record.Record{Message: fmt.Sprintf("%d-%d", i, j)}); err != nil {
					t.Errorf("Append error: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := store.Count(); got != goroutines*perGoroutine {
		t.Errorf("expected %d spooled records, got %d", goroutines*perGoroutine, got)
	}
}

// TestDrain_ConcurrentNoDuplicates drains from many goroutines at once.
// Each record must be handed out exactly once.
func TestDrain_ConcurrentNoDuplicates(t *testing.T) {
	const total = 500
	const drainers = 10

	store := openTestStore(t)
	batch := make([]*record.Record, total)
	for i := range batch {
		batch[i] = &record.Record{Message: fmt.Sprintf("r%d", i)}
	}
	if err := store.AppendBatch(batch); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for i := 0; i < drainers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				out, err := store.Drain(7)
				if err != nil {
					t.Errorf("Drain error: %v", err)
					return
				}
				if len(out) == 0 {
					return
				}
				mu.Lock()
				for _, r := range out {
					seen[r.Message]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct records, got %d", total, len(seen))
	}
	for m, n := range seen {
		if n != 1 {
			t.Errorf("record %s drained %d times", m, n)
		}
	}
}
