package relay

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/storage"
)

// runJanitor runs periodic spool maintenance:
//   - Prune entries older than retention (when retention > 0).
//   - Update the spool record and file size gauges.
//
// It returns when ctx is cancelled.
func runJanitor(ctx context.Context, store storage.Store, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pruneSpool(store, retention, now)
		}
	}
}

func pruneSpool(store storage.Store, retention time.Duration, now time.Time) {
	if retention > 0 {
		removed, err := store.Prune(now.Add(-retention))
		if err != nil {
			log.Warn().Err(err).Msg("janitor: spool prune failed")
		} else if removed > 0 {
			log.Info().Int("removed", removed).Str("retention", retention.String()).Msg("janitor: pruned spool")
		}
	}
	metrics.SpoolRecords.Set(float64(store.Count()))
	if path := store.DBPath(); path != "" {
		if info, err := os.Stat(path); err == nil {
			metrics.SpoolDBSizeBytes.Set(float64(info.Size()))
		}
	}
}
