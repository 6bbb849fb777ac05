package record

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SkipReason is returned by filters when a record should not be routed.
type SkipReason struct {
	Filter string
	Detail string
}

func (s *SkipReason) Error() string {
	return fmt.Sprintf("%s: %s", s.Filter, s.Detail)
}

// Filter evaluates a record and returns nil to pass or a SkipReason to reject.
type Filter func(r *Record) *SkipReason

// Pipeline chains multiple filters. Returns the first SkipReason encountered, or nil if all pass.
func Pipeline(filters []Filter, r *Record) *SkipReason {
	for _, f := range filters {
		if reason := f(r); reason != nil {
			return reason
		}
	}
	return nil
}

// LevelAtLeast rejects records below the given threshold. Records without a
// level always pass, as does every record when the threshold is TraceLevel
// or lower.
func LevelAtLeast(minimum zerolog.Level) Filter {
	return func(r *Record) *SkipReason {
		if minimum <= zerolog.TraceLevel || r.Level == zerolog.NoLevel {
			return nil
		}
		if r.Level < minimum {
			return &SkipReason{"level", fmt.Sprintf("level=%s below threshold %s", r.Level, minimum)}
		}
		return nil
	}
}

// MessageRequired rejects records with an empty message.
func MessageRequired() Filter {
	return func(r *Record) *SkipReason {
		if strings.TrimSpace(r.Message) == "" {
			return &SkipReason{"message", "empty message"}
		}
		return nil
	}
}

// LoggerExclude rejects records whose logger name contains any of the given
// substrings (case-insensitive).
func LoggerExclude(patterns ...string) Filter {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return func(r *Record) *SkipReason {
		name := strings.ToLower(r.Logger)
		for _, p := range lowered {
			if strings.Contains(name, p) {
				return &SkipReason{"logger-exclude", fmt.Sprintf("logger=%s matches exclude pattern %q", r.Logger, p)}
			}
		}
		return nil
	}
}
