package router

import (
	"fmt"
	"strings"
)

// Mode selects the suppression policy the router applies to every sink.
type Mode int

const (
	// ModeIndefinite skips a failed sink for the rest of the router's lifetime.
	ModeIndefinite Mode = iota
	// ModeTime retries a failed sink after MinutesTimeout minutes.
	ModeTime
	// ModeCount retries a failed sink once every AppendCount suppressed writes.
	ModeCount
)

func (m Mode) String() string {
	switch m {
	case ModeIndefinite:
		return "indefinite"
	case ModeTime:
		return "time"
	case ModeCount:
		return "count"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string into a Mode. The empty string
// selects ModeIndefinite.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "indefinite":
		return ModeIndefinite, nil
	case "time":
		return ModeTime, nil
	case "count":
		return ModeCount, nil
	default:
		return ModeIndefinite, fmt.Errorf("router: unknown mode %q (want indefinite|time|count)", s)
	}
}
