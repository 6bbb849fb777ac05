// Package record defines the log/event record carried from the relay input
// to the output sinks, plus the filter pipeline applied before routing.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Record is a single log event. Records are treated as immutable once they
// leave the relay: sinks must not modify them or their Fields map.
type Record struct {
	Time    time.Time
	Level   zerolog.Level
	Logger  string
	Message string
	Fields  map[string]any
}

// wireRecord is the JSON shape of a Record, both on the relay input and in
// every sink that serialises records.
type wireRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level,omitempty"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		Time:    r.Time,
		Logger:  r.Logger,
		Message: r.Message,
		Fields:  r.Fields,
	}
	if r.Level != zerolog.NoLevel {
		w.Level = r.Level.String()
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. An absent level decodes as
// zerolog.NoLevel.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	lvl, err := zerolog.ParseLevel(w.Level)
	if err != nil {
		return fmt.Errorf("record: level %q: %w", w.Level, err)
	}
	*r = Record{
		Time:    w.Time,
		Level:   lvl,
		Logger:  w.Logger,
		Message: w.Message,
		Fields:  w.Fields,
	}
	return nil
}

// Decode parses one JSON line into a Record. A zero timestamp is replaced
// with now so that every routed record carries its receive time.
func Decode(line []byte, now time.Time) (*Record, error) {
	r := &Record{}
	if err := json.Unmarshal(line, r); err != nil {
		return nil, fmt.Errorf("record: decode: %w", err)
	}
	if r.Time.IsZero() {
		r.Time = now
	}
	return r, nil
}
