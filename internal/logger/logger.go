package logger

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. Output goes through a
// RedactWriter; format "text" selects the console writer, anything else
// JSON. Unknown levels fall back to info.
func Init(w io.Writer, level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	redacted := NewRedactWriter(w)
	if format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: redacted}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(redacted).With().Timestamp().Logger()
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
