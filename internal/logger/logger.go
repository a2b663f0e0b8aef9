package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the process-wide zerolog root. format selects the
// writer: "pretty" renders a console view for development, anything
// else emits raw JSON for log shippers. Unknown levels fall back to
// info rather than failing startup.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if format == "pretty" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	// The service tag separates runtime logs from the authoring
	// service's in a shared stream.
	return zerolog.New(out).With().
		Timestamp().
		Caller().
		Str("service", "quizline-runtime").
		Logger()
}
