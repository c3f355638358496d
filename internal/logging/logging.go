// Package logging builds the structured JSON logger every entrypoint uses.
package logging

import (
	"log/slog"
	"os"
)

// New returns a slog.Logger writing JSON records to stdout at info level,
// matching the handler every cmd/ entrypoint wires up.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
