// Package logging constructs the structured loggers shared across the
// synchronization layer.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New creates a logger with timestamps enabled. The writer defaults to
// [os.Stderr].
func New(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true})
}

// For returns a child logger tagged with the component name, so every cache
// and view model can be told apart in one stream.
func For(l *log.Logger, component string) *log.Logger {
	return l.With("component", component)
}
