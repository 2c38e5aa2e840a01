// Package logctx builds one charmbracelet/log logger per component,
// scoped with log.NewWithOptions and a component-specific Prefix.
package logctx

import (
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger prefixed with component, writing to stderr with
// timestamps.
func New(component string) *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          component,
	})
}

// Room builds the logger for one room, prefixed with its id so log
// lines from concurrently-hosted rooms stay distinguishable.
func Room(roomID uint64) *log.Logger {
	l := New("room")
	return l.With("room_id", roomID)
}
