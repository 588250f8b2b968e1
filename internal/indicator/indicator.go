// Package indicator delivers coarse state labels to the external LED
// daemon. Delivery is fire-and-forget: the core never waits on or retries
// an indication.
package indicator

import (
	"log/slog"
	"os"
	"path/filepath"
)

// State is a coarse appliance state label.
type State string

const (
	StateIdle       State = "idle"
	StateGreeting   State = "greeting"
	StateRecording  State = "recording"
	StateSaved      State = "saved"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// Notifier is the sink for state notifications.
type Notifier interface {
	Notify(state State)
}

// File writes the current label to a status file that the LED daemon polls.
// The write is atomic so the daemon never reads a half-written label.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Notify(state State) {
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		slog.Warn("indicator: create status directory failed", "error", err)
		return
	}
	if err := os.WriteFile(tmp, []byte(state+"\n"), 0o644); err != nil {
		slog.Warn("indicator: write status failed", "state", string(state), "error", err)
		return
	}
	if err := os.Rename(tmp, f.path); err != nil {
		slog.Warn("indicator: replace status failed", "state", string(state), "error", err)
	}
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(State) {}
