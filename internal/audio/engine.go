package audio

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Kind distinguishes the two child process roles.
type Kind int

const (
	KindPlayback Kind = iota
	KindRecording
)

func (k Kind) String() string {
	if k == KindRecording {
		return "recording"
	}
	return "playback"
}

// Handle supervises one spawned audio process. It is created by the engine
// and becomes inert once the process exits; stopping an inert handle is a
// no-op.
type Handle struct {
	kind Kind
	path string
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stopped bool
	waitErr error
}

// Done is closed when the process has exited, naturally or by Stop.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err reports the process exit error. Only meaningful after Done is closed.
// A signal-terminated exit after Stop is reported as nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	return h.waitErr
}

// Path returns the audio file the process plays or writes.
func (h *Handle) Path() string {
	return h.path
}

// Options configures the engine. Zero values fall back to ALSA defaults.
type Options struct {
	PlaybackCommand string
	RecordCommand   string
	Device          string
	SampleRate      int
	Channels        int
	StopGrace       time.Duration
}

// Engine starts and stops OS audio playback and recording as supervised
// child processes. At most one process is active at a time.
type Engine struct {
	opts Options

	mu     sync.Mutex
	active *Handle

	// Command builders are overridable so tests can substitute benign
	// processes for aplay/arecord.
	playCmd   func(file string) *exec.Cmd
	recordCmd func(path string) *exec.Cmd
}

func NewEngine(opts Options) *Engine {
	if opts.PlaybackCommand == "" {
		opts.PlaybackCommand = "aplay"
	}
	if opts.RecordCommand == "" {
		opts.RecordCommand = "arecord"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 2 * time.Second
	}

	e := &Engine{opts: opts}
	e.playCmd = e.defaultPlayCmd
	e.recordCmd = e.defaultRecordCmd
	return e
}

// Play begins playback of file and returns immediately. The caller awaits
// completion through the handle.
func (e *Engine) Play(file string) (*Handle, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("%w: sound file %s: %v", ErrPlaybackFailed, file, err)
	}

	return e.start(KindPlayback, file, e.playCmd(file), ErrPlaybackFailed)
}

// StartRecording begins capturing audio to path and returns immediately.
func (e *Engine) StartRecording(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create recording directory: %v", ErrRecordingFailed, err)
	}

	return e.start(KindRecording, path, e.recordCmd(path), ErrRecordingFailed)
}

func (e *Engine) start(kind Kind, path string, cmd *exec.Cmd, wrap error) (*Handle, error) {
	e.mu.Lock()
	if e.active != nil {
		active := e.active.kind
		e.mu.Unlock()
		slog.Error("audio: refusing to start while another process is active",
			"requested", kind.String(), "active", active.String())
		return nil, fmt.Errorf("%w: %s already active", ErrBusy, active)
	}

	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: start %s: %v", wrap, cmd.Path, err)
	}

	h := &Handle{kind: kind, path: path, cmd: cmd, done: make(chan struct{})}
	e.active = h
	e.mu.Unlock()

	go e.reap(h)
	return h, nil
}

func (e *Engine) reap(h *Handle) {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()

	if h.kind == KindRecording {
		removeEmptyArtifact(h.path)
	}

	e.mu.Lock()
	if e.active == h {
		e.active = nil
	}
	e.mu.Unlock()

	close(h.done)
}

// Stop requests graceful termination (SIGINT, so arecord finalizes the WAV
// header) and escalates to SIGKILL after the grace period. It blocks until
// the process has exited and is idempotent: stopping a finished or
// already-stopped handle does nothing.
func (e *Engine) Stop(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.stopped = true
	h.mu.Unlock()

	select {
	case <-h.done:
		return
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGINT); err != nil {
		slog.Warn("audio: interrupt signal failed", "kind", h.kind.String(), "error", err)
	}

	select {
	case <-h.done:
	case <-time.After(e.opts.StopGrace):
		slog.Warn("audio: process ignored interrupt, killing", "kind", h.kind.String())
		_ = h.cmd.Process.Kill()
		<-h.done
	}
}

// Active reports whether any audio process is currently running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

func (e *Engine) defaultPlayCmd(file string) *exec.Cmd {
	args := []string{}
	if e.opts.Device != "" {
		args = append(args, "-D", e.opts.Device)
	}
	args = append(args, file)
	return exec.Command(e.opts.PlaybackCommand, args...)
}

func (e *Engine) defaultRecordCmd(path string) *exec.Cmd {
	args := []string{}
	if e.opts.Device != "" {
		args = append(args, "-D", e.opts.Device)
	}
	args = append(args,
		"-f", "S16_LE",
		"-r", strconv.Itoa(e.opts.SampleRate),
		"-c", strconv.Itoa(e.opts.Channels),
		path,
	)
	return exec.Command(e.opts.RecordCommand, args...)
}

func removeEmptyArtifact(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("audio: remove empty recording failed", "path", path, "error", err)
		return
	}
	slog.Info("audio: removed empty recording artifact", "path", path)
}
