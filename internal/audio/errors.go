package audio

import "errors"

var (
	// ErrPlaybackFailed wraps a missing sound file or a playback process
	// that could not be spawned.
	ErrPlaybackFailed = errors.New("playback failed")

	// ErrRecordingFailed wraps a recording process that could not be spawned.
	ErrRecordingFailed = errors.New("recording failed")

	// ErrBusy means another audio process is already running. The call
	// session's single-flight discipline should make this unreachable.
	ErrBusy = errors.New("audio device busy")
)
