package audio

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Compress transcodes a recording to a small mono MP3 suitable for upload
// and returns the temp file path. The caller removes the file when done.
func Compress(path string, targetSampleRate int, mono bool) (string, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}

	tmp, err := os.CreateTemp("", "guestbook-upload-*.mp3")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	args := []string{"-i", path}
	if mono {
		args = append(args, "-ac", "1")
	}
	if targetSampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(targetSampleRate))
	}
	// 128kbps is plenty for speech.
	args = append(args, "-codec:a", "libmp3lame", "-b:a", "128k", "-y", tmpPath)

	cmd := exec.Command("ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("ffmpeg compression: %w: %s", err, string(out))
	}

	return tmpPath, nil
}
