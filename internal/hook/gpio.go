package hook

import (
	"bytes"
	"fmt"
	"os"
)

// SysfsReader reads a digital input through the kernel's GPIO sysfs value
// file. The line is expected to be exported and configured as an input with
// a pull-up before the process starts (the deploy scripts handle that).
type SysfsReader struct {
	path string
}

func NewSysfsReader(path string) *SysfsReader {
	return &SysfsReader{path: path}
}

func (r *SysfsReader) Read() (Level, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return LevelOnHook, fmt.Errorf("read gpio value %s: %w", r.path, err)
	}

	switch {
	case bytes.HasPrefix(data, []byte("0")):
		return LevelOffHook, nil
	case bytes.HasPrefix(data, []byte("1")):
		return LevelOnHook, nil
	default:
		return LevelOnHook, fmt.Errorf("unexpected gpio value %q in %s", bytes.TrimSpace(data), r.path)
	}
}
