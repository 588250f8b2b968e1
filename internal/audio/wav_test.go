package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDurationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two-seconds.wav")

	// 8kHz mono 16-bit: 16000 bytes per second.
	if err := WriteWav(path, make([]byte, 32000), 8000, 1, 16); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}

	d, err := Duration(path)
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d != 2*time.Second {
		t.Fatalf("expected 2s, got %v", d)
	}
}

func TestDurationSkipsExtraChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listed.wav")
	if err := WriteWav(path, make([]byte, 16000), 8000, 1, 16); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}

	// Splice a LIST chunk between fmt and data, as some recorders emit.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	list := append([]byte("LIST"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(list[4:8], 4)
	list = append(list, "INFO"...)

	spliced := append(append(append([]byte{}, data[:36]...), list...), data[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))
	if err := os.WriteFile(path, spliced, 0o644); err != nil {
		t.Fatalf("write spliced fixture: %v", err)
	}

	d, err := Duration(path)
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d != time.Second {
		t.Fatalf("expected 1s, got %v", d)
	}
}

func TestDurationRejectsNonWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-wav.wav")
	if err := os.WriteFile(path, []byte("this is definitely not RIFF data"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := Duration(path); err == nil {
		t.Fatal("expected error for non-wav file")
	}
}

func TestDurationMissingFile(t *testing.T) {
	if _, err := Duration("/nonexistent/file.wav"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDurationTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := Duration(path); err == nil {
		t.Fatal("expected error for truncated header")
	}
}
