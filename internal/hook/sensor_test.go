package hook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// scriptReader replays a fixed sequence of levels, then holds the last one.
type scriptReader struct {
	mu     sync.Mutex
	levels []Level
	last   Level
	fail   bool
}

func (r *scriptReader) Read() (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return LevelOnHook, errors.New("line noise")
	}
	if len(r.levels) > 0 {
		r.last = r.levels[0]
		r.levels = r.levels[1:]
	}
	return r.last, nil
}

func (r *scriptReader) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func runSensor(t *testing.T, reader LevelReader, opts Options) (*Sensor, context.CancelFunc) {
	t.Helper()

	sensor := NewSensor(reader, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go sensor.Run(ctx)
	t.Cleanup(cancel)
	return sensor, cancel
}

func awaitEvent(t *testing.T, events <-chan Event, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev := <-events:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

func TestStableTransitionEmitsEvent(t *testing.T) {
	reader := &scriptReader{last: LevelOnHook, levels: []Level{
		LevelOnHook, LevelOnHook, LevelOffHook,
	}}

	sensor, _ := runSensor(t, reader, Options{
		PollInterval: time.Millisecond,
		Debounce:     20 * time.Millisecond,
	})

	ev, ok := awaitEvent(t, sensor.Events(), time.Second)
	if !ok {
		t.Fatal("expected a lifted event")
	}
	if ev.Kind != Lifted {
		t.Fatalf("expected lifted, got %s", ev.Kind)
	}
}

func TestBounceEmitsSingleEvent(t *testing.T) {
	// A mechanical bounce: several sub-debounce flips before settling
	// off-hook. Exactly one Lifted must come out.
	reader := &scriptReader{last: LevelOnHook, levels: []Level{
		LevelOnHook,
		LevelOffHook, LevelOnHook, LevelOffHook, LevelOnHook,
		LevelOffHook,
	}}

	sensor, _ := runSensor(t, reader, Options{
		PollInterval: time.Millisecond,
		Debounce:     20 * time.Millisecond,
	})

	ev, ok := awaitEvent(t, sensor.Events(), time.Second)
	if !ok {
		t.Fatal("expected a lifted event after the bounce settled")
	}
	if ev.Kind != Lifted {
		t.Fatalf("expected lifted, got %s", ev.Kind)
	}

	if extra, ok := awaitEvent(t, sensor.Events(), 60*time.Millisecond); ok {
		t.Fatalf("expected no further events, got %s", extra.Kind)
	}
}

func TestLiftThenHangUp(t *testing.T) {
	reader := &scriptReader{last: LevelOnHook, levels: []Level{
		LevelOnHook, LevelOffHook,
	}}

	sensor, _ := runSensor(t, reader, Options{
		PollInterval: time.Millisecond,
		Debounce:     10 * time.Millisecond,
	})

	ev, ok := awaitEvent(t, sensor.Events(), time.Second)
	if !ok || ev.Kind != Lifted {
		t.Fatalf("expected lifted first, got ok=%v kind=%v", ok, ev.Kind)
	}

	reader.mu.Lock()
	reader.levels = []Level{LevelOnHook}
	reader.mu.Unlock()

	ev, ok = awaitEvent(t, sensor.Events(), time.Second)
	if !ok || ev.Kind != HungUp {
		t.Fatalf("expected hung_up, got ok=%v kind=%v", ok, ev.Kind)
	}
}

func TestReadErrorRetainsLevel(t *testing.T) {
	reader := &scriptReader{last: LevelOnHook}

	sensor, _ := runSensor(t, reader, Options{
		PollInterval: time.Millisecond,
		Debounce:     10 * time.Millisecond,
	})

	// Give the loop a moment to start, then fail every read.
	time.Sleep(10 * time.Millisecond)
	reader.setFail(true)

	if ev, ok := awaitEvent(t, sensor.Events(), 60*time.Millisecond); ok {
		t.Fatalf("expected no events from a failing line, got %s", ev.Kind)
	}

	// Recovery with the same level still produces nothing.
	reader.setFail(false)
	if ev, ok := awaitEvent(t, sensor.Events(), 60*time.Millisecond); ok {
		t.Fatalf("expected no events after recovery, got %s", ev.Kind)
	}
}

func TestToggleBurstDetected(t *testing.T) {
	// Four raw flips inside the window request greeting-record mode even
	// though none survives the debounce.
	reader := &scriptReader{last: LevelOnHook, levels: []Level{
		LevelOnHook,
		LevelOffHook, LevelOnHook, LevelOffHook, LevelOnHook,
	}}

	sensor, _ := runSensor(t, reader, Options{
		PollInterval:  time.Millisecond,
		Debounce:      50 * time.Millisecond,
		ToggleEnabled: true,
		ToggleCount:   4,
		ToggleWindow:  time.Second,
	})

	ev, ok := awaitEvent(t, sensor.Events(), time.Second)
	if !ok {
		t.Fatal("expected a toggle burst event")
	}
	if ev.Kind != ToggleBurst {
		t.Fatalf("expected toggle_burst, got %s", ev.Kind)
	}
}

func TestToggleBurstDisabled(t *testing.T) {
	reader := &scriptReader{last: LevelOnHook, levels: []Level{
		LevelOnHook,
		LevelOffHook, LevelOnHook, LevelOffHook, LevelOnHook,
	}}

	sensor, _ := runSensor(t, reader, Options{
		PollInterval: time.Millisecond,
		Debounce:     50 * time.Millisecond,
		ToggleCount:  4,
		ToggleWindow: time.Second,
	})

	if ev, ok := awaitEvent(t, sensor.Events(), 80*time.Millisecond); ok {
		t.Fatalf("expected no events with toggle detection disabled, got %s", ev.Kind)
	}
}

func TestAppendTogglePrunesWindow(t *testing.T) {
	now := time.Now()
	toggles := []time.Time{
		now.Add(-10 * time.Second),
		now.Add(-2 * time.Second),
	}

	got := appendToggle(toggles, now, 6*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected stale toggle pruned, got %d entries", len(got))
	}
	if !got[1].Equal(now) {
		t.Fatalf("expected newest toggle last, got %v", got[1])
	}
}

func TestSysfsReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value")

	cases := []struct {
		raw     string
		want    Level
		wantErr bool
	}{
		{"0\n", LevelOffHook, false},
		{"1\n", LevelOnHook, false},
		{"x\n", LevelOnHook, true},
	}
	for _, tc := range cases {
		if err := os.WriteFile(path, []byte(tc.raw), 0o644); err != nil {
			t.Fatalf("write value file: %v", err)
		}
		level, err := NewSysfsReader(path).Read()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Read(%q) failed: %v", tc.raw, err)
		}
		if level != tc.want {
			t.Fatalf("Read(%q) = %v, want %v", tc.raw, level, tc.want)
		}
	}
}

func TestSysfsReaderMissingFile(t *testing.T) {
	level, err := NewSysfsReader("/nonexistent/gpio/value").Read()
	if err == nil {
		t.Fatal("expected error for missing value file")
	}
	if level != LevelOnHook {
		t.Fatalf("expected fail-safe on-hook level, got %v", level)
	}
}
