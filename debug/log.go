package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	file    *os.File
	mu      sync.Mutex
	enabled bool

	once = make(map[string]bool)
)

// DefaultPath returns ~/.config/stepgrid/debug.log
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "stepgrid", "debug.log")
}

// Enable starts debug logging to path (DefaultPath if empty)
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("cannot open debug log: %w", err)
	}

	file = f
	enabled = true

	// Write directly (can't call Log - we hold the mutex)
	write("debug", "=== Debug logging started ===")

	return nil
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	enabled = false
}

// Enabled reports whether logging is on
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Log writes a message to the debug log
func Log(category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || file == nil {
		return
	}
	write(category, fmt.Sprintf(format, args...))
}

func write(category, msg string) {
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(file, "[%s] %-10s %s\n", ts, category, msg)
	file.Sync() // flush immediately so we see logs even on crash
}

// LogEvery logs only every N calls (use for high-frequency events)
var counters = make(map[string]int)

func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

// Once logs under key the first time it is called, and is silent after
// that until Rearm(key). Reports whether it logged.
func Once(key, category, format string, args ...any) bool {
	mu.Lock()
	if once[key] {
		mu.Unlock()
		return false
	}
	once[key] = true
	mu.Unlock()

	Log(category, format, args...)
	return true
}

// Rearm lets the next Once(key, ...) log again.
func Rearm(key string) {
	mu.Lock()
	delete(once, key)
	mu.Unlock()
}

// Throttle returns a logger for category that writes at most one message per
// interval and counts what it dropped in between.
func Throttle(category string, every time.Duration) func(format string, args ...any) {
	lim := rate.NewLimiter(rate.Every(every), 1)
	var dropped int
	var dmu sync.Mutex
	return func(format string, args ...any) {
		dmu.Lock()
		if !lim.Allow() {
			dropped++
			dmu.Unlock()
			return
		}
		n := dropped
		dropped = 0
		dmu.Unlock()

		if n > 0 {
			Log(category, format+" (+%d suppressed)", append(args, n)...)
			return
		}
		Log(category, format, args...)
	}
}
