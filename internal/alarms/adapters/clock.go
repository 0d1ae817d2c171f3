package adapters

import "time"

// Clock abstracts time for timers that must be testable.
// time.Now carries a monotonic reading, so differences are immune to wall
// clock steps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// SystemClock is the process wall clock.
var SystemClock Clock = wallClock{}

// ClockOrDefault returns c, or SystemClock when c is nil.
func ClockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// Stopwatch measures elapsed time since its last restart.
// The zero value is stopped.
type Stopwatch struct {
	start   time.Time
	running bool
}

// Restart starts the stopwatch from now.
func (s *Stopwatch) Restart(now time.Time) {
	s.start = now
	s.running = true
}

// Reset stops the stopwatch and clears it.
func (s *Stopwatch) Reset() {
	s.start = time.Time{}
	s.running = false
}

// Running reports whether the stopwatch has been started since the last Reset.
func (s *Stopwatch) Running() bool { return s.running }

// Elapsed returns the time since Restart, or zero when stopped.
func (s *Stopwatch) Elapsed(now time.Time) time.Duration {
	if !s.running {
		return 0
	}
	return now.Sub(s.start)
}
