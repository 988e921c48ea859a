package playback

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the scheduler needs
type Timer interface {
	Stop() bool
}

// Clock abstracts time so scheduling can be driven by tests. AfterFunc must
// not call f before returning.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Delay returns how long to wait before executing a command stamped for
// server time targetMs, given offset (local minus server) and the local
// time now. Late commands get zero and run at once.
func Delay(targetMs, offsetMs, nowMs int64) time.Duration {
	executeAt := targetMs + offsetMs
	if d := executeAt - nowMs; d > 0 {
		return time.Duration(d) * time.Millisecond
	}
	return 0
}

// Scheduler runs callbacks at server timestamps mapped onto the local clock
type Scheduler struct {
	clock  Clock
	offset func() int64
}

// NewScheduler creates a scheduler. offset returns the current clock offset
// in milliseconds; nil means zero.
func NewScheduler(clock Clock, offset func() int64) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	if offset == nil {
		offset = func() int64 { return 0 }
	}
	return &Scheduler{clock: clock, offset: offset}
}

// Pending is a scheduled callback
type Pending struct {
	Delay time.Duration

	mu       sync.Mutex
	timer    Timer
	canceled bool
	fired    bool
}

// Cancel stops the callback if it has not started. It reports whether the
// call prevented execution.
func (p *Pending) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fired || p.canceled {
		return false
	}
	p.canceled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// Fired reports whether the callback has started
func (p *Pending) Fired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fired
}

// Schedule runs fn once the local clock reaches targetMs + offset. A target
// already in the past runs fn as soon as the clock delivers a zero timer.
func (s *Scheduler) Schedule(targetMs int64, fn func()) *Pending {
	p := &Pending{Delay: Delay(targetMs, s.offset(), s.clock.Now().UnixMilli())}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = s.clock.AfterFunc(p.Delay, func() {
		p.mu.Lock()
		if p.canceled {
			p.mu.Unlock()
			return
		}
		p.fired = true
		p.mu.Unlock()
		fn()
	})
	return p
}
