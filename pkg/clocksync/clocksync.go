// Package clocksync estimates the offset between the local clock and the
// room server's clock from one ping/pong exchange.
//
// The offset is local minus server, in milliseconds:
//
//	local  = server + offset
//	server = local - offset
package clocksync

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNoPing       = errors.New("no sync ping outstanding")
	ErrPingMismatch = errors.New("sync pong does not match outstanding ping")
)

// Offset computes ((t0 + t2) / 2) - serverTs assuming the server stamped its
// reply at the midpoint of the round trip
func Offset(t0, serverTs, t2 int64) int64 {
	return (t0+t2)/2 - serverTs
}

// Estimator runs one exchange per connection. It is safe for concurrent use.
type Estimator struct {
	mu      sync.Mutex
	now     func() time.Time
	pending int64
	sent    bool
	offset  int64
	known   bool
}

// New creates an estimator reading the local clock from now. A nil now uses
// time.Now.
func New(now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{now: now}
}

// Begin records the send time of a new ping and returns t0 to send.
// A previous outstanding ping is forgotten.
func (e *Estimator) Begin() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = e.now().UnixMilli()
	e.sent = true
	return e.pending
}

// Complete finishes the exchange with the server's reply received at local
// time t2 and stores the resulting offset
func (e *Estimator) Complete(t0, serverTs, t2 int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sent {
		return 0, ErrNoPing
	}
	if t0 != e.pending {
		return 0, ErrPingMismatch
	}

	e.sent = false
	e.offset = Offset(t0, serverTs, t2)
	e.known = true
	return e.offset, nil
}

// Receive is Complete with t2 read from the estimator's clock
func (e *Estimator) Receive(t0, serverTs int64) (int64, error) {
	return e.Complete(t0, serverTs, e.now().UnixMilli())
}

// Offset returns the last estimate. ok is false until an exchange completes;
// callers then treat the offset as zero.
func (e *Estimator) Offset() (offset int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset, e.known
}

// Reset forgets the estimate, as on reconnect
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset, e.known, e.sent = 0, false, false
}

// ServerNow returns the current server time in milliseconds
func (e *Estimator) ServerNow() int64 {
	offset, _ := e.Offset()
	return ServerTime(e.now().UnixMilli(), offset)
}

// LocalTime maps a server timestamp to local milliseconds
func LocalTime(serverMs, offset int64) int64 {
	return serverMs + offset
}

// ServerTime maps a local timestamp to server milliseconds
func ServerTime(localMs, offset int64) int64 {
	return localMs - offset
}
