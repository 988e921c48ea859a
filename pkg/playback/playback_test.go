package playback

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/secp/services/syncroom/internal/models"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires timers only from Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock(ms int64) *fakeClock {
	return &fakeClock{now: time.UnixMilli(ms)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due, in due
// order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].at.Equal(due[j].at) {
			return due[i].at.Before(due[j].at)
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t.f()
	}
}

type fakeMedia struct {
	calls  []string
	failOn string
}

func (m *fakeMedia) record(call string) error {
	m.calls = append(m.calls, call)
	if call == m.failOn {
		return errors.New("media failure")
	}
	return nil
}

func (m *fakeMedia) Load(trackID string) error { return m.record("load:" + trackID) }
func (m *fakeMedia) Seek(seconds float64) error { return m.record("seek") }
func (m *fakeMedia) Play() error { return m.record("play") }
func (m *fakeMedia) Pause() error { return m.record("pause") }

func TestDelay(t *testing.T) {
	tests := []struct {
		name                  string
		target, offset, nowMs int64
		want                  time.Duration
	}{
		{"future", 2000, 0, 1500, 500 * time.Millisecond},
		{"offset shifts execution", 2000, -40, 1500, 460 * time.Millisecond},
		{"exactly due", 2000, 0, 2000, 0},
		{"late command runs at once", 2000, 0, 2600, 0},
		{"positive offset", 2000, 100, 2050, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(tt.target, tt.offset, tt.nowMs)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
		})
	}
}

func TestScheduler(t *testing.T) {
	clock := newFakeClock(1000)
	s := NewScheduler(clock, func() int64 { return -40 })

	var ran []string
	p := s.Schedule(1540, func() { ran = append(ran, "a") })
	assert.Equal(t, 500*time.Millisecond, p.Delay)

	late := s.Schedule(900, func() { ran = append(ran, "late") })
	assert.Equal(t, time.Duration(0), late.Delay)

	canceled := s.Schedule(1100, func() { ran = append(ran, "canceled") })
	assert.True(t, canceled.Cancel())
	assert.False(t, canceled.Cancel())

	clock.Advance(0)
	assert.Equal(t, []string{"late"}, ran)
	assert.True(t, late.Fired())

	clock.Advance(499 * time.Millisecond)
	assert.Equal(t, []string{"late"}, ran)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"late", "a"}, ran)
	assert.False(t, p.Cancel(), "fired callbacks cannot be canceled")
	assert.False(t, canceled.Fired())
}

func newTestController(t *testing.T, isHost bool) (*Controller, *fakeClock, *fakeMedia) {
	t.Helper()
	clock := newFakeClock(10_000)
	media := &fakeMedia{}
	c := NewController(Config{
		Media:  media,
		Clock:  clock,
		Offset: func() int64 { return 0 },
		IsHost: isHost,
	})
	return c, clock, media
}

func TestLoadNeverAutoplays(t *testing.T) {
	c, _, media := newTestController(t, false)
	assert.Equal(t, Idle, c.State())

	require.NoError(t, c.Load("abc"))
	assert.Equal(t, Paused, c.State())
	assert.Equal(t, "abc", c.Track())
	assert.Equal(t, []string{"load:abc", "pause"}, media.calls)
	assert.Equal(t, uint64(1), c.Generation())
}

func TestLoadFailureLeavesIdle(t *testing.T) {
	c, _, media := newTestController(t, false)
	media.failOn = "load:bad"

	assert.Error(t, c.Load("bad"))
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, "", c.Track())
}

func TestApplyExecutesAtTarget(t *testing.T) {
	c, clock, media := newTestController(t, false)
	require.NoError(t, c.Load("abc"))
	media.calls = nil

	p, err := c.Apply(models.SyncCommand{Cmd: models.CommandPlay, Timestamp: 10_300, SeekTime: 42})
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, p.Delay)

	clock.Advance(299 * time.Millisecond)
	assert.Equal(t, Paused, c.State())

	clock.Advance(time.Millisecond)
	assert.Equal(t, Playing, c.State())
	assert.Equal(t, []string{"seek", "play"}, media.calls)

	_, err = c.Apply(models.SyncCommand{Cmd: models.CommandPause, Timestamp: 9_000, SeekTime: 50})
	require.NoError(t, err)
	clock.Advance(0)
	assert.Equal(t, Paused, c.State(), "late pause still executes")
}

func TestStaleGenerationIsNoop(t *testing.T) {
	c, clock, media := newTestController(t, false)
	require.NoError(t, c.Load("first"))

	_, err := c.Apply(models.SyncCommand{Cmd: models.CommandPlay, Timestamp: 10_500})
	require.NoError(t, err)

	require.NoError(t, c.Load("second"))
	media.calls = nil

	clock.Advance(time.Second)
	assert.Equal(t, Paused, c.State())
	assert.Empty(t, media.calls)
	assert.Equal(t, "second", c.Track())
}

func TestStaleTimerFiringAfterLoad(t *testing.T) {
	// A timer that already started before Load canceled it still must not act
	c, _, media := newTestController(t, false)
	require.NoError(t, c.Load("first"))
	gen := c.Generation()

	require.NoError(t, c.Load("second"))
	media.calls = nil

	p := &Pending{}
	c.execute(gen, &p, models.SyncCommand{Cmd: models.CommandPlay})
	assert.Empty(t, media.calls)
	assert.Equal(t, Paused, c.State())
}

// syncMedia is fakeMedia safe for callbacks on timer goroutines
type syncMedia struct {
	mu sync.Mutex
	fakeMedia
}

func (m *syncMedia) Load(trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fakeMedia.Load(trackID)
}

func (m *syncMedia) Seek(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fakeMedia.Seek(seconds)
}

func (m *syncMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fakeMedia.Play()
}

func (m *syncMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fakeMedia.Pause()
}

func TestLateCommandOnWallClock(t *testing.T) {
	c := NewController(Config{Media: &syncMedia{}, Clock: SystemClock})
	require.NoError(t, c.Load("abc"))

	late := time.Now().UnixMilli() - 10_000
	for i := 0; i < 50; i++ {
		_, err := c.Apply(models.SyncCommand{Cmd: models.CommandPlay, Timestamp: late})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.state == Playing && len(c.pending) == 0
	}, 2*time.Second, 5*time.Millisecond, "fired commands leave the pending set")
}

func TestUnload(t *testing.T) {
	c, clock, media := newTestController(t, false)
	require.NoError(t, c.Load("abc"))
	gen := c.Generation()

	_, err := c.Apply(models.SyncCommand{Cmd: models.CommandPlay, Timestamp: 10_500})
	require.NoError(t, err)
	media.calls = nil

	require.NoError(t, c.Unload())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, "", c.Track())
	assert.Equal(t, gen+1, c.Generation())
	assert.Equal(t, []string{"pause"}, media.calls)

	clock.Advance(time.Second)
	assert.Equal(t, Idle, c.State(), "commands for the dropped track do nothing")
	assert.Equal(t, []string{"pause"}, media.calls)

	require.NoError(t, c.Unload())
	assert.Equal(t, []string{"pause"}, media.calls, "unloading when idle leaves the player alone")
}

func TestApplyRejectsUnknownCommand(t *testing.T) {
	c, _, _ := newTestController(t, false)
	_, err := c.Apply(models.SyncCommand{Cmd: "rewind"})
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestHostControls(t *testing.T) {
	c, clock, _ := newTestController(t, true)

	_, err := c.Play(0)
	assert.True(t, errors.Is(err, ErrNothingLoaded))

	require.NoError(t, c.Load("abc"))
	cmd, err := c.Play(12.5)
	require.NoError(t, err)
	assert.Equal(t, models.CommandPlay, cmd.Cmd)
	assert.Equal(t, int64(10_000)+DefaultBuffer.Milliseconds(), cmd.Timestamp)
	assert.Equal(t, 12.5, cmd.SeekTime)

	clock.Advance(DefaultBuffer)
	assert.Equal(t, Playing, c.State())

	cmd, err = c.Pause(20)
	require.NoError(t, err)
	assert.Equal(t, models.CommandPause, cmd.Cmd)
	clock.Advance(DefaultBuffer)
	assert.Equal(t, Paused, c.State())
}

func TestGuestCannotControl(t *testing.T) {
	c, _, _ := newTestController(t, false)
	require.NoError(t, c.Load("abc"))

	_, err := c.Play(0)
	assert.True(t, errors.Is(err, ErrNotHost))
	_, err = c.Pause(0)
	assert.True(t, errors.Is(err, ErrNotHost))
	_, err = c.Next(3, 0)
	assert.True(t, errors.Is(err, ErrNotHost))

	c.SetHost(true)
	_, err = c.Play(0)
	assert.NoError(t, err)
}

func TestNextPrevious(t *testing.T) {
	c, _, _ := newTestController(t, true)

	tests := []struct {
		name          string
		step          func(int, int) (int, error)
		length, start int
		want          int
	}{
		{"next", c.Next, 3, 0, 1},
		{"next at end stays", c.Next, 3, 2, 2},
		{"previous", c.Previous, 3, 2, 1},
		{"previous at start stays", c.Previous, 3, 0, 0},
		{"next from stale cursor clamps", c.Next, 2, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.step(tt.length, tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := c.Next(0, 0)
	assert.True(t, errors.Is(err, ErrEmptyQueue))
}
