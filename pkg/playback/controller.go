// Package playback drives a local media element from room sync commands.
//
// A Controller moves through Idle, Loaded, Paused and Playing. Loading a
// track is a hard cut: it bumps the generation counter so commands scheduled
// for the previous track do nothing when their timer fires.
package playback

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
)

// DefaultBuffer is added to server now when the host issues a command so
// peers have time to receive it before it is due
const DefaultBuffer = 500 * time.Millisecond

var (
	ErrNotHost        = errors.New("only the room host can control playback")
	ErrNothingLoaded  = errors.New("no track loaded")
	ErrUnknownCommand = errors.New("unknown playback command")
	ErrEmptyQueue     = errors.New("queue is empty")
)

type State int

const (
	Idle State = iota
	Loaded
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Media is the player element being controlled
type Media interface {
	Load(trackID string) error
	Seek(seconds float64) error
	Play() error
	Pause() error
}

type Config struct {
	Media  Media
	Clock  Clock
	// Offset returns the clock offset (local minus server) in milliseconds
	Offset func() int64
	IsHost bool
	Buffer time.Duration
	Log    *zap.Logger
}

type Controller struct {
	mu         sync.Mutex
	media      Media
	clock      Clock
	offset     func() int64
	sched      *Scheduler
	buffer     time.Duration
	isHost     bool
	state      State
	track      string
	generation uint64
	pending    map[*Pending]struct{}
	log        *zap.Logger
}

func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Offset == nil {
		cfg.Offset = func() int64 { return 0 }
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Controller{
		media:   cfg.Media,
		clock:   cfg.Clock,
		offset:  cfg.Offset,
		sched:   NewScheduler(cfg.Clock, cfg.Offset),
		buffer:  cfg.Buffer,
		isHost:  cfg.IsHost,
		pending: make(map[*Pending]struct{}),
		log:     cfg.Log.Named("playback"),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Track returns the loaded track id
func (c *Controller) Track() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Controller) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHost
}

func (c *Controller) SetHost(isHost bool) {
	c.mu.Lock()
	c.isHost = isHost
	c.mu.Unlock()
}

// Load cuts to trackID. Pending commands are canceled and the new track is
// left paused at the start.
func (c *Controller) Load(trackID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.cancelPendingLocked()

	if err := c.media.Load(trackID); err != nil {
		c.state = Idle
		c.track = ""
		return errors.Wrapf(err, "failed to load %s", trackID)
	}
	c.track = trackID
	c.state = Loaded

	if err := c.media.Pause(); err != nil {
		return errors.Wrap(err, "failed to pause after load")
	}
	c.state = Paused

	c.log.Debug("Track loaded", zap.String("track", trackID), zap.Uint64("generation", c.generation))
	return nil
}

// Unload drops the current track, as when the queue becomes empty. Pending
// commands are canceled and the controller returns to Idle.
func (c *Controller) Unload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.cancelPendingLocked()
	if c.state == Idle {
		return nil
	}
	c.state = Idle
	c.track = ""
	if err := c.media.Pause(); err != nil {
		return errors.Wrap(err, "failed to pause on unload")
	}
	c.log.Debug("Track unloaded", zap.Uint64("generation", c.generation))
	return nil
}

func (c *Controller) cancelPendingLocked() {
	for p := range c.pending {
		p.Cancel()
	}
	c.pending = make(map[*Pending]struct{})
}

// Apply schedules cmd for its server timestamp. The command is bound to the
// current generation and does nothing if another track loads first.
func (c *Controller) Apply(cmd models.SyncCommand) (*Pending, error) {
	if cmd.Cmd != models.CommandPlay && cmd.Cmd != models.CommandPause {
		return nil, errors.Wrap(ErrUnknownCommand, cmd.Cmd)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generation
	var p *Pending
	p = c.sched.Schedule(cmd.Timestamp, func() { c.execute(gen, &p, cmd) })
	c.pending[p] = struct{}{}

	c.log.Debug("Command scheduled",
		zap.String("cmd", cmd.Cmd), zap.Duration("delay", p.Delay), zap.Uint64("generation", gen))
	return p, nil
}

// execute runs cmd once its timer fires. slot is read under c.mu since Apply
// may still be storing the Pending when a zero delay timer fires.
func (c *Controller) execute(gen uint64, slot **Pending, cmd models.SyncCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, *slot)
	if gen != c.generation {
		c.log.Debug("Dropped stale command", zap.String("cmd", cmd.Cmd), zap.Uint64("generation", gen))
		return
	}
	if c.state == Idle {
		return
	}

	if err := c.media.Seek(cmd.SeekTime); err != nil {
		c.log.Warn("Seek failed", zap.Float64("seek", cmd.SeekTime), zap.Error(err))
	}

	switch cmd.Cmd {
	case models.CommandPlay:
		if err := c.media.Play(); err != nil {
			c.log.Warn("Play failed", zap.Error(err))
			return
		}
		c.state = Playing
	case models.CommandPause:
		if err := c.media.Pause(); err != nil {
			c.log.Warn("Pause failed", zap.Error(err))
			return
		}
		c.state = Paused
	}
}

// Play issues a play command at seek seconds for the whole room and applies
// it locally. The returned command is what the host broadcasts.
func (c *Controller) Play(seek float64) (models.SyncCommand, error) {
	return c.issue(models.CommandPlay, seek)
}

// Pause issues a pause command at seek seconds
func (c *Controller) Pause(seek float64) (models.SyncCommand, error) {
	return c.issue(models.CommandPause, seek)
}

func (c *Controller) issue(cmdName string, seek float64) (models.SyncCommand, error) {
	c.mu.Lock()
	if !c.isHost {
		c.mu.Unlock()
		return models.SyncCommand{}, ErrNotHost
	}
	if c.state == Idle {
		c.mu.Unlock()
		return models.SyncCommand{}, ErrNothingLoaded
	}
	serverNow := c.clock.Now().UnixMilli() - c.offset()
	cmd := models.SyncCommand{
		Cmd:       cmdName,
		Timestamp: serverNow + c.buffer.Milliseconds(),
		SeekTime:  seek,
	}
	c.mu.Unlock()

	if _, err := c.Apply(cmd); err != nil {
		return models.SyncCommand{}, err
	}
	return cmd, nil
}

// Next returns the cursor after skipping forward, bounded by the queue end
func (c *Controller) Next(queueLen, cursor int) (int, error) {
	return c.step(queueLen, cursor, 1)
}

// Previous returns the cursor after skipping back, bounded by zero
func (c *Controller) Previous(queueLen, cursor int) (int, error) {
	return c.step(queueLen, cursor, -1)
}

func (c *Controller) step(queueLen, cursor, delta int) (int, error) {
	if !c.IsHost() {
		return cursor, ErrNotHost
	}
	if queueLen <= 0 {
		return 0, ErrEmptyQueue
	}
	next := cursor + delta
	if next < 0 {
		next = 0
	}
	if next > queueLen-1 {
		next = queueLen - 1
	}
	return next, nil
}
