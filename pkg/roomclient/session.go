package roomclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/queue"
	"gitlab.com/secp/services/syncroom/pkg/playback"
)

var ErrRoomClosed = errors.New("room closed")

// Options configures a Session
type Options struct {
	Name   string
	Avatar string
	Media  playback.Media
	// Clock drives the playback scheduler; nil is the wall clock
	Clock playback.Clock
	Log   *zap.Logger
}

// Session is one client's view of a room: the queue, the presence set and a
// playback controller fed by the room's sync commands.
type Session struct {
	api    *API
	conn   *Conn
	roomID uuid.UUID
	ctrl   *playback.Controller
	log    *zap.Logger

	mu       sync.Mutex
	snapshot models.QueueSnapshot
	presence []models.PresenceEntry
	theme    string
}

// Open fetches the room bundle, announces presence, syncs the clock and
// loads the current track paused
func Open(ctx context.Context, api *API, conn *Conn, roomID uuid.UUID, opts Options) (*Session, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	bundle, err := api.Bundle(ctx, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch room")
	}

	s := &Session{
		api:    api,
		conn:   conn,
		roomID: roomID,
		log:    opts.Log.With(zap.String("room_id", roomID.String())),
		theme:  bundle.Room.Theme,
		snapshot: models.QueueSnapshot{
			RoomID:       roomID,
			Items:        bundle.Queue,
			CurrentIndex: bundle.CurrentIndex,
		},
	}
	s.ctrl = playback.NewController(playback.Config{
		Media:  opts.Media,
		Clock:  opts.Clock,
		Offset: conn.Offset,
		IsHost: bundle.Role == models.RoleHost,
		Log:    opts.Log,
	})

	if err := conn.AnnouncePresence(roomID.String(), opts.Name, opts.Avatar); err != nil {
		return nil, err
	}
	if _, err := conn.SyncClock(ctx); err != nil {
		return nil, errors.Wrap(err, "clock sync failed")
	}

	if item := s.Current(); item != nil {
		if err := s.ctrl.Load(item.TrackID); err != nil {
			s.log.Warn("Failed to load current track", zap.Error(err))
		}
	}
	return s, nil
}

func (s *Session) RoomID() uuid.UUID { return s.roomID }

func (s *Session) Controller() *playback.Controller { return s.ctrl }

func (s *Session) IsHost() bool { return s.ctrl.IsHost() }

// Queue returns the last fetched queue snapshot
func (s *Session) Queue() models.QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot
	snap.Items = append([]*models.QueueItem(nil), s.snapshot.Items...)
	return snap
}

// Current returns the item at the cursor, nil for an empty queue
func (s *Session) Current() *models.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return currentItem(s.snapshot)
}

func currentItem(snap models.QueueSnapshot) *models.QueueItem {
	if snap.CurrentIndex < 0 || snap.CurrentIndex >= len(snap.Items) {
		return nil
	}
	return snap.Items[snap.CurrentIndex]
}

func (s *Session) Presence() []models.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PresenceEntry(nil), s.presence...)
}

func (s *Session) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// Run consumes room events until ctx ends, the connection drops or the room
// is closed. handled, if set, sees every event after it was applied.
func (s *Session) Run(ctx context.Context, handled func(models.WSMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.conn.Events():
			if !ok {
				return s.conn.Err()
			}
			err := s.Handle(ctx, msg)
			if handled != nil {
				handled(msg)
			}
			if errors.Is(err, ErrRoomClosed) {
				return err
			}
			if err != nil {
				s.log.Warn("Failed to handle event", zap.String("type", msg.Type), zap.Error(err))
			}
		}
	}
}

// Handle applies one incoming event
func (s *Session) Handle(ctx context.Context, msg models.WSMessage) error {
	if msg.RoomID != "" && msg.RoomID != s.roomID.String() {
		return nil
	}

	switch msg.Type {
	case models.EventRoomPresence:
		var p models.RoomPresencePayload
		if err := msg.Decode(&p); err != nil {
			return errors.Wrap(err, "bad presence")
		}
		s.mu.Lock()
		s.presence = p.Members
		s.mu.Unlock()

	case models.EventSyncCommand:
		var cmd models.SyncCommand
		if err := msg.Decode(&cmd); err != nil {
			return errors.Wrap(err, "bad sync command")
		}
		_, err := s.ctrl.Apply(cmd)
		return err

	case models.EventVideoChanged:
		var p models.VideoChangedPayload
		if err := msg.Decode(&p); err != nil {
			return errors.Wrap(err, "bad video change")
		}
		if err := s.ctrl.Load(p.VideoID); err != nil {
			return err
		}
		// The host moved the cursor before announcing the track
		return s.Refresh(ctx)

	case models.EventQueueUpdated:
		return s.Refresh(ctx)

	case models.EventQueueRemoved:
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		return s.unloadIfEmpty()

	case models.EventThemeChanged:
		var p models.ThemeChangedPayload
		if err := msg.Decode(&p); err != nil {
			return errors.Wrap(err, "bad theme")
		}
		s.mu.Lock()
		s.theme = p.Theme
		s.mu.Unlock()

	case models.EventRoomClosed:
		return ErrRoomClosed

	case models.EventError:
		var p models.ErrorPayload
		msg.Decode(&p)
		s.log.Warn("Server reported error", zap.String("code", p.Code), zap.String("message", p.Message))
	}
	return nil
}

// Refresh re-fetches the canonical queue
func (s *Session) Refresh(ctx context.Context) error {
	snap, err := s.api.Queue(ctx, s.roomID)
	if err != nil {
		return errors.Wrap(err, "failed to refresh queue")
	}
	s.mu.Lock()
	s.snapshot = *snap
	s.mu.Unlock()
	return nil
}

func (s *Session) emit(msgType string, payload interface{}) error {
	return s.conn.Emit(msgType, s.roomID.String(), payload)
}

// Play starts the room at seek seconds
func (s *Session) Play(seek float64) error {
	cmd, err := s.ctrl.Play(seek)
	if err != nil {
		return err
	}
	return s.emit(models.EventSyncCommand, cmd)
}

// Pause stops the room at seek seconds
func (s *Session) Pause(seek float64) error {
	cmd, err := s.ctrl.Pause(seek)
	if err != nil {
		return err
	}
	return s.emit(models.EventSyncCommand, cmd)
}

func (s *Session) Next(ctx context.Context) error {
	snap := s.Queue()
	index, err := s.ctrl.Next(len(snap.Items), snap.CurrentIndex)
	if err != nil {
		return err
	}
	return s.jump(ctx, index)
}

func (s *Session) Previous(ctx context.Context) error {
	snap := s.Queue()
	index, err := s.ctrl.Previous(len(snap.Items), snap.CurrentIndex)
	if err != nil {
		return err
	}
	return s.jump(ctx, index)
}

// jump moves the durable cursor to index and cuts every peer to its track
func (s *Session) jump(ctx context.Context, index int) error {
	if !s.ctrl.IsHost() {
		return playback.ErrNotHost
	}
	if err := s.api.SetCurrentIndex(ctx, s.roomID, index); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	return s.announceCurrent()
}

func (s *Session) announceCurrent() error {
	item := s.Current()
	if item == nil {
		return nil
	}
	if err := s.ctrl.Load(item.TrackID); err != nil {
		return err
	}
	return s.emit(models.EventChangeVideo, models.VideoChangedPayload{VideoID: item.TrackID})
}

// AddTrack appends to the queue and tells peers to re-fetch. The host loads
// the track when it is the first one.
func (s *Session) AddTrack(ctx context.Context, in queue.AppendInput) (*models.QueueItem, error) {
	item, err := s.api.Append(ctx, s.roomID, in)
	if err != nil {
		return nil, err
	}
	if err := s.emit(models.EventQueueUpdated, models.QueueUpdatedPayload{Reason: "added"}); err != nil {
		return item, err
	}
	if err := s.Refresh(ctx); err != nil {
		return item, err
	}
	if item.Order == 0 && s.ctrl.IsHost() {
		return item, s.announceCurrent()
	}
	return item, nil
}

// RemoveTrack deletes an item. When the current track was removed the host
// cuts to the new current one.
func (s *Session) RemoveTrack(ctx context.Context, itemID uuid.UUID) (*models.RemoveResult, error) {
	res, err := s.api.Remove(ctx, s.roomID, itemID)
	if err != nil {
		return nil, err
	}
	payload := models.QueueRemovedPayload{
		ItemID:          itemID.String(),
		DeletedOrder:    res.DeletedOrder,
		NewCurrentIndex: res.NewIndex,
	}
	if err := s.emit(models.EventQueueRemoved, payload); err != nil {
		return res, err
	}
	if err := s.Refresh(ctx); err != nil {
		return res, err
	}
	if err := s.unloadIfEmpty(); err != nil {
		return res, err
	}
	if res.CurrentChanged() && s.ctrl.IsHost() {
		return res, s.announceCurrent()
	}
	return res, nil
}

// unloadIfEmpty drops the loaded track once the queue has no items left
func (s *Session) unloadIfEmpty() error {
	if s.Current() != nil || s.ctrl.State() == playback.Idle {
		return nil
	}
	return s.ctrl.Unload()
}

// MoveTrack reorders an item. The current track does not change.
func (s *Session) MoveTrack(ctx context.Context, itemID uuid.UUID, order int) (*models.MoveResult, error) {
	res, err := s.api.Move(ctx, s.roomID, itemID, order)
	if err != nil {
		return nil, err
	}
	if err := s.emit(models.EventQueueUpdated, models.QueueUpdatedPayload{Reason: "moved"}); err != nil {
		return res, err
	}
	return res, s.Refresh(ctx)
}

// SetTheme stores the room theme and broadcasts it
func (s *Session) SetTheme(ctx context.Context, theme string) error {
	if err := s.api.SetTheme(ctx, s.roomID, theme); err != nil {
		return err
	}
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	return s.emit(models.EventThemeChanged, models.ThemeChangedPayload{Theme: theme})
}

// Close leaves the room and closes the connection
func (s *Session) Close() error {
	s.conn.Leave(s.roomID.String())
	return s.conn.Close()
}
