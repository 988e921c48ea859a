// Package hub relays room events between websocket connections
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/logger"
	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/presence"
)

const sendBuffer = 256

var ErrNotInRoom = errors.New("connection has not joined a room")

// Directory answers who hosts a room. rooms.Service satisfies it.
type Directory interface {
	HostOf(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error)
}

// Limiter budgets inbound events per identity. ratelimit.Limiter satisfies it.
type Limiter interface {
	CheckRoomEvent(ctx context.Context, userID string) error
}

// Client represents a WebSocket client
type Client struct {
	ID     string
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	name   string
	avatar string
	room   *Room
	closed bool
}

// Room is the live side of a room: the connections currently attached
type Room struct {
	ID     string
	HostID uuid.UUID

	mu      sync.RWMutex
	clients map[string]*Client
}

// Stats is a point-in-time view of the hub
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

type Service struct {
	rooms   map[string]*Room
	roomsMu sync.RWMutex

	directory Directory
	presence  *presence.Tracker
	limiter   Limiter
	log       *zap.Logger
	now       func() time.Time
}

// NewService creates the hub. limiter may be nil.
func NewService(directory Directory, tracker *presence.Tracker, limiter Limiter, log *zap.Logger) *Service {
	if tracker == nil {
		tracker = presence.NewTracker(true)
	}
	return &Service{
		rooms:     make(map[string]*Room),
		directory: directory,
		presence:  tracker,
		limiter:   limiter,
		log:       logger.OrNop(log).Named("hub"),
		now:       time.Now,
	}
}

// NewClient wraps an upgraded connection for user. Pumps are started by the
// caller.
func (s *Service) NewClient(conn *websocket.Conn, user *models.User) *Client {
	c := &Client{
		ID:     ulid.Make().String(),
		UserID: user.ID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		name:   user.DisplayName,
	}
	if user.AvatarURL != nil {
		c.avatar = *user.AvatarURL
	}
	return c
}

// RoomID returns the id of the room c is attached to, or ""
func (c *Client) RoomID() string {
	if r := c.currentRoom(); r != nil {
		return r.ID
	}
	return ""
}

func (c *Client) currentRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) swapRoom(r *Room) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.room
	c.room = r
	return prev
}

// detachFrom clears the room only if it is still r
func (c *Client) detachFrom(r *Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != r {
		return false
	}
	c.room = nil
	return true
}

func (c *Client) entry() models.PresenceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.PresenceEntry{UserID: c.UserID.String(), Name: c.name, Avatar: c.avatar}
}

func (c *Client) setProfile(name, avatar string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		c.name = name
	}
	c.avatar = avatar
}

// enqueue hands data to the write pump without blocking. A full or closed
// queue drops the frame.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Join attaches c to roomID after checking the room exists. A connection is
// in at most one room; joining another room leaves the current one first.
// Everyone in the room, the joiner included, receives the new presence
// snapshot.
func (s *Service) Join(ctx context.Context, c *Client, roomID string) error {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return errors.Wrap(err, "invalid room id")
	}

	current := c.currentRoom()
	if current != nil && current.ID == roomID {
		current.mu.Lock()
		snap := s.presence.Join(roomID, c.ID, c.entry())
		s.sendPresenceLocked(current, snap)
		current.mu.Unlock()
		return nil
	}

	hostID, err := s.directory.HostOf(ctx, id)
	if err != nil {
		return err
	}

	if current != nil {
		s.Leave(c)
	}

	s.roomsMu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, HostID: hostID, clients: make(map[string]*Client)}
		s.rooms[roomID] = room
		s.log.Debug("Created room", zap.String("room", roomID))
	}
	room.mu.Lock()
	room.clients[c.ID] = c
	c.swapRoom(room)
	snap := s.presence.Join(roomID, c.ID, c.entry())
	s.sendPresenceLocked(room, snap)
	room.mu.Unlock()
	s.roomsMu.Unlock()

	s.log.Info("Client joined room",
		zap.String("client", c.ID), zap.String("user", c.UserID.String()), zap.String("room", roomID))
	return nil
}

// Leave detaches c from its room and tells the others. Calling it when c is
// in no room is a no-op.
func (s *Service) Leave(c *Client) {
	room := c.swapRoom(nil)
	if room == nil {
		return
	}

	room.mu.Lock()
	delete(room.clients, c.ID)
	snap := s.presence.Leave(room.ID, c.ID)
	s.sendPresenceLocked(room, snap)
	room.mu.Unlock()

	s.cleanupEmptyRoom(room.ID)

	s.log.Info("Client left room",
		zap.String("client", c.ID), zap.String("user", c.UserID.String()), zap.String("room", room.ID))
}

// Disconnect leaves the room and closes the send queue, which stops the
// write pump
func (s *Service) Disconnect(c *Client) {
	s.Leave(c)
	c.close()
}

// UpdatePresence changes c's display fields and re-broadcasts the snapshot
func (s *Service) UpdatePresence(c *Client, name, avatar string) {
	c.setProfile(name, avatar)

	room := c.currentRoom()
	if room == nil {
		return
	}
	room.mu.Lock()
	if snap, ok := s.presence.Update(room.ID, c.ID, name, avatar); ok {
		s.sendPresenceLocked(room, snap)
	}
	room.mu.Unlock()
}

// Presence returns the live members of roomID
func (s *Service) Presence(roomID string) []models.PresenceEntry {
	return s.presence.Snapshot(roomID)
}

// sendPresenceLocked delivers a room-presence snapshot to every connection
// of room. room.mu must be held so snapshots reach clients in order.
func (s *Service) sendPresenceLocked(room *Room, snap []models.PresenceEntry) {
	msg, err := models.NewWSMessage(models.EventRoomPresence, room.ID, models.RoomPresencePayload{
		RoomID:  room.ID,
		Members: snap,
	})
	if err != nil {
		s.log.Error("Failed to build presence message", zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to marshal presence message", zap.Error(err))
		return
	}
	for _, c := range room.clients {
		if !c.enqueue(data) {
			s.log.Warn("Presence dropped", zap.String("client", c.ID))
		}
	}
}

// Broadcast delivers msg to every connection of room except exclude
func (s *Service) Broadcast(room *Room, msg models.WSMessage, exclude *Client) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	room.mu.RLock()
	clients := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		if c != exclude {
			clients = append(clients, c)
		}
	}
	room.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			s.log.Warn("Broadcast dropped", zap.String("client", c.ID), zap.String("type", msg.Type))
		}
	}
}

// Publish sends a server originated event to every connection in roomID
func (s *Service) Publish(roomID, msgType string, payload interface{}) error {
	s.roomsMu.RLock()
	room, ok := s.rooms[roomID]
	s.roomsMu.RUnlock()
	if !ok {
		return nil
	}

	msg, err := models.NewWSMessage(msgType, roomID, payload)
	if err != nil {
		return errors.Wrap(err, "failed to build message")
	}
	s.Broadcast(room, msg, nil)
	return nil
}

// CloseRoom tells every connection of roomID that the room is gone and
// detaches them. Connections stay open and may join another room.
func (s *Service) CloseRoom(roomID string) {
	s.roomsMu.Lock()
	room, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.roomsMu.Unlock()
	if !ok {
		return
	}

	msg, err := models.NewWSMessage(models.EventRoomClosed, roomID, models.RoomClosedPayload{RoomID: roomID})
	if err != nil {
		s.log.Error("Failed to build room-closed message", zap.Error(err))
		return
	}
	s.Broadcast(room, msg, nil)

	room.mu.Lock()
	for id, c := range room.clients {
		c.detachFrom(room)
		delete(room.clients, id)
	}
	room.mu.Unlock()

	s.presence.Drop(roomID)
	s.log.Info("Room closed", zap.String("room", roomID))
}

// Stats counts live rooms and attached connections
func (s *Service) Stats() Stats {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()

	st := Stats{Rooms: len(s.rooms)}
	for _, r := range s.rooms {
		r.mu.RLock()
		st.Connections += len(r.clients)
		r.mu.RUnlock()
	}
	return st
}

func (s *Service) cleanupEmptyRoom(roomID string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	if room, exists := s.rooms[roomID]; exists {
		room.mu.RLock()
		isEmpty := len(room.clients) == 0
		room.mu.RUnlock()

		if isEmpty {
			delete(s.rooms, roomID)
			s.log.Debug("Cleaned up empty room", zap.String("room", roomID))
		}
	}
}

func (s *Service) send(c *Client, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to marshal message", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		s.log.Warn("Client send queue full", zap.String("client", c.ID))
	}
}

func (s *Service) sendError(c *Client, roomID, code, message string) {
	msg, err := models.NewWSMessage(models.EventError, roomID, models.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	s.send(c, msg)
}
