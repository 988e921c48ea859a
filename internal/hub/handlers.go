package hub

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/ratelimit"
	"gitlab.com/secp/services/syncroom/internal/rooms"
)

// Error codes sent in error events
const (
	CodeBadMessage   = "bad_message"
	CodeUnknownEvent = "unknown_event"
	CodeNotInRoom    = "not_in_room"
	CodeRoomNotFound = "room_not_found"
	CodeNotHost      = "not_host"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// HandleMessage processes one inbound frame from c
func (s *Service) HandleMessage(ctx context.Context, c *Client, message []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.log.Debug("Failed to unmarshal message", zap.String("client", c.ID), zap.Error(err))
		s.sendError(c, "", CodeBadMessage, "malformed message")
		return
	}

	switch msg.Type {
	case models.EventJoinRoom:
		s.handleJoin(ctx, c, msg)

	case models.EventLeaveRoom:
		s.Leave(c)

	case models.EventPresenceJoin:
		s.handlePresenceJoin(ctx, c, msg)

	case models.EventSyncPing:
		s.handleSyncPing(c, msg)

	case models.EventSyncCommand:
		s.handleSyncCommand(ctx, c, msg)

	case models.EventChangeVideo:
		s.handleChangeVideo(ctx, c, msg)

	case models.EventQueueUpdated, models.EventQueueRemoved, models.EventThemeChanged:
		s.handleRelay(ctx, c, msg)

	default:
		s.log.Debug("Unknown message type", zap.String("type", msg.Type))
		s.sendError(c, msg.RoomID, CodeUnknownEvent, "unknown event "+msg.Type)
	}
}

func (s *Service) handleJoin(ctx context.Context, c *Client, msg models.WSMessage) {
	var p models.JoinRoomPayload
	if err := msg.Decode(&p); err != nil || p.RoomID == "" {
		s.sendError(c, msg.RoomID, CodeBadMessage, "roomId required")
		return
	}
	s.join(ctx, c, p.RoomID)
}

func (s *Service) join(ctx context.Context, c *Client, roomID string) bool {
	err := s.Join(ctx, c, roomID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, rooms.ErrRoomNotFound):
		s.sendError(c, roomID, CodeRoomNotFound, "room not found")
	default:
		s.log.Warn("Join failed", zap.String("room", roomID), zap.Error(err))
		s.sendError(c, roomID, CodeBadMessage, "could not join room")
	}
	return false
}

// handlePresenceJoin updates the display profile and joins the room named
// in the payload if c is not already there
func (s *Service) handlePresenceJoin(ctx context.Context, c *Client, msg models.WSMessage) {
	var p models.PresenceJoinPayload
	if err := msg.Decode(&p); err != nil {
		s.sendError(c, msg.RoomID, CodeBadMessage, "invalid presence payload")
		return
	}

	if p.RoomID != "" && p.RoomID != c.RoomID() {
		c.setProfile(p.Name, p.Avatar)
		s.join(ctx, c, p.RoomID)
		return
	}
	if c.RoomID() == "" {
		s.sendError(c, "", CodeNotInRoom, ErrNotInRoom.Error())
		return
	}
	s.UpdatePresence(c, p.Name, p.Avatar)
}

func (s *Service) handleSyncPing(c *Client, msg models.WSMessage) {
	var p models.SyncPingPayload
	if err := msg.Decode(&p); err != nil {
		s.sendError(c, msg.RoomID, CodeBadMessage, "invalid sync-ping payload")
		return
	}

	pong, err := models.NewWSMessage(models.EventSyncPong, c.RoomID(), models.SyncPongPayload{
		T0:       p.T0,
		ServerTs: s.now().UnixMilli(),
	})
	if err != nil {
		return
	}
	s.send(c, pong)
}

func (s *Service) handleSyncCommand(ctx context.Context, c *Client, msg models.WSMessage) {
	room, ok := s.hostRoom(ctx, c, msg)
	if !ok {
		return
	}

	var cmd models.SyncCommand
	if err := msg.Decode(&cmd); err != nil ||
		(cmd.Cmd != models.CommandPlay && cmd.Cmd != models.CommandPause) || cmd.SeekTime < 0 {
		s.sendError(c, room.ID, CodeBadMessage, "invalid sync-command")
		return
	}

	s.relay(c, room, models.EventSyncCommand, cmd)
}

func (s *Service) handleChangeVideo(ctx context.Context, c *Client, msg models.WSMessage) {
	room, ok := s.hostRoom(ctx, c, msg)
	if !ok {
		return
	}

	var p models.VideoChangedPayload
	if err := msg.Decode(&p); err != nil || p.VideoID == "" {
		s.sendError(c, room.ID, CodeBadMessage, "videoId required")
		return
	}

	s.relay(c, room, models.EventVideoChanged, p)
}

// handleRelay forwards advisory events from any member unchanged
func (s *Service) handleRelay(ctx context.Context, c *Client, msg models.WSMessage) {
	room, ok := s.memberRoom(ctx, c, msg)
	if !ok {
		return
	}

	out := models.WSMessage{
		Type:    msg.Type,
		RoomID:  room.ID,
		From:    c.UserID.String(),
		Content: msg.Content,
	}
	s.Broadcast(room, out, c)
}

func (s *Service) relay(c *Client, room *Room, msgType string, payload interface{}) {
	out, err := models.NewWSMessage(msgType, room.ID, payload)
	if err != nil {
		s.sendError(c, room.ID, CodeInternal, "could not encode event")
		return
	}
	out.From = c.UserID.String()
	s.Broadcast(room, out, c)
}

// memberRoom returns c's room after the rate limit check
func (s *Service) memberRoom(ctx context.Context, c *Client, msg models.WSMessage) (*Room, bool) {
	room := c.currentRoom()
	if room == nil {
		s.sendError(c, msg.RoomID, CodeNotInRoom, ErrNotInRoom.Error())
		return nil, false
	}

	if s.limiter != nil {
		if err := s.limiter.CheckRoomEvent(ctx, c.UserID.String()); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				s.sendError(c, room.ID, CodeRateLimited, "too many events")
			} else {
				s.sendError(c, room.ID, CodeInternal, "rate limit check failed")
			}
			return nil, false
		}
	}
	return room, true
}

// hostRoom is memberRoom restricted to the room host
func (s *Service) hostRoom(ctx context.Context, c *Client, msg models.WSMessage) (*Room, bool) {
	room := c.currentRoom()
	if room == nil {
		s.sendError(c, msg.RoomID, CodeNotInRoom, ErrNotInRoom.Error())
		return nil, false
	}
	if room.HostID != c.UserID {
		s.log.Info("Rejected host-only event",
			zap.String("type", msg.Type), zap.String("user", c.UserID.String()), zap.String("room", room.ID))
		s.sendError(c, room.ID, CodeNotHost, "only the room host can send "+msg.Type)
		return nil, false
	}
	return s.memberRoom(ctx, c, msg)
}
