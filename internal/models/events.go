package models

import (
	"encoding/json"
)

// Real-time event types exchanged over the room websocket
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventPresenceJoin = "presence-join"
	EventRoomPresence = "room-presence"
	EventSyncPing     = "sync-ping"
	EventSyncPong     = "sync-pong"
	EventSyncCommand  = "sync-command"
	EventChangeVideo  = "change-video"
	EventVideoChanged = "video-changed"
	EventQueueUpdated = "queue-updated"
	EventQueueRemoved = "queue-removed"
	EventThemeChanged = "theme-changed"
	EventRoomClosed   = "room-closed"
	EventError        = "error"
)

// Playback commands carried by a sync-command
const (
	CommandPlay  = "play"
	CommandPause = "pause"
)

// WSMessage is the envelope of every websocket frame
type WSMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// NewWSMessage builds an envelope with content marshaled from payload
func NewWSMessage(msgType, roomID string, payload interface{}) (WSMessage, error) {
	msg := WSMessage{Type: msgType, RoomID: roomID}
	if payload == nil {
		return msg, nil
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return msg, err
	}
	msg.Content = content
	return msg, nil
}

// Decode unmarshals the envelope content into v
func (m WSMessage) Decode(v interface{}) error {
	if len(m.Content) == 0 {
		return nil
	}
	return json.Unmarshal(m.Content, v)
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

type PresenceJoinPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type RoomPresencePayload struct {
	RoomID  string          `json:"roomId"`
	Members []PresenceEntry `json:"members"`
}

type SyncPingPayload struct {
	T0 int64 `json:"t0"`
}

type SyncPongPayload struct {
	T0       int64 `json:"t0"`
	ServerTs int64 `json:"serverTs"`
}

// SyncCommand is a scheduled transport command. Timestamp is server time in
// milliseconds, SeekTime is the media position in seconds.
type SyncCommand struct {
	Cmd       string  `json:"cmd"`
	Timestamp int64   `json:"timestamp"`
	SeekTime  float64 `json:"seekTime"`
}

type VideoChangedPayload struct {
	VideoID string `json:"videoId"`
}

type QueueUpdatedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type QueueRemovedPayload struct {
	ItemID          string `json:"itemId"`
	DeletedOrder    int    `json:"deletedOrder"`
	NewCurrentIndex int    `json:"newCurrentIndex"`
}

type ThemeChangedPayload struct {
	Theme string `json:"theme"`
}

type RoomClosedPayload struct {
	RoomID string `json:"roomId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
