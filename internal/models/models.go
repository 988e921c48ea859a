package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user in the system
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email,omitempty"`
	PasswordHash *string   `json:"-"` // Never serialize
	DisplayName  string    `json:"display_name"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	IsAnonymous  bool      `json:"is_anonymous"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Room is a shared listening room with one host and an ordered queue
type Room struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	HostID       uuid.UUID `json:"host_id"`
	CurrentIndex int       `json:"current_index"`
	Theme        string    `json:"theme"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// QueueItem is one entry of a room queue. Order is dense and zero-based.
type QueueItem struct {
	ID              uuid.UUID `json:"id"`
	RoomID          uuid.UUID `json:"room_id"`
	TrackID         string    `json:"track_id"` // external track (video) id
	Title           string    `json:"title"`
	Thumbnail       string    `json:"thumbnail"`
	DurationSeconds int64     `json:"duration_seconds,omitempty"`
	Order           int       `json:"order"`
	AddedBy         uuid.UUID `json:"added_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// RoomMember is a membership edge between a user and a room
type RoomMember struct {
	RoomID      uuid.UUID `json:"room_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Viewer roles returned in a room bundle
const (
	RoleHost   = "host"
	RoleMember = "member"
	RoleGuest  = "guest"
)

// RoomBundle is everything a client needs to render a room in one round trip
type RoomBundle struct {
	Room         *Room        `json:"room"`
	Host         *User        `json:"host"`
	Queue        []*QueueItem `json:"queue"`
	CurrentIndex int          `json:"current_index"`
	Role         string       `json:"role"`
}

// QueueSnapshot is the canonical queue state of a room at one instant
type QueueSnapshot struct {
	RoomID       uuid.UUID    `json:"room_id"`
	Items        []*QueueItem `json:"items"`
	CurrentIndex int          `json:"current_index"`
}

// RemoveResult describes the outcome of a queue removal
type RemoveResult struct {
	Item         *QueueItem `json:"item"`
	DeletedOrder int        `json:"deleted_order"`
	OldIndex     int        `json:"old_index"`
	NewIndex     int        `json:"new_index"`
}

// CurrentChanged reports whether the removal changed which item is current,
// in which case the caller should announce the new track.
func (r *RemoveResult) CurrentChanged() bool {
	return r.DeletedOrder == r.OldIndex
}

// MoveResult describes the outcome of a queue reorder
type MoveResult struct {
	Item     *QueueItem `json:"item"`
	OldOrder int        `json:"old_order"`
	NewOrder int        `json:"new_order"`
	OldIndex int        `json:"old_index"`
	NewIndex int        `json:"new_index"`
}

// PresenceEntry is one live participant shown in a room
type PresenceEntry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// UploadRequest for requesting a thumbnail upload URL
type UploadRequest struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

// UploadResponse contains pre-signed upload URL
type UploadResponse struct {
	UploadURL    string    `json:"upload_url"`
	ThumbnailRef string    `json:"thumbnail_ref"`
	ExpiresAt    time.Time `json:"expires_at"`
}
