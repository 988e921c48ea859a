// Package rooms owns room lifecycle and membership edges
package rooms

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/db"
	"gitlab.com/secp/services/syncroom/internal/logger"
	"gitlab.com/secp/services/syncroom/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotHost      = errors.New("only the room host can do this")
	ErrInvalidName  = errors.New("invalid room name")
	ErrInvalidTheme = errors.New("invalid theme")
)

const maxThemeLength = 64

type Service struct {
	db  *db.DB
	log *zap.Logger
}

func NewService(database *db.DB, log *zap.Logger) *Service {
	return &Service{db: database, log: logger.OrNop(log).Named("rooms")}
}

const roomColumns = `id, name, host_id, current_index, theme, created_at, updated_at`

func scanRoom(row interface{ Scan(...interface{}) error }, room *models.Room) error {
	return row.Scan(
		&room.ID, &room.Name, &room.HostID, &room.CurrentIndex,
		&room.Theme, &room.CreatedAt, &room.UpdatedAt,
	)
}

// Create creates a room owned by hostID. The host is also its first member.
func (s *Service) Create(ctx context.Context, hostID uuid.UUID, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return nil, ErrInvalidName
	}

	now := time.Now().UTC()
	room := &models.Room{
		ID:           uuid.New(),
		Name:         name,
		HostID:       hostID,
		CurrentIndex: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO rooms (id, name, host_id, current_index, theme, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), room.ID, room.Name, room.HostID, room.CurrentIndex, room.Theme, room.CreatedAt, room.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "failed to insert room")
		}

		return s.insertMember(ctx, tx, room.ID, hostID, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Room created", zap.String("room", room.ID.String()), zap.String("host", hostID.String()))
	return room, nil
}

// Get returns the room or ErrRoomNotFound
func (s *Service) Get(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	return s.get(ctx, s.db.SQL, roomID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Service) get(ctx context.Context, q queryer, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	err := scanRoom(q.QueryRowContext(ctx, s.db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE id = ?`), roomID), &room)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query room")
	}
	return &room, nil
}

// HostOf returns the host identity of a room
func (s *Service) HostOf(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error) {
	var hostID uuid.UUID
	err := s.db.SQL.QueryRowContext(ctx, s.db.Rebind(`SELECT host_id FROM rooms WHERE id = ?`), roomID).Scan(&hostID)
	if err == sql.ErrNoRows {
		return uuid.Nil, ErrRoomNotFound
	}
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to query room host")
	}
	return hostID, nil
}

// Delete removes a room with its queue and memberships. Host only.
func (s *Service) Delete(ctx context.Context, roomID, requester uuid.UUID) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		var hostID uuid.UUID
		err := tx.QueryRowContext(ctx,
			s.db.Rebind(`SELECT host_id FROM rooms WHERE id = ?`+s.db.ForUpdate()), roomID,
		).Scan(&hostID)
		if err == sql.ErrNoRows {
			return ErrRoomNotFound
		}
		if err != nil {
			return errors.Wrap(err, "failed to lock room")
		}
		if hostID != requester {
			return ErrNotHost
		}

		// Children first so SQLite without foreign key enforcement stays clean
		for _, q := range []string{
			`DELETE FROM queue_items WHERE room_id = ?`,
			`DELETE FROM room_members WHERE room_id = ?`,
			`DELETE FROM rooms WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.db.Rebind(q), roomID); err != nil {
				return errors.Wrap(err, "failed to delete room")
			}
		}

		s.log.Info("Room deleted", zap.String("room", roomID.String()))
		return nil
	})
}

// SetTheme persists the room's cosmetic theme. Host only.
func (s *Service) SetTheme(ctx context.Context, roomID, requester uuid.UUID, theme string) error {
	theme = strings.TrimSpace(theme)
	if len(theme) > maxThemeLength {
		return ErrInvalidTheme
	}

	hostID, err := s.HostOf(ctx, roomID)
	if err != nil {
		return err
	}
	if hostID != requester {
		return ErrNotHost
	}

	_, err = s.db.SQL.ExecContext(ctx,
		s.db.Rebind(`UPDATE rooms SET theme = ?, updated_at = ? WHERE id = ?`),
		theme, time.Now().UTC(), roomID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update theme")
	}
	return nil
}

// Join records userID as a member. Joining twice leaves one edge.
func (s *Service) Join(ctx context.Context, roomID, userID uuid.UUID) error {
	if _, err := s.HostOf(ctx, roomID); err != nil {
		return err
	}
	return s.insertMember(ctx, s.db.SQL, roomID, userID, time.Now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Service) insertMember(ctx context.Context, e execer, roomID, userID uuid.UUID, at time.Time) error {
	_, err := e.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`), roomID, userID, at)
	if err != nil {
		return errors.Wrap(err, "failed to add member")
	}
	return nil
}

// Leave removes the membership edge. Leaving when not a member is not an error.
func (s *Service) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := s.db.SQL.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`),
		roomID, userID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to remove member")
	}
	return nil
}

// IsMember reports whether userID has a membership edge in roomID
func (s *Service) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.SQL.QueryRowContext(ctx,
		s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)`),
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check membership")
	}
	return exists, nil
}

// ListMembers returns the members of a room with their profile, oldest first
func (s *Service) ListMembers(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMember, error) {
	if _, err := s.HostOf(ctx, roomID); err != nil {
		return nil, err
	}

	rows, err := s.db.SQL.QueryContext(ctx, s.db.Rebind(`
		SELECT m.room_id, m.user_id, u.display_name, u.avatar_url, m.joined_at
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.joined_at ASC, u.display_name ASC
	`), roomID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list members")
	}
	defer rows.Close()

	members := []*models.RoomMember{}
	for rows.Next() {
		var m models.RoomMember
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.DisplayName, &m.AvatarURL, &m.JoinedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan member")
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// Bundle loads the room, its host, its queue and the viewer's role from one
// consistent read
func (s *Service) Bundle(ctx context.Context, roomID, viewer uuid.UUID) (*models.RoomBundle, error) {
	tx, err := s.db.SQL.BeginTx(ctx, s.db.SnapshotTxOptions())
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin read")
	}
	defer tx.Rollback()

	room, err := s.get(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}

	host := &models.User{}
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, username, display_name, avatar_url, is_anonymous, created_at, updated_at
		FROM users WHERE id = ?
	`), room.HostID).Scan(
		&host.ID, &host.Username, &host.DisplayName, &host.AvatarURL,
		&host.IsAnonymous, &host.CreatedAt, &host.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load host")
	}

	rows, err := tx.QueryContext(ctx, s.db.Rebind(`
		SELECT `+ItemColumns+` FROM queue_items WHERE room_id = ? ORDER BY item_order ASC
	`), roomID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load queue")
	}
	items, err := ScanItems(rows)
	if err != nil {
		return nil, err
	}

	role := models.RoleGuest
	if room.HostID == viewer {
		role = models.RoleHost
	} else {
		var member bool
		err := tx.QueryRowContext(ctx,
			s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)`),
			roomID, viewer,
		).Scan(&member)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check membership")
		}
		if member {
			role = models.RoleMember
		}
	}

	return &models.RoomBundle{
		Room:         room,
		Host:         host,
		Queue:        items,
		CurrentIndex: room.CurrentIndex,
		Role:         role,
	}, nil
}

// ItemColumns is the column list matching ScanItems
const ItemColumns = `id, room_id, track_id, title, thumbnail, duration_seconds, item_order, added_by, created_at`

// ScanItems reads queue items from rows and closes them
func ScanItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	defer rows.Close()

	items := []*models.QueueItem{}
	for rows.Next() {
		var item models.QueueItem
		if err := rows.Scan(
			&item.ID, &item.RoomID, &item.TrackID, &item.Title, &item.Thumbnail,
			&item.DurationSeconds, &item.Order, &item.AddedBy, &item.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan queue item")
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read queue items")
	}
	return items, nil
}
