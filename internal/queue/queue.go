// Package queue serializes queue mutations against the durable store and
// keeps order values dense and the current index in range
package queue

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
	"gitlab.com/secp/services/syncroom/internal/rooms"
	"gitlab.com/secp/services/syncroom/internal/tracks"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrInvalidIndex = errors.New("invalid queue index")
	ErrInvalidTrack = errors.New("invalid track")
)

type Service struct {
	db     *db.DB
	tracks tracks.Resolver
	log    *zap.Logger
}

// NewService creates the queue service. resolver may be nil.
func NewService(database *db.DB, resolver tracks.Resolver, log *zap.Logger) *Service {
	return &Service{
		db:     database,
		tracks: resolver,
		log:    logger.OrNop(log).Named("queue"),
	}
}

// AppendInput is a track to add to the end of a queue
type AppendInput struct {
	TrackID         string `json:"track_id"`
	Title           string `json:"title"`
	Thumbnail       string `json:"thumbnail"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type roomLock struct {
	hostID uuid.UUID
	cursor int
}

// lockRoom takes the room row lock that serializes all queue mutations of
// a room for the rest of tx
func (s *Service) lockRoom(ctx context.Context, tx *sql.Tx, roomID uuid.UUID) (*roomLock, error) {
	var l roomLock
	err := tx.QueryRowContext(ctx,
		s.db.Rebind(`SELECT host_id, current_index FROM rooms WHERE id = ?`+s.db.ForUpdate()),
		roomID,
	).Scan(&l.hostID, &l.cursor)
	if err == sql.ErrNoRows {
		return nil, rooms.ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock room")
	}
	return &l, nil
}

func (s *Service) count(ctx context.Context, tx *sql.Tx, roomID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		s.db.Rebind(`SELECT COUNT(*) FROM queue_items WHERE room_id = ?`), roomID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count queue")
	}
	return n, nil
}

func (s *Service) item(ctx context.Context, tx *sql.Tx, roomID, itemID uuid.UUID) (*models.QueueItem, error) {
	rows, err := tx.QueryContext(ctx,
		s.db.Rebind(`SELECT `+rooms.ItemColumns+` FROM queue_items WHERE id = ? AND room_id = ?`),
		itemID, roomID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query queue item")
	}
	items, err := rooms.ScanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrItemNotFound
	}
	return items[0], nil
}

func (s *Service) setCursor(ctx context.Context, tx *sql.Tx, roomID uuid.UUID, cursor int) error {
	_, err := tx.ExecContext(ctx,
		s.db.Rebind(`UPDATE rooms SET current_index = ?, updated_at = ? WHERE id = ?`),
		cursor, time.Now().UTC(), roomID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update current index")
	}
	return nil
}

// Append adds a track at order = current count. Existing items never move.
func (s *Service) Append(ctx context.Context, roomID, addedBy uuid.UUID, in AppendInput) (*models.QueueItem, error) {
	in.TrackID = strings.TrimSpace(in.TrackID)
	if in.TrackID == "" || len(in.TrackID) > 255 {
		return nil, ErrInvalidTrack
	}

	s.enrich(ctx, &in)

	item := &models.QueueItem{
		ID:              uuid.New(),
		RoomID:          roomID,
		TrackID:         in.TrackID,
		Title:           in.Title,
		Thumbnail:       in.Thumbnail,
		DurationSeconds: in.DurationSeconds,
		AddedBy:         addedBy,
		CreatedAt:       time.Now().UTC(),
	}

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.lockRoom(ctx, tx, roomID); err != nil {
			return err
		}

		n, err := s.count(ctx, tx, roomID)
		if err != nil {
			return err
		}
		item.Order = n

		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO queue_items (id, room_id, track_id, title, thumbnail, duration_seconds, item_order, added_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), item.ID, item.RoomID, item.TrackID, item.Title, item.Thumbnail,
			item.DurationSeconds, item.Order, item.AddedBy, item.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "failed to insert queue item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Queue item appended",
		zap.String("room", roomID.String()), zap.String("track", item.TrackID), zap.Int("order", item.Order))
	return item, nil
}

// enrich fills missing metadata from the track resolver. Lookup failures
// leave the caller's values in place.
func (s *Service) enrich(ctx context.Context, in *AppendInput) {
	if s.tracks != nil && (in.Title == "" || in.Thumbnail == "" || in.DurationSeconds == 0) {
		info, err := s.tracks.Lookup(ctx, in.TrackID)
		if err != nil {
			s.log.Debug("Track lookup failed", zap.String("track", in.TrackID), zap.Error(err))
		} else {
			if in.Title == "" {
				in.Title = info.Title
			}
			if in.Thumbnail == "" {
				in.Thumbnail = info.Thumbnail
			}
			if in.DurationSeconds == 0 {
				in.DurationSeconds = info.DurationSeconds
			}
		}
	}
	if in.Title == "" {
		in.Title = in.TrackID
	}
}

// Remove deletes an item, closes the gap it leaves and recomputes the
// current index, all in one transaction
func (s *Service) Remove(ctx context.Context, roomID, itemID uuid.UUID) (*models.RemoveResult, error) {
	var result *models.RemoveResult

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		lock, err := s.lockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}

		item, err := s.item(ctx, tx, roomID, itemID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.db.Rebind(`DELETE FROM queue_items WHERE id = ?`), itemID,
		); err != nil {
			return errors.Wrap(err, "failed to delete queue item")
		}

		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE queue_items SET item_order = item_order - 1
			WHERE room_id = ? AND item_order > ?
		`), roomID, item.Order); err != nil {
			return errors.Wrap(err, "failed to reindex queue")
		}

		remaining, err := s.count(ctx, tx, roomID)
		if err != nil {
			return err
		}

		newCursor := CursorAfterRemove(lock.cursor, item.Order, remaining)
		if err := s.setCursor(ctx, tx, roomID, newCursor); err != nil {
			return err
		}

		result = &models.RemoveResult{
			Item:         item,
			DeletedOrder: item.Order,
			OldIndex:     lock.cursor,
			NewIndex:     newCursor,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("Queue item removed",
		zap.String("room", roomID.String()),
		zap.Int("order", result.DeletedOrder),
		zap.Int("old_index", result.OldIndex),
		zap.Int("new_index", result.NewIndex))
	return result, nil
}

// SetCurrentIndex moves the cursor. Only the host may do this, and index
// must point at an existing item (or be 0 for an empty queue).
func (s *Service) SetCurrentIndex(ctx context.Context, roomID, requester uuid.UUID, index int) error {
	if index < 0 {
		return ErrInvalidIndex
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		lock, err := s.lockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if lock.hostID != requester {
			return rooms.ErrNotHost
		}

		n, err := s.count(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if (n == 0 && index != 0) || (n > 0 && index >= n) {
			return ErrInvalidIndex
		}

		return s.setCursor(ctx, tx, roomID, index)
	})
}

// Move reorders an item to newOrder. Orders stay dense and the cursor keeps
// pointing at the item that was current.
func (s *Service) Move(ctx context.Context, roomID, itemID uuid.UUID, newOrder int) (*models.MoveResult, error) {
	var result *models.MoveResult

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		lock, err := s.lockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}

		item, err := s.item(ctx, tx, roomID, itemID)
		if err != nil {
			return err
		}

		n, err := s.count(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if newOrder < 0 || newOrder >= n {
			return ErrInvalidIndex
		}

		from := item.Order
		result = &models.MoveResult{
			Item:     item,
			OldOrder: from,
			NewOrder: newOrder,
			OldIndex: lock.cursor,
			NewIndex: lock.cursor,
		}
		if from == newOrder {
			return nil
		}

		var shift string
		var lo, hi int
		if from < newOrder {
			shift, lo, hi = "item_order - 1", from+1, newOrder
		} else {
			shift, lo, hi = "item_order + 1", newOrder, from-1
		}

		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			UPDATE queue_items SET item_order = `+shift+`
			WHERE room_id = ? AND item_order >= ? AND item_order <= ? AND id <> ?
		`), roomID, lo, hi, itemID); err != nil {
			return errors.Wrap(err, "failed to shift queue items")
		}

		if _, err := tx.ExecContext(ctx,
			s.db.Rebind(`UPDATE queue_items SET item_order = ? WHERE id = ?`), newOrder, itemID,
		); err != nil {
			return errors.Wrap(err, "failed to move queue item")
		}

		newCursor := ClampCursor(CursorAfterMove(lock.cursor, from, newOrder), n)
		if newCursor != lock.cursor {
			if err := s.setCursor(ctx, tx, roomID, newCursor); err != nil {
				return err
			}
		}

		item.Order = newOrder
		result.NewIndex = newCursor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns the queue in order together with the current index
func (s *Service) List(ctx context.Context, roomID uuid.UUID) (*models.QueueSnapshot, error) {
	tx, err := s.db.SQL.BeginTx(ctx, s.db.SnapshotTxOptions())
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin read")
	}
	defer tx.Rollback()

	snap := &models.QueueSnapshot{RoomID: roomID}
	err = tx.QueryRowContext(ctx,
		s.db.Rebind(`SELECT current_index FROM rooms WHERE id = ?`), roomID,
	).Scan(&snap.CurrentIndex)
	if err == sql.ErrNoRows {
		return nil, rooms.ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query room")
	}

	rows, err := tx.QueryContext(ctx,
		s.db.Rebind(`SELECT `+rooms.ItemColumns+` FROM queue_items WHERE room_id = ? ORDER BY item_order ASC`),
		roomID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queue")
	}
	snap.Items, err = rooms.ScanItems(rows)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
