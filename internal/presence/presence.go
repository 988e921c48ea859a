// Package presence tracks who is live in each room. State is memory only and
// rebuilt from reconnecting clients after a restart.
package presence

import (
	"sort"
	"sync"

	"gitlab.com/secp/services/syncroom/internal/models"
)

// Tracker holds presence entries per room keyed by connection id
type Tracker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]models.PresenceEntry
	dedupe bool
}

// NewTracker creates a tracker. With dedupe, a user connected from several
// tabs appears once in snapshots.
func NewTracker(dedupe bool) *Tracker {
	return &Tracker{
		rooms:  make(map[string]map[string]models.PresenceEntry),
		dedupe: dedupe,
	}
}

// Join registers connID in roomID and returns the room snapshot. Joining
// again with the same connection replaces the entry.
func (t *Tracker) Join(roomID, connID string, entry models.PresenceEntry) []models.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		room = make(map[string]models.PresenceEntry)
		t.rooms[roomID] = room
	}
	room[connID] = entry
	return t.snapshotLocked(roomID)
}

// Update changes the display fields of an existing connection. ok is false
// when connID is not present in roomID.
func (t *Tracker) Update(roomID, connID, name, avatar string) (snapshot []models.PresenceEntry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.rooms[roomID][connID]
	if !ok {
		return nil, false
	}
	if name != "" {
		entry.Name = name
	}
	entry.Avatar = avatar
	t.rooms[roomID][connID] = entry
	return t.snapshotLocked(roomID), true
}

// Leave removes connID from roomID and returns the remaining snapshot.
// Leaving twice is harmless.
func (t *Tracker) Leave(roomID, connID string) []models.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if room, ok := t.rooms[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return t.snapshotLocked(roomID)
}

// Snapshot returns the current members of roomID
func (t *Tracker) Snapshot(roomID string) []models.PresenceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(roomID)
}

// Drop forgets a room entirely
func (t *Tracker) Drop(roomID string) {
	t.mu.Lock()
	delete(t.rooms, roomID)
	t.mu.Unlock()
}

// Rooms returns the number of rooms with at least one connection
func (t *Tracker) Rooms() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

func (t *Tracker) snapshotLocked(roomID string) []models.PresenceEntry {
	room := t.rooms[roomID]
	out := make([]models.PresenceEntry, 0, len(room))

	if t.dedupe {
		seen := make(map[string]bool, len(room))
		// Iterate connection ids in order so the kept entry is stable
		connIDs := make([]string, 0, len(room))
		for id := range room {
			connIDs = append(connIDs, id)
		}
		sort.Strings(connIDs)
		for _, id := range connIDs {
			e := room[id]
			if seen[e.UserID] {
				continue
			}
			seen[e.UserID] = true
			out = append(out, e)
		}
	} else {
		for _, e := range room {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
