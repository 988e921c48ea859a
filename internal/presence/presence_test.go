package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/secp/services/syncroom/internal/models"
)

func entry(id, name string) models.PresenceEntry {
	return models.PresenceEntry{UserID: id, Name: name}
}

func names(snap []models.PresenceEntry) []string {
	out := make([]string, len(snap))
	for i, e := range snap {
		out[i] = e.Name
	}
	return out
}

func TestJoinLeaveSnapshots(t *testing.T) {
	tr := NewTracker(true)

	snap := tr.Join("r1", "c1", entry("u1", "zoe"))
	assert.Equal(t, []string{"zoe"}, names(snap))

	snap = tr.Join("r1", "c2", entry("u2", "adam"))
	assert.Equal(t, []string{"adam", "zoe"}, names(snap))

	// Other rooms are independent
	assert.Len(t, tr.Join("r2", "c3", entry("u3", "bob")), 1)
	assert.Equal(t, 2, tr.Rooms())

	snap = tr.Leave("r1", "c1")
	assert.Equal(t, []string{"adam"}, names(snap))

	snap = tr.Leave("r1", "c1")
	assert.Equal(t, []string{"adam"}, names(snap), "second leave changes nothing")

	assert.Empty(t, tr.Leave("r1", "c2"))
	assert.Equal(t, 1, tr.Rooms())
}

func TestRejoinReplacesEntry(t *testing.T) {
	tr := NewTracker(false)
	tr.Join("r", "c1", entry("u1", "old"))
	snap := tr.Join("r", "c1", entry("u1", "new"))
	require.Len(t, snap, 1)
	assert.Equal(t, "new", snap[0].Name)
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name   string
		dedupe bool
		want   int
	}{
		{"dedupe by identity", true, 2},
		{"every connection", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.dedupe)
			tr.Join("r", "tab1", entry("u1", "alice"))
			tr.Join("r", "tab2", entry("u1", "alice"))
			snap := tr.Join("r", "c3", entry("u2", "bob"))
			assert.Len(t, snap, tt.want)

			// Closing one tab keeps a user with another tab open
			snap = tr.Leave("r", "tab1")
			assert.Contains(t, names(snap), "alice")
		})
	}
}

func TestOrderingTieBreaksOnUserID(t *testing.T) {
	tr := NewTracker(true)
	tr.Join("r", "c1", entry("u9", "sam"))
	tr.Join("r", "c2", entry("u1", "sam"))
	snap := tr.Snapshot("r")
	require.Len(t, snap, 2)
	assert.Equal(t, "u1", snap[0].UserID)
	assert.Equal(t, "u9", snap[1].UserID)
}

func TestUpdate(t *testing.T) {
	tr := NewTracker(true)
	tr.Join("r", "c1", entry("u1", "guest"))

	snap, ok := tr.Update("r", "c1", "alice", "https://a/1.png")
	require.True(t, ok)
	assert.Equal(t, "alice", snap[0].Name)
	assert.Equal(t, "https://a/1.png", snap[0].Avatar)

	_, ok = tr.Update("r", "missing", "x", "")
	assert.False(t, ok)
}

func TestDrop(t *testing.T) {
	tr := NewTracker(true)
	tr.Join("r", "c1", entry("u1", "a"))
	tr.Drop("r")
	assert.Empty(t, tr.Snapshot("r"))
	assert.Equal(t, 0, tr.Rooms())
}

func TestConcurrentJoinLeave(t *testing.T) {
	tr := NewTracker(false)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := string(rune('a' + i%26))
			tr.Join("r", conn+"-x", entry(conn, conn))
			tr.Snapshot("r")
			tr.Leave("r", conn+"-x")
		}(i)
	}
	wg.Wait()
	assert.Empty(t, tr.Snapshot("r"))
}
