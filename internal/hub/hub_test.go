package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/presence"
	"gitlab.com/secp/services/syncroom/internal/ratelimit"
	"gitlab.com/secp/services/syncroom/internal/rooms"
)

type fakeDirectory map[uuid.UUID]uuid.UUID

func (d fakeDirectory) HostOf(_ context.Context, roomID uuid.UUID) (uuid.UUID, error) {
	host, ok := d[roomID]
	if !ok {
		return uuid.Nil, rooms.ErrRoomNotFound
	}
	return host, nil
}

type denyAll struct{}

func (denyAll) CheckRoomEvent(context.Context, string) error { return ratelimit.ErrRateLimited }

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type testHub struct {
	svc *Service
	srv *httptest.Server
}

func newTestHub(t *testing.T, dir Directory, limiter Limiter) *testHub {
	t.Helper()
	svc := NewService(dir, presence.NewTracker(true), limiter, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := svc.NewClient(conn, &models.User{ID: userID, DisplayName: r.URL.Query().Get("name")})
		go svc.WritePump(client)
		svc.ReadPump(context.Background(), client)
	}))
	t.Cleanup(srv.Close)

	return &testHub{svc: svc, srv: srv}
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
	id   uuid.UUID
}

func (h *testHub) dial(t *testing.T, userID uuid.UUID, name string) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?user=" + userID.String() + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn, id: userID}
}

func (p *peer) emit(msgType string, payload interface{}) {
	p.t.Helper()
	msg, err := models.NewWSMessage(msgType, "", payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

// next reads frames until one of type msgType arrives. Frames of other
// types are returned in skipped.
func (p *peer) next(msgType string) (models.WSMessage, []string) {
	p.t.Helper()
	var skipped []string
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := p.conn.ReadMessage()
		require.NoError(p.t, err, "waiting for %s", msgType)
		var msg models.WSMessage
		require.NoError(p.t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg, skipped
		}
		skipped = append(skipped, msg.Type)
	}
}

// sync round-trips a ping so every frame queued for p before it is read
func (p *peer) sync() []string {
	p.t.Helper()
	p.emit(models.EventSyncPing, models.SyncPingPayload{T0: 1})
	_, skipped := p.next(models.EventSyncPong)
	return skipped
}

func (p *peer) join(roomID uuid.UUID, wantMembers int) models.RoomPresencePayload {
	p.t.Helper()
	p.emit(models.EventJoinRoom, models.JoinRoomPayload{RoomID: roomID.String()})
	return p.presenceWith(wantMembers)
}

func (p *peer) presenceWith(n int) models.RoomPresencePayload {
	p.t.Helper()
	for {
		msg, _ := p.next(models.EventRoomPresence)
		var payload models.RoomPresencePayload
		require.NoError(p.t, msg.Decode(&payload))
		if len(payload.Members) == n {
			return payload
		}
	}
}

func setup(t *testing.T, limiter Limiter) (h *testHub, roomID uuid.UUID, host, guest *peer) {
	t.Helper()
	hostID, guestID := uuid.New(), uuid.New()
	roomID = uuid.New()
	h = newTestHub(t, fakeDirectory{roomID: hostID}, limiter)

	host = h.dial(t, hostID, "host")
	guest = h.dial(t, guestID, "guest")
	host.join(roomID, 1)
	guest.join(roomID, 2)
	host.presenceWith(2)
	return h, roomID, host, guest
}

func TestPresenceSnapshots(t *testing.T) {
	h, roomID, host, guest := setup(t, nil)

	snap := h.svc.Presence(roomID.String())
	require.Len(t, snap, 2)
	assert.Equal(t, "guest", snap[0].Name)
	assert.Equal(t, "host", snap[1].Name)

	guest.emit(models.EventPresenceJoin, models.PresenceJoinPayload{RoomID: roomID.String(), Name: "alice"})
	payload := host.presenceWith(2)
	assert.Equal(t, "alice", payload.Members[0].Name)

	guest.emit(models.EventLeaveRoom, models.LeaveRoomPayload{RoomID: roomID.String()})
	payload = host.presenceWith(1)
	assert.Equal(t, host.id.String(), payload.Members[0].UserID)

	// Leaving again is harmless
	guest.emit(models.EventLeaveRoom, models.LeaveRoomPayload{RoomID: roomID.String()})
	guest.sync()
	assert.Equal(t, Stats{Rooms: 1, Connections: 1}, h.svc.Stats())
}

func TestDisconnectLeaves(t *testing.T) {
	h, _, host, guest := setup(t, nil)

	guest.conn.Close()
	host.presenceWith(1)

	host.conn.Close()
	require.Eventually(t, func() bool { return h.svc.Stats().Rooms == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestBroadcastExcludesSender(t *testing.T) {
	_, _, host, guest := setup(t, nil)

	guest.emit(models.EventQueueUpdated, models.QueueUpdatedPayload{Reason: "append"})
	msg, _ := host.next(models.EventQueueUpdated)
	assert.Equal(t, guest.id.String(), msg.From)

	skipped := guest.sync()
	assert.NotContains(t, skipped, models.EventQueueUpdated)

	host.emit(models.EventSyncCommand, models.SyncCommand{Cmd: models.CommandPlay, Timestamp: 5000, SeekTime: 12.5})
	msg, _ = guest.next(models.EventSyncCommand)
	var cmd models.SyncCommand
	require.NoError(t, msg.Decode(&cmd))
	assert.Equal(t, models.SyncCommand{Cmd: models.CommandPlay, Timestamp: 5000, SeekTime: 12.5}, cmd)
	assert.Equal(t, host.id.String(), msg.From)

	skipped = host.sync()
	assert.NotContains(t, skipped, models.EventSyncCommand)
}

func TestChangeVideoBecomesVideoChanged(t *testing.T) {
	_, _, host, guest := setup(t, nil)

	host.emit(models.EventChangeVideo, models.VideoChangedPayload{VideoID: "dQw4w9WgXcQ"})
	msg, _ := guest.next(models.EventVideoChanged)
	var p models.VideoChangedPayload
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, "dQw4w9WgXcQ", p.VideoID)
}

func TestNonHostCommandsRejected(t *testing.T) {
	_, _, host, guest := setup(t, nil)

	for _, tt := range []struct {
		event   string
		payload interface{}
	}{
		{models.EventSyncCommand, models.SyncCommand{Cmd: models.CommandPause}},
		{models.EventChangeVideo, models.VideoChangedPayload{VideoID: "dQw4w9WgXcQ"}},
	} {
		guest.emit(tt.event, tt.payload)
		msg, _ := guest.next(models.EventError)
		var e models.ErrorPayload
		require.NoError(t, msg.Decode(&e))
		assert.Equal(t, CodeNotHost, e.Code, tt.event)

		skipped := host.sync()
		assert.NotContains(t, skipped, models.EventSyncCommand)
		assert.NotContains(t, skipped, models.EventVideoChanged)
	}
}

func TestSyncPong(t *testing.T) {
	h := newTestHub(t, fakeDirectory{}, nil)
	h.svc.now = func() time.Time { return time.UnixMilli(1050) }

	p := h.dial(t, uuid.New(), "solo")
	p.emit(models.EventSyncPing, models.SyncPingPayload{T0: 1000})
	msg, _ := p.next(models.EventSyncPong)

	var pong models.SyncPongPayload
	require.NoError(t, msg.Decode(&pong))
	assert.Equal(t, int64(1000), pong.T0)
	assert.Equal(t, int64(1050), pong.ServerTs)
}

func TestJoinUnknownRoom(t *testing.T) {
	h := newTestHub(t, fakeDirectory{}, nil)
	p := h.dial(t, uuid.New(), "x")

	p.emit(models.EventJoinRoom, models.JoinRoomPayload{RoomID: uuid.New().String()})
	msg, _ := p.next(models.EventError)
	var e models.ErrorPayload
	require.NoError(t, msg.Decode(&e))
	assert.Equal(t, CodeRoomNotFound, e.Code)

	p.emit(models.EventQueueUpdated, nil)
	msg, _ = p.next(models.EventError)
	require.NoError(t, msg.Decode(&e))
	assert.Equal(t, CodeNotInRoom, e.Code)
}

func TestSwitchingRoomsLeavesPrevious(t *testing.T) {
	hostID := uuid.New()
	roomA, roomB := uuid.New(), uuid.New()
	h := newTestHub(t, fakeDirectory{roomA: hostID, roomB: hostID}, nil)

	host := h.dial(t, hostID, "host")
	walker := h.dial(t, uuid.New(), "walker")

	host.join(roomA, 1)
	walker.join(roomA, 2)
	host.presenceWith(2)

	walker.join(roomB, 1)
	host.presenceWith(1)
	assert.Equal(t, Stats{Rooms: 2, Connections: 2}, h.svc.Stats())
}

func TestCloseRoom(t *testing.T) {
	h, roomID, host, guest := setup(t, nil)

	h.svc.CloseRoom(roomID.String())
	for _, p := range []*peer{host, guest} {
		msg, _ := p.next(models.EventRoomClosed)
		var payload models.RoomClosedPayload
		require.NoError(t, msg.Decode(&payload))
		assert.Equal(t, roomID.String(), payload.RoomID)
	}
	assert.Equal(t, Stats{}, h.svc.Stats())
	assert.Empty(t, h.svc.Presence(roomID.String()))
}

func TestRateLimitedRelay(t *testing.T) {
	_, _, host, guest := setup(t, denyAll{})

	guest.emit(models.EventQueueUpdated, nil)
	msg, _ := guest.next(models.EventError)
	var e models.ErrorPayload
	require.NoError(t, msg.Decode(&e))
	assert.Equal(t, CodeRateLimited, e.Code)

	skipped := host.sync()
	assert.NotContains(t, skipped, models.EventQueueUpdated)
}

func TestMalformedFrame(t *testing.T) {
	h := newTestHub(t, fakeDirectory{}, nil)
	p := h.dial(t, uuid.New(), "x")

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg, _ := p.next(models.EventError)
	var e models.ErrorPayload
	require.NoError(t, msg.Decode(&e))
	assert.Equal(t, CodeBadMessage, e.Code)
}
