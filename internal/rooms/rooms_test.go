package rooms_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/secp/services/syncroom/internal/auth"
	"gitlab.com/secp/services/syncroom/internal/db/dbtest"
	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/queue"
	"gitlab.com/secp/services/syncroom/internal/rooms"
)

type env struct {
	rooms *rooms.Service
	queue *queue.Service
	users *auth.Service
}

func newEnv(t *testing.T) *env {
	database := dbtest.New(t)
	return &env{
		rooms: rooms.NewService(database, nil),
		queue: queue.NewService(database, nil, nil),
		users: auth.NewService(database, "rooms-test-secret-123", time.Hour),
	}
}

func (e *env) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.users.CreateAnonymousUser(context.Background(), name)
	require.NoError(t, err)
	return u
}

func TestCreateRoom(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.user(t, "Host")

	_, err := e.rooms.Create(ctx, host.ID, "   ")
	assert.True(t, errors.Is(err, rooms.ErrInvalidName))

	room, err := e.rooms.Create(ctx, host.ID, "  Friday night  ")
	require.NoError(t, err)
	assert.Equal(t, "Friday night", room.Name)
	assert.Equal(t, 0, room.CurrentIndex)

	got, err := e.rooms.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, host.ID, got.HostID)

	hostID, err := e.rooms.HostOf(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, host.ID, hostID)

	member, err := e.rooms.IsMember(ctx, room.ID, host.ID)
	require.NoError(t, err)
	assert.True(t, member, "host is the first member")

	_, err = e.rooms.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, rooms.ErrRoomNotFound))
}

func TestJoinLeaveIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.user(t, "Host")
	guest := e.user(t, "Guest")

	room, err := e.rooms.Create(ctx, host.ID, "room")
	require.NoError(t, err)

	require.NoError(t, e.rooms.Join(ctx, room.ID, guest.ID))
	require.NoError(t, e.rooms.Join(ctx, room.ID, guest.ID))

	members, err := e.rooms.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, host.ID, members[0].UserID)
	assert.Equal(t, "Guest", members[1].DisplayName)

	require.NoError(t, e.rooms.Leave(ctx, room.ID, guest.ID))
	require.NoError(t, e.rooms.Leave(ctx, room.ID, guest.ID))

	members, err = e.rooms.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	assert.True(t, errors.Is(e.rooms.Join(ctx, uuid.New(), guest.ID), rooms.ErrRoomNotFound))
	_, err = e.rooms.ListMembers(ctx, uuid.New())
	assert.True(t, errors.Is(err, rooms.ErrRoomNotFound))
}

func TestBundle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.user(t, "Host")
	member := e.user(t, "Member")
	stranger := e.user(t, "Stranger")

	room, err := e.rooms.Create(ctx, host.ID, "room")
	require.NoError(t, err)
	require.NoError(t, e.rooms.Join(ctx, room.ID, member.ID))

	for _, track := range []string{"a", "b", "c"} {
		_, err := e.queue.Append(ctx, room.ID, member.ID, queue.AppendInput{TrackID: track})
		require.NoError(t, err)
	}
	require.NoError(t, e.queue.SetCurrentIndex(ctx, room.ID, host.ID, 1))

	tests := []struct {
		viewer uuid.UUID
		role   string
	}{
		{host.ID, models.RoleHost},
		{member.ID, models.RoleMember},
		{stranger.ID, models.RoleGuest},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			b, err := e.rooms.Bundle(ctx, room.ID, tt.viewer)
			require.NoError(t, err)
			assert.Equal(t, tt.role, b.Role)
			assert.Equal(t, room.ID, b.Room.ID)
			assert.Equal(t, host.ID, b.Host.ID)
			assert.Equal(t, "Host", b.Host.DisplayName)
			assert.Equal(t, 1, b.CurrentIndex)
			require.Len(t, b.Queue, 3)
			for i, item := range b.Queue {
				assert.Equal(t, i, item.Order)
			}
			assert.Equal(t, "c", b.Queue[2].TrackID)
		})
	}

	_, err = e.rooms.Bundle(ctx, uuid.New(), host.ID)
	assert.True(t, errors.Is(err, rooms.ErrRoomNotFound))
}

func TestSetTheme(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.user(t, "Host")
	guest := e.user(t, "Guest")

	room, err := e.rooms.Create(ctx, host.ID, "room")
	require.NoError(t, err)

	assert.True(t, errors.Is(e.rooms.SetTheme(ctx, room.ID, guest.ID, "neon"), rooms.ErrNotHost))
	assert.True(t, errors.Is(e.rooms.SetTheme(ctx, room.ID, host.ID, strings.Repeat("x", 65)), rooms.ErrInvalidTheme))
	require.NoError(t, e.rooms.SetTheme(ctx, room.ID, host.ID, "neon"))

	got, err := e.rooms.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "neon", got.Theme)
}

func TestDeleteRoom(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	host := e.user(t, "Host")
	guest := e.user(t, "Guest")

	room, err := e.rooms.Create(ctx, host.ID, "room")
	require.NoError(t, err)
	require.NoError(t, e.rooms.Join(ctx, room.ID, guest.ID))
	_, err = e.queue.Append(ctx, room.ID, guest.ID, queue.AppendInput{TrackID: "a"})
	require.NoError(t, err)

	assert.True(t, errors.Is(e.rooms.Delete(ctx, room.ID, guest.ID), rooms.ErrNotHost))
	require.NoError(t, e.rooms.Delete(ctx, room.ID, host.ID))

	_, err = e.rooms.Get(ctx, room.ID)
	assert.True(t, errors.Is(err, rooms.ErrRoomNotFound))
	assert.True(t, errors.Is(e.rooms.Delete(ctx, room.ID, host.ID), rooms.ErrRoomNotFound))

	_, err = e.queue.List(ctx, room.ID)
	assert.True(t, errors.Is(err, rooms.ErrRoomNotFound))
}
