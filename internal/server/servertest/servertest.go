// Package servertest runs the whole room service against a throwaway SQLite
// database for tests
package servertest

import (
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/auth"
	"gitlab.com/secp/services/syncroom/internal/db"
	"gitlab.com/secp/services/syncroom/internal/db/dbtest"
	"gitlab.com/secp/services/syncroom/internal/hub"
	"gitlab.com/secp/services/syncroom/internal/presence"
	"gitlab.com/secp/services/syncroom/internal/queue"
	"gitlab.com/secp/services/syncroom/internal/ratelimit"
	"gitlab.com/secp/services/syncroom/internal/rooms"
	"gitlab.com/secp/services/syncroom/internal/server"
	"gitlab.com/secp/services/syncroom/internal/tracks"
)

const Secret = "test-secret-0123456789"

type Env struct {
	URL   string
	DB    *db.DB
	Auth  *auth.Service
	Rooms *rooms.Service
	Queue *queue.Service
	Hub   *hub.Service
}

// New starts a server with no Redis, no object storage and a static track
// resolver. It is shut down on cleanup.
func New(t testing.TB) *Env {
	t.Helper()

	// Websocket goroutines may outlive the test, so zaptest is not safe here
	log := zap.NewNop()
	database := dbtest.New(t)

	authService := auth.NewService(database, Secret, time.Hour)
	roomService := rooms.NewService(database, log)
	queueService := queue.NewService(database, tracks.Static{}, log)
	limiter := ratelimit.NewLimiter(nil, ratelimit.DefaultLimits(), log)
	hubService := hub.NewService(roomService, presence.NewTracker(true), limiter, log)

	srv := server.New(server.Deps{
		DB:      database,
		Auth:    authService,
		Rooms:   roomService,
		Queue:   queueService,
		Hub:     hubService,
		Limiter: limiter,
		Origins: []string{"*"},
		Log:     log,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &Env{
		URL:   ts.URL,
		DB:    database,
		Auth:  authService,
		Rooms: roomService,
		Queue: queueService,
		Hub:   hubService,
	}
}
