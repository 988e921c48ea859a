// Package server is the HTTP and websocket surface of the room service
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/auth"
	"gitlab.com/secp/services/syncroom/internal/db"
	"gitlab.com/secp/services/syncroom/internal/hub"
	"gitlab.com/secp/services/syncroom/internal/logger"
	"gitlab.com/secp/services/syncroom/internal/queue"
	"gitlab.com/secp/services/syncroom/internal/ratelimit"
	"gitlab.com/secp/services/syncroom/internal/rooms"
	"gitlab.com/secp/services/syncroom/internal/storage"
	"gitlab.com/secp/services/syncroom/internal/tracks"
)

type ctxKey int

const userIDKey ctxKey = iota

// Deps are the services the server routes to. Storage and Limiter may be nil.
type Deps struct {
	DB      *db.DB
	Auth    *auth.Service
	Rooms   *rooms.Service
	Queue   *queue.Service
	Hub     *hub.Service
	Storage *storage.Service
	Limiter *ratelimit.Limiter
	// Origins allowed by CORS and the websocket upgrader, "*" allows all
	Origins []string
	Log     *zap.Logger
}

type Server struct {
	db             *db.DB
	authService    *auth.Service
	roomService    *rooms.Service
	queueService   *queue.Service
	hubService     *hub.Service
	storageService *storage.Service
	rateLimiter    *ratelimit.Limiter
	origins        []string
	upgrader       websocket.Upgrader
	log            *zap.Logger
}

func New(deps Deps) *Server {
	s := &Server{
		db:             deps.DB,
		authService:    deps.Auth,
		roomService:    deps.Rooms,
		queueService:   deps.Queue,
		hubService:     deps.Hub,
		storageService: deps.Storage,
		rateLimiter:    deps.Limiter,
		origins:        deps.Origins,
		log:            logger.OrNop(deps.Log).Named("http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowOrigin(origin)
		},
	}
	return s
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.corsMiddleware)

	// Handle OPTIONS preflight requests for all routes
	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Auth routes
	router.HandleFunc("/api/auth/signup", s.handleSignup).Methods("POST")
	router.HandleFunc("/api/auth/signin", s.handleSignin).Methods("POST")
	router.HandleFunc("/api/auth/anonymous", s.handleAnonymous).Methods("POST")

	// User routes (protected)
	router.HandleFunc("/api/users/me", s.authMiddleware(s.handleGetCurrentUser)).Methods("GET")
	router.HandleFunc("/api/users/me", s.authMiddleware(s.handleUpdateCurrentUser)).Methods("PUT")

	// Room websocket, authenticated by query token
	router.HandleFunc("/api/rooms/ws", s.handleRoomWebSocket).Methods("GET")

	// Room routes (protected)
	router.HandleFunc("/api/rooms", s.authMiddleware(s.handleCreateRoom)).Methods("POST")
	router.HandleFunc("/api/rooms/{id}", s.authMiddleware(s.handleGetRoom)).Methods("GET")
	router.HandleFunc("/api/rooms/{id}", s.authMiddleware(s.handleDeleteRoom)).Methods("DELETE")
	router.HandleFunc("/api/rooms/{id}/theme", s.authMiddleware(s.handleSetTheme)).Methods("PUT")
	router.HandleFunc("/api/rooms/{id}/presence", s.authMiddleware(s.handleGetPresence)).Methods("GET")

	// Membership
	router.HandleFunc("/api/rooms/{id}/members", s.authMiddleware(s.handleListMembers)).Methods("GET")
	router.HandleFunc("/api/rooms/{id}/members", s.authMiddleware(s.handleJoinRoom)).Methods("POST")
	router.HandleFunc("/api/rooms/{id}/members/me", s.authMiddleware(s.handleLeaveRoom)).Methods("DELETE")

	// Queue
	router.HandleFunc("/api/rooms/{id}/queue", s.authMiddleware(s.handleGetQueue)).Methods("GET")
	router.HandleFunc("/api/rooms/{id}/queue", s.authMiddleware(s.handleAppendQueue)).Methods("POST")
	router.HandleFunc("/api/rooms/{id}/queue/{itemId}", s.authMiddleware(s.handleRemoveQueueItem)).Methods("DELETE")
	router.HandleFunc("/api/rooms/{id}/queue/{itemId}", s.authMiddleware(s.handleMoveQueueItem)).Methods("PATCH")
	router.HandleFunc("/api/rooms/{id}/current-index", s.authMiddleware(s.handleSetCurrentIndex)).Methods("PATCH")

	// Storage
	router.HandleFunc("/api/rooms/{id}/thumbnails/upload", s.authMiddleware(s.handleRequestUpload)).Methods("POST")

	return router
}

// Middleware

func (s *Server) allowOrigin(origin string) bool {
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return header
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		userID, err := s.authService.ValidateSessionToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func currentUser(r *http.Request) uuid.UUID {
	userID, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return userID
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

// writeError maps domain errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, queue.ErrItemNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, tracks.ErrTrackNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rooms.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, queue.ErrInvalidIndex),
		errors.Is(err, queue.ErrInvalidTrack),
		errors.Is(err, tracks.ErrInvalidTrackID),
		errors.Is(err, rooms.ErrInvalidName),
		errors.Is(err, rooms.ErrInvalidTheme),
		errors.Is(err, storage.ErrInvalidFile):
		status = http.StatusBadRequest
	case errors.Is(err, ratelimit.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, errors.Cause(err).Error(), status)
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Health(ctx); err != nil {
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"hub":    s.hubService.Stats(),
	})
}

// handleRoomWebSocket upgrades and serves one hub connection. The read pump
// runs on the request goroutine so it ends with the connection.
func (s *Server) handleRoomWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	userID, err := s.authService.ValidateSessionToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	client := s.hubService.NewClient(conn, user)
	go s.hubService.WritePump(client)
	s.hubService.ReadPump(r.Context(), client)
}
