package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/queue"
)

// Auth Handlers

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

func (s *Server) issueToken(w http.ResponseWriter, status int, user *models.User) {
	token, err := s.authService.GenerateSessionToken(user.ID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, authResponse{User: user, Token: token})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.authService.CreateUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		http.Error(w, "Failed to create user: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.issueToken(w, http.StatusCreated, user)
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.authService.AuthenticateByEmail(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	s.issueToken(w, http.StatusOK, user)
}

func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	// Body is optional
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	user, err := s.authService.CreateAnonymousUser(r.Context(), req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.issueToken(w, http.StatusCreated, user)
}

func (s *Server) handleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (s *Server) handleUpdateCurrentUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string  `json:"display_name"`
		AvatarURL   *string `json:"avatar_url"`
	}
	if err := decode(w, r, &req); err != nil || req.DisplayName == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.authService.UpdateProfile(r.Context(), currentUser(r), req.DisplayName, req.AvatarURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// Room Handlers

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	room, err := s.roomService.Create(r.Context(), currentUser(r), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// handleGetRoom returns the init bundle
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	bundle, err := s.roomService.Bundle(r.Context(), roomID, currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.storageService.ResolveItems(r.Context(), bundle.Queue)
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	if err := s.roomService.Delete(r.Context(), roomID, currentUser(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.hubService.CloseRoom(roomID.String())

	if s.storageService != nil {
		// Detached from the request context
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.storageService.DeleteRoom(ctx, roomID); err != nil {
				s.log.Warn("Failed to delete room thumbnails", zap.String("room", roomID.String()), zap.Error(err))
			}
		}()
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Theme string `json:"theme"`
	}
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := s.roomService.SetTheme(r.Context(), roomID, currentUser(r), req.Theme); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, models.RoomPresencePayload{
		RoomID:  roomID.String(),
		Members: s.hubService.Presence(roomID.String()),
	})
}

// Membership Handlers

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	members, err := s.roomService.ListMembers(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	if err := s.roomService.Join(r.Context(), roomID, currentUser(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	if err := s.roomService.Leave(r.Context(), roomID, currentUser(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Queue Handlers

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	snap, err := s.queueService.List(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.storageService.ResolveItems(r.Context(), snap.Items)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAppendQueue(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	var in queue.AppendInput
	if err := decode(w, r, &in); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	userID := currentUser(r)
	if err := s.rateLimiter.CheckQueueAppend(r.Context(), userID.String()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.rateLimiter != nil {
		if left, err := s.rateLimiter.Remaining(r.Context(), "append", userID.String()); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(left))
		}
	}

	item, err := s.queueService.Append(r.Context(), roomID, userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleRemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	itemID, ok := pathUUID(r, "itemId")
	if !ok {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}

	res, err := s.queueService.Remove(r.Context(), roomID, itemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMoveQueueItem(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	itemID, ok := pathUUID(r, "itemId")
	if !ok {
		http.Error(w, "Invalid item ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Order *int `json:"order"`
	}
	if err := decode(w, r, &req); err != nil || req.Order == nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	res, err := s.queueService.Move(r.Context(), roomID, itemID, *req.Order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetCurrentIndex(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Index *int `json:"index"`
	}
	if err := decode(w, r, &req); err != nil || req.Index == nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := s.queueService.SetCurrentIndex(r.Context(), roomID, currentUser(r), *req.Index); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Storage Handlers

func (s *Server) handleRequestUpload(w http.ResponseWriter, r *http.Request) {
	if s.storageService == nil {
		http.Error(w, "Thumbnail uploads are disabled", http.StatusServiceUnavailable)
		return
	}
	roomID, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	var req models.UploadRequest
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if _, err := s.roomService.Get(r.Context(), roomID); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.storageService.UploadURL(r.Context(), roomID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
