// Package roomclient talks to a room server over HTTP and the room
// websocket, and glues incoming events to a playback controller
package roomclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/internal/queue"
)

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// AuthResponse is returned by the auth endpoints
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// API is a thin client for the room REST endpoints
type API struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewAPI creates a client for baseURL, e.g. http://localhost:8080
func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// Anonymous signs in as a guest and stores the token on a
func (a *API) Anonymous(ctx context.Context, displayName string) (*AuthResponse, error) {
	var out AuthResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/anonymous", map[string]string{"display_name": displayName}, &out)
	if err != nil {
		return nil, err
	}
	a.Token = out.Token
	return &out, nil
}

func (a *API) Me(ctx context.Context) (*models.User, error) {
	var out struct {
		User *models.User `json:"user"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/users/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// UpdateProfile changes the name and avatar shown in rooms
func (a *API) UpdateProfile(ctx context.Context, displayName string, avatarURL *string) (*models.User, error) {
	body := map[string]interface{}{"display_name": displayName, "avatar_url": avatarURL}
	var out struct {
		User *models.User `json:"user"`
	}
	if err := a.do(ctx, http.MethodPut, "/api/users/me", body, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Presence returns who is connected to a room right now
func (a *API) Presence(ctx context.Context, roomID uuid.UUID) ([]models.PresenceEntry, error) {
	var out models.RoomPresencePayload
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+roomID.String()+"/presence", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// UploadURL requests a pre-signed thumbnail upload
func (a *API) UploadURL(ctx context.Context, roomID uuid.UUID, req models.UploadRequest) (*models.UploadResponse, error) {
	var out models.UploadResponse
	if err := a.do(ctx, http.MethodPost, "/api/rooms/"+roomID.String()+"/thumbnails/upload", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	var out models.Room
	if err := a.do(ctx, http.MethodPost, "/api/rooms", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Bundle fetches the room init bundle
func (a *API) Bundle(ctx context.Context, roomID uuid.UUID) (*models.RoomBundle, error) {
	var out models.RoomBundle
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+roomID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	return a.do(ctx, http.MethodDelete, "/api/rooms/"+roomID.String(), nil, nil)
}

func (a *API) JoinRoom(ctx context.Context, roomID uuid.UUID) error {
	return a.do(ctx, http.MethodPost, "/api/rooms/"+roomID.String()+"/members", nil, nil)
}

func (a *API) LeaveRoom(ctx context.Context, roomID uuid.UUID) error {
	return a.do(ctx, http.MethodDelete, "/api/rooms/"+roomID.String()+"/members/me", nil, nil)
}

func (a *API) Members(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMember, error) {
	var out []*models.RoomMember
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+roomID.String()+"/members", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) SetTheme(ctx context.Context, roomID uuid.UUID, theme string) error {
	return a.do(ctx, http.MethodPut, "/api/rooms/"+roomID.String()+"/theme", map[string]string{"theme": theme}, nil)
}

func (a *API) Queue(ctx context.Context, roomID uuid.UUID) (*models.QueueSnapshot, error) {
	var out models.QueueSnapshot
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+roomID.String()+"/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Append(ctx context.Context, roomID uuid.UUID, in queue.AppendInput) (*models.QueueItem, error) {
	var out models.QueueItem
	if err := a.do(ctx, http.MethodPost, "/api/rooms/"+roomID.String()+"/queue", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Remove(ctx context.Context, roomID, itemID uuid.UUID) (*models.RemoveResult, error) {
	var out models.RemoveResult
	path := "/api/rooms/" + roomID.String() + "/queue/" + itemID.String()
	if err := a.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Move(ctx context.Context, roomID, itemID uuid.UUID, order int) (*models.MoveResult, error) {
	var out models.MoveResult
	path := "/api/rooms/" + roomID.String() + "/queue/" + itemID.String()
	if err := a.do(ctx, http.MethodPatch, path, map[string]int{"order": order}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) SetCurrentIndex(ctx context.Context, roomID uuid.UUID, index int) error {
	return a.do(ctx, http.MethodPatch, "/api/rooms/"+roomID.String()+"/current-index", map[string]int{"index": index}, nil)
}
