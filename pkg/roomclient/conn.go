package roomclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/secp/services/syncroom/internal/models"
	"gitlab.com/secp/services/syncroom/pkg/clocksync"
)

const (
	writeWait    = 10 * time.Second
	eventsBuffer = 64
)

var ErrClosed = errors.New("connection closed")

// Conn is a websocket connection to the room hub
type Conn struct {
	ws    *websocket.Conn
	clock *clocksync.Estimator
	log   *zap.Logger

	writeMu sync.Mutex
	events  chan models.WSMessage
	pongs   chan models.SyncPongPayload
	done    chan struct{}
	once    sync.Once
	err     error
}

// WebsocketURL turns an http(s) base URL into the hub endpoint for token
func WebsocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", errors.Wrap(err, "invalid server url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/api/rooms/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Dial connects to the hub at baseURL with a session token
func Dial(ctx context.Context, baseURL, token string, log *zap.Logger) (*Conn, error) {
	wsURL, err := WebsocketURL(baseURL, token)
	if err != nil {
		return nil, err
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &APIError{Status: resp.StatusCode, Message: "invalid token"}
		}
		return nil, errors.Wrap(err, "failed to dial room hub")
	}

	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		ws:     ws,
		clock:  clocksync.New(nil),
		log:    log.Named("roomclient"),
		events: make(chan models.WSMessage, eventsBuffer),
		pongs:  make(chan models.SyncPongPayload, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var msg models.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("Dropping malformed frame", zap.Error(err))
			continue
		}

		if msg.Type == models.EventSyncPong {
			var pong models.SyncPongPayload
			if err := msg.Decode(&pong); err == nil {
				select {
				case c.pongs <- pong:
				default:
				}
			}
			continue
		}

		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}

// Events delivers every frame except sync-pong. It is closed when the
// connection ends.
func (c *Conn) Events() <-chan models.WSMessage {
	return c.events
}

// Err returns why the connection ended
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Clock is the clock offset estimator of this connection
func (c *Conn) Clock() *clocksync.Estimator {
	return c.clock
}

// Emit sends one event
func (c *Conn) Emit(msgType, roomID string, payload interface{}) error {
	msg, err := models.NewWSMessage(msgType, roomID, payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return errors.Wrap(err, "failed to send event")
	}
	return nil
}

func (c *Conn) Join(roomID string) error {
	return c.Emit(models.EventJoinRoom, roomID, models.JoinRoomPayload{RoomID: roomID})
}

func (c *Conn) Leave(roomID string) error {
	return c.Emit(models.EventLeaveRoom, roomID, models.LeaveRoomPayload{RoomID: roomID})
}

// AnnouncePresence sets the name and avatar others see, joining roomID if
// this connection is not in it yet
func (c *Conn) AnnouncePresence(roomID, name, avatar string) error {
	return c.Emit(models.EventPresenceJoin, roomID, models.PresenceJoinPayload{RoomID: roomID, Name: name, Avatar: avatar})
}

// SyncClock runs one ping/pong exchange and returns the new offset
func (c *Conn) SyncClock(ctx context.Context) (int64, error) {
	t0 := c.clock.Begin()
	if err := c.Emit(models.EventSyncPing, "", models.SyncPingPayload{T0: t0}); err != nil {
		return 0, err
	}

	for {
		select {
		case pong := <-c.pongs:
			offset, err := c.clock.Receive(pong.T0, pong.ServerTs)
			if errors.Is(err, clocksync.ErrPingMismatch) {
				// Reply to an earlier ping; keep waiting for ours
				continue
			}
			if err != nil {
				return 0, err
			}
			c.log.Debug("Clock synced", zap.Int64("offset_ms", offset))
			return offset, nil
		case <-c.done:
			return 0, ErrClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Offset returns the current clock offset, zero before the first sync
func (c *Conn) Offset() int64 {
	offset, _ := c.clock.Offset()
	return offset
}

func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		close(c.done)
	})
}

// Close sends a close frame and tears the connection down
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.shutdown(ErrClosed)
	return c.ws.Close()
}
