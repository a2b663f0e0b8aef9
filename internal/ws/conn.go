package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Role distinguishes the three connection kinds on a session.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleController  Role = "controller"
	RoleBigscreen   Role = "bigscreen"
)

const (
	sendQueueSize = 64
	writeWait     = 1 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 25 * time.Second
)

// DropCounter is notified when a slow client's queue overflows.
type DropCounter interface {
	ConnectionDropped(role string)
	MessageDropped(role string)
}

// Client is one live websocket tied to a session. All sends go through
// the bounded queue; a writer that cannot keep up is disconnected
// rather than allowed to stall the broadcaster.
type Client struct {
	SessionID     string
	ParticipantID string
	Role          Role

	conn  *websocket.Conn
	send  chan []byte
	drops DropCounter
	log   zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, sessionID, participantID string, role Role, drops DropCounter, log zerolog.Logger) *Client {
	return &Client{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Role:          role,
		conn:          conn,
		send:          make(chan []byte, sendQueueSize),
		drops:         drops,
		log: log.With().
			Str("component", "ws_client").
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Str("role", string(role)).
			Logger(),
		done: make(chan struct{}),
	}
}

// Send queues an event for delivery. It never blocks: when the queue is
// full the frame is dropped, counted, and the client is closed so the
// reconnect path can restore a consistent view.
func (c *Client) Send(event Event, payload any) {
	raw, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Str("event", string(event)).Msg("marshal outbound frame")
		return
	}

	select {
	case c.send <- raw:
	case <-c.done:
	default:
		c.drops.MessageDropped(string(c.Role))
		c.drops.ConnectionDropped(string(c.Role))
		c.log.Warn().Str("event", string(event)).Msg("send queue full, closing slow client")
		c.Close()
	}
}

// SendRaw queues a pre-marshalled frame, used by the registry for
// broadcasts so the envelope is encoded once per room.
func (c *Client) SendRaw(raw []byte) {
	select {
	case c.send <- raw:
	case <-c.done:
	default:
		c.drops.MessageDropped(string(c.Role))
		c.drops.ConnectionDropped(string(c.Role))
		c.log.Warn().Msg("send queue full, closing slow client")
		c.Close()
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed once the client has been shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// WritePump drains the send queue onto the socket. Run as a goroutine;
// it owns all writes to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop delivers inbound frames to handle until the socket closes.
func (c *Client) ReadLoop(handle func(*RequestEnvelope, []byte)) {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("unexpected close")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.Send(EventError, ErrorPayload{Code: "INVALID_PAYLOAD", Message: "malformed frame"})
			continue
		}
		handle(&env, raw)
	}
}
