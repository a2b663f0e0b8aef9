package quizclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quizline/quizline-backend/internal/response"
	"github.com/quizline/quizline-backend/internal/retry"
	"github.com/quizline/quizline-backend/internal/ws"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateFailed means automatic attempts are exhausted; Retry resumes.
	StateFailed State = "failed"
)

// ErrNoCredentials means the store holds no usable session credential.
var ErrNoCredentials = errors.New("quizclient: no stored credentials")

// Conn is the minimal websocket surface the client needs; it exists so
// tests can substitute a scripted connection.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to the stream endpoint.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

func defaultDialer(ctx context.Context, rawURL string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Client. Zero values take the documented
// defaults.
type Options struct {
	// ServerURL is the participant stream endpoint, e.g.
	// wss://host/ws/v1/sessions/stream
	ServerURL string
	Store     CredentialStore

	InitialDelay      time.Duration // default 1s
	BackoffMultiplier float64       // default 2
	MaxDelay          time.Duration // default 30s
	MaxAttempts       int           // default 10

	Dialer        Dialer
	OnStateChange func(State)
	Logger        zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = 2
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.Dialer == nil {
		o.Dialer = defaultDialer
	}
}

// Client maintains one participant connection with automatic
// reconnection. Server-initiated disconnects (kicked, banned, session
// ended) clear the stored credential and are never retried.
type Client struct {
	opts Options
	hub  *eventHub
	log  zerolog.Logger

	mu       sync.Mutex
	conn     Conn
	state    State
	terminal bool
	closed   bool
}

// New creates a Client. Call Connect to go live.
func New(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts:  opts,
		hub:   newEventHub(),
		log:   opts.Logger.With().Str("component", "quizclient").Logger(),
		state: StateDisconnected,
	}
}

// ReconnectSchedule returns the delay before each automatic attempt,
// useful for surfacing countdowns in a UI.
func (c *Client) ReconnectSchedule() []time.Duration {
	out := make([]time.Duration, c.opts.MaxAttempts)
	for i := range out {
		out[i] = retry.DelayForAttempt(i, c.opts.InitialDelay, c.opts.BackoffMultiplier, c.opts.MaxDelay)
	}
	return out
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// Subscribe returns a subscription for one event name.
func (c *Client) Subscribe(name ws.Event) *Subscription {
	return c.hub.subscribe(name)
}

// SubscribeAll returns a subscription receiving every event.
func (c *Client) SubscribeAll() *Subscription {
	return c.hub.subscribe(eventAny)
}

// Connect dials using the stored credential and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	creds, err := c.opts.Store.Load()
	if err != nil {
		return err
	}
	if creds == nil {
		return ErrNoCredentials
	}

	conn, err := c.dial(ctx, creds)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.terminal = false
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ctx, conn)
	c.sendReconnectRequest(creds)
	return nil
}

// sendReconnectRequest asks the server to rebuild this participant's
// view. Sent on every fresh transport connect; the server answers with
// session_recovered or recovery_failed.
func (c *Client) sendReconnectRequest(creds *Credentials) {
	lastQ, err := c.opts.Store.LoadLastQuestion()
	if err != nil {
		c.log.Debug().Err(err).Msg("load last question")
	}
	payload, err := json.Marshal(ws.ReconnectRequest{
		SessionToken:        creds.SessionToken,
		LastKnownQuestionID: lastQ,
	})
	if err != nil {
		return
	}
	if err := c.send(ws.ActionReconnect, payload); err != nil {
		c.log.Debug().Err(err).Msg("send reconnect_session")
	}
}

func (c *Client) dial(ctx context.Context, creds *Credentials) (Conn, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", creds.SessionToken)
	u.RawQuery = q.Encode()
	return c.opts.Dialer(ctx, u.String())
}

// SubmitAnswer sends one answer on the live connection.
func (c *Client) SubmitAnswer(questionID string, optionIDs []string) error {
	payload, err := json.Marshal(ws.SubmitAnswerRequest{
		QuestionID:        questionID,
		SelectedOptionIDs: optionIDs,
		ClientTimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return c.send(ws.ActionSubmitAnswer, payload)
}

// Heartbeat sends a liveness probe.
func (c *Client) Heartbeat() error {
	return c.send(ws.ActionHeartbeat, nil)
}

func (c *Client) send(action ws.Action, payload json.RawMessage) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return errors.New("quizclient: not connected")
	}
	raw, err := json.Marshal(ws.RequestEnvelope{Action: action, Payload: payload})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Close shuts the client down permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.terminal = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.setState(StateDisconnected)
	c.hub.closeAll()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onConnectionLost(ctx)
			return
		}

		var env ws.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Debug().Err(err).Msg("malformed frame")
			continue
		}

		payload, _ := json.Marshal(env.Payload)
		c.handleEvent(env.Event, payload)
		c.hub.dispatch(Event{Name: env.Event, Payload: payload})
	}
}

// handleEvent applies the client-side bookkeeping some events require
// before they reach subscribers.
func (c *Client) handleEvent(name ws.Event, payload []byte) {
	switch name {
	case ws.EventKicked, ws.EventBanned, ws.EventSessionEnded:
		// Server-initiated terminal disconnects: the credential is no
		// longer valid, so reconnecting would be useless.
		c.terminate()

	case ws.EventRecoveryFailed:
		var p struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		if recoveryRefusalIsTerminal(p.Code) {
			c.terminate()
		}

	case ws.EventQuestionStarted:
		var p struct {
			Question struct {
				QuestionID string `json:"question_id"`
			} `json:"question"`
		}
		if err := json.Unmarshal(payload, &p); err == nil && p.Question.QuestionID != "" {
			if err := c.opts.Store.SaveLastQuestion(p.Question.QuestionID); err != nil {
				c.log.Debug().Err(err).Msg("save last question")
			}
		}
	}
}

// recoveryRefusalIsTerminal separates refusals this credential can
// never survive from transient ones worth another attempt.
func recoveryRefusalIsTerminal(code string) bool {
	switch response.ErrCode(code) {
	case response.ErrSessionExpired, response.ErrSessionEnded,
		response.ErrSessionNotFound, response.ErrParticipantNotFound,
		response.ErrParticipantBanned,
		response.ErrTokenExpired, response.ErrTokenInvalid:
		return true
	}
	return false
}

// terminate clears the stored credential and stops any further
// reconnection for this session.
func (c *Client) terminate() {
	c.mu.Lock()
	c.terminal = true
	conn := c.conn
	c.mu.Unlock()

	if err := c.opts.Store.Clear(); err != nil {
		c.log.Debug().Err(err).Msg("clear credentials")
	}
	// The server usually closes right after a terminal event; closing
	// locally covers recovery_failed, which leaves the socket open.
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) onConnectionLost(ctx context.Context) {
	c.mu.Lock()
	terminal := c.terminal || c.closed
	c.conn = nil
	c.mu.Unlock()

	if terminal {
		c.setState(StateDisconnected)
		return
	}
	c.reconnectLoop(ctx)
}

// reconnectLoop runs the deterministic backoff schedule. Exhaustion
// parks the client in StateFailed until Retry is called.
func (c *Client) reconnectLoop(ctx context.Context) {
	c.setState(StateReconnecting)

	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		delay := retry.DelayForAttempt(attempt, c.opts.InitialDelay, c.opts.BackoffMultiplier, c.opts.MaxDelay)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}

		creds, err := c.opts.Store.Load()
		if err != nil || creds == nil {
			c.log.Warn().Msg("credentials gone during reconnect")
			c.setState(StateFailed)
			return
		}

		conn, err := c.dial(ctx, creds)
		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		go c.readLoop(ctx, conn)
		c.sendReconnectRequest(creds)
		return
	}

	c.log.Warn().Int("attempts", c.opts.MaxAttempts).Msg("reconnect attempts exhausted")
	c.setState(StateFailed)
}

// Retry restarts the reconnection schedule from the first delay after
// automatic attempts are exhausted.
func (c *Client) Retry(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.terminal || c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	go c.reconnectLoop(ctx)
}
