package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fastsock/fastsock/internal/creds"
	"github.com/fastsock/fastsock/internal/notify"
	"github.com/fastsock/fastsock/internal/util"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
	dialTimeout    = 15 * time.Second
)

// Backoff returns the reconnect delay for the given attempt count:
// min(1000 * 2^attempt, 30000) milliseconds.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5 s already exceeds the cap; shifting further would overflow.
	if attempt > 5 {
		return maxRetryDelay
	}
	d := baseRetryDelay << uint(attempt)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// Conn is the subset of *websocket.Conn the channel uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc opens one connection to the given URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// defaultDial connects with gorilla's default dialer.
func defaultDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event channel: %w", err)
	}
	return conn, nil
}

// Config carries the channel's collaborators.
type Config struct {
	// URL is the websocket endpoint; the session token is appended as a
	// "token" query parameter at dial time.
	URL string

	// Creds supplies the session token. Connect is a no-op while the
	// store is empty.
	Creds *creds.Store

	// Notifier receives the connect / disconnect / reconnect notices and
	// server-sent error strings. Nil means notices are dropped.
	Notifier notify.Notifier

	// Dial is swapped out in tests. Nil means the gorilla dialer.
	Dial DialFunc
}

type subscriber struct {
	id int
	fn func(Envelope)
}

// Channel is the single reconnecting event connection shared by every
// realtime feature (chat, presence, calling). All methods are safe for
// concurrent use and none of them returns an error: transport failures
// degrade to the closed state and feed the backoff path.
type Channel struct {
	cfg      Config
	dial     DialFunc
	notifier notify.Notifier

	mu         sync.Mutex
	state      State
	conn       Conn
	attempt    int
	retryTimer *time.Timer
	gen        int // bumped by Shutdown; stale dials and read loops check it

	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int
}

// New creates a Channel. It does not connect; call Connect once a
// credential exists.
func New(cfg Config) *Channel {
	c := &Channel{cfg: cfg, dial: cfg.Dial, notifier: cfg.Notifier}
	if c.dial == nil {
		c.dial = defaultDial
	}
	if c.notifier == nil {
		c.notifier = notify.Discard{}
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the channel is currently connected.
func (c *Channel) IsOpen() bool {
	return c.State() == StateOpen
}

// Connect opens the connection if it is not already open or connecting.
// It is a no-op without a stored credential. The dial itself happens on a
// background goroutine; failures schedule a reconnect.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	token := c.cfg.Creds.Get()
	if token == "" {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	go c.runDial(gen, token)
}

// Shutdown forcibly closes the connection and cancels any pending
// reconnect. Used when the authenticated session ends; the channel stays
// closed until Connect is called again.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.attempt = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Send writes one envelope. It silently drops the message when the
// connection is not open — there is no outbound queueing.
func (c *Channel) Send(event string, data interface{}) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		util.LogDebug("channel not open, dropping %q", event)
		return
	}

	env := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: event, Data: data}

	c.writeMu.Lock()
	err := conn.WriteJSON(env)
	c.writeMu.Unlock()

	if err != nil {
		// The read loop notices the broken connection and reconnects.
		util.LogWarning("channel write failed for %q: %v", event, err)
		return
	}
	util.Stats.AddSent()
}

// Subscribe registers a listener for every parsed inbound envelope, in
// registration order. The returned function removes it. Both may be
// called from within a callback: dispatch iterates a snapshot.
func (c *Channel) Subscribe(fn func(Envelope)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				break
			}
		}
		c.subMu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// runDial performs one dial attempt for the given generation.
func (c *Channel) runDial(gen int, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := c.dial(ctx, c.urlWithToken(token))

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// Shut down (or restarted) while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		util.LogWarning("channel dial failed: %v", err)
		c.handleClosedLocked(gen)
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.state = StateOpen
	reconnected := c.attempt > 0
	c.attempt = 0
	c.mu.Unlock()

	if reconnected {
		util.Stats.AddReconnect()
		c.notifier.Success("Reconnected to chat")
	} else {
		c.notifier.Success("Connected to chat")
	}
	util.LogInfo("event channel open")

	go c.readLoop(gen, conn)
}

// readLoop consumes inbound frames until the connection breaks, then
// hands control to the backoff path.
func (c *Channel) readLoop(gen int, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatch(data)
	}
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// Deliberate shutdown; Shutdown already reset the state.
		return
	}
	c.conn = nil
	util.LogInfo("event channel disconnected")
	c.handleClosedLocked(gen)
}

// handleClosedLocked marks the channel closed and schedules the next
// reconnect attempt. Only the very first disconnect surfaces a notice;
// silent retries follow. Caller holds c.mu.
func (c *Channel) handleClosedLocked(gen int) {
	c.state = StateClosed

	delay := Backoff(c.attempt)
	if c.attempt == 0 {
		c.notifier.Error("Disconnected. Reconnecting…")
	}
	c.attempt++

	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen || c.state != StateClosed {
			c.mu.Unlock()
			return
		}
		token := c.cfg.Creds.Get()
		if token == "" {
			// Session ended while waiting; stay closed.
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		go c.runDial(gen, token)
	})
}

// ---------------------------------------------------------------------------
// Inbound dispatch
// ---------------------------------------------------------------------------

// dispatch parses one inbound frame and fans it out. Malformed JSON and
// envelopes without an event name are dropped. A bare {"error": "…"}
// object is surfaced as a notice instead of being dispatched.
func (c *Channel) dispatch(data []byte) {
	var probe struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		util.LogDebug("dropping malformed frame: %v", err)
		return
	}
	if probe.Error != "" {
		c.notifier.Error(probe.Error)
		return
	}
	if probe.Event == "" {
		return
	}

	env := Envelope{Event: probe.Event, Data: probe.Data}
	util.Stats.AddRecv()

	// Snapshot so listeners may subscribe/unsubscribe mid-dispatch
	// without affecting delivery of this message.
	c.subMu.Lock()
	snapshot := make([]subscriber, len(c.subs))
	copy(snapshot, c.subs)
	c.subMu.Unlock()

	for _, s := range snapshot {
		s.fn(env)
	}
}

func (c *Channel) urlWithToken(token string) string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
