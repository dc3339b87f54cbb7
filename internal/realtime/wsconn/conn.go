// Package wsconn implements the push connection over a WebSocket. Frames are
// JSON objects; the server pushes "event" frames and answers "invoke" frames
// with a "result" frame carrying the same id.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512KB
)

const (
	frameEvent  = "event"
	frameInvoke = "invoke"
	frameResult = "result"
)

type frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Event  string          `json:"event,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   []any           `json:"args,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type result struct {
	data json.RawMessage
	err  error
}

// Options configures a Conn.
type Options struct {
	// URL is the hub endpoint, ws:// or wss://.
	URL    string
	Header http.Header
	Policy transport.ReconnectPolicy
	Logger *slog.Logger
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Conn is a WebSocket push connection that reconnects on its own after a drop.
type Conn struct {
	transport.Callbacks

	url      string
	header   http.Header
	policy   transport.ReconnectPolicy
	dialer   *websocket.Dialer
	logger   *slog.Logger
	handlers *transport.Handlers
	state    transport.StateValue

	mu     sync.Mutex
	ws     *websocket.Conn
	connID string
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan result
}

var _ transport.Conn = (*Conn)(nil)

// New validates opts and returns a disconnected Conn.
func New(opts Options) (*Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("hub url must use ws or wss, got %q", opts.URL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c := &Conn{
		url:      opts.URL,
		header:   opts.Header,
		policy:   opts.Policy,
		dialer:   dialer,
		logger:   logger.With("transport", "websocket"),
		handlers: transport.NewHandlers(logger),
		pending:  make(map[string]chan result),
	}
	c.Callbacks.Logger = c.logger
	return c, nil
}

// Start dials the hub once. Drops after a successful Start are retried in
// the background according to the reconnect policy.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrConnClosed
	}
	if !c.state.CompareAndSwap(transport.Disconnected, transport.Connecting) {
		return transport.ErrAlreadyStarted
	}

	ws, id, err := c.dial(ctx)
	if err != nil {
		c.state.Store(transport.Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.ws, c.connID = ws, id
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	c.state.Store(transport.Connected)
	c.logger.Info("push connection established", "connection_id", id)

	go c.run(runCtx, ws, done)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, string, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, "", fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, "", fmt.Errorf("dial %s: %w", c.url, err)
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return ws, uuid.NewString(), nil
}

// run owns the socket until ctx is cancelled or the reconnect policy gives up.
func (c *Conn) run(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		err := c.serve(ctx, ws)
		c.failPending()
		if ctx.Err() != nil {
			return
		}

		c.state.Store(transport.Reconnecting)
		c.logger.Warn("push connection dropped, reconnecting", "error", err)
		c.FireReconnecting(err)

		var next *websocket.Conn
		var nextID string
		rerr := c.policy.Retry(ctx, func() error {
			w, id, derr := c.dial(ctx)
			if derr != nil {
				return derr
			}
			next, nextID = w, id
			return nil
		}, func(err error, wait time.Duration) {
			c.logger.Warn("push reconnect attempt failed", "error", err, "retry_in", wait)
		})

		if rerr != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			if c.done == done {
				c.ws, c.cancel, c.done = nil, nil, nil
			}
			c.mu.Unlock()
			c.state.Store(transport.Disconnected)
			c.logger.Error("push reconnect gave up", "error", rerr)
			c.FireClosed(fmt.Errorf("%w: %w", transport.ErrReconnectGaveUp, rerr))
			return
		}

		c.mu.Lock()
		c.ws, c.connID = next, nextID
		c.mu.Unlock()
		ws = next

		c.state.Store(transport.Connected)
		c.logger.Info("push connection re-established", "connection_id", nextID)
		c.FireReconnected(nextID)
	}
}

// serve reads frames until the socket fails or ctx is cancelled.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, ws, stop)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("push connection read error", "error", err)
			}
			return err
		}
		c.handleFrame(data)
	}
}

func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = ws.Close()
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("invalid push frame", "error", err)
		return
	}

	switch f.Type {
	case frameEvent:
		c.handlers.Dispatch(f.Event, f.Data)
	case frameResult:
		c.resolve(f)
	default:
		c.logger.Debug("ignoring push frame", "type", f.Type)
	}
}

func (c *Conn) resolve(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if f.Error != "" {
		ch <- result{err: fmt.Errorf("%w: %s", transport.ErrInvokeFailed, f.Error)}
		return
	}
	ch <- result{data: f.Data}
}

func (c *Conn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- result{err: transport.ErrConnectionLost}
		delete(c.pending, id)
	}
}

// Stop closes the socket and waits for the background loop to exit.
func (c *Conn) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done, c.ws = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		c.state.Store(transport.Disconnected)
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		c.state.Store(transport.Disconnected)
		return fmt.Errorf("wait for push connection shutdown: %w", ctx.Err())
	}

	c.mu.Lock()
	c.ws = nil
	c.mu.Unlock()
	c.state.Store(transport.Disconnected)
	c.logger.Info("push connection stopped")
	c.FireClosed(nil)
	return nil
}

// Close stops the connection and marks it unusable.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return c.Stop(ctx)
}

func (c *Conn) State() transport.State {
	return c.state.Load()
}

func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Conn) On(event string, h transport.Handler) func() {
	return c.handlers.Add(event, h)
}

// Invoke sends method with args and waits for the matching result frame.
func (c *Conn) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if c.state.Load() != transport.Connected {
		return nil, transport.ErrNotConnected
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil, transport.ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan result, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if args == nil {
		args = []any{}
	}

	c.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteJSON(frame{Type: frameInvoke, ID: id, Method: method, Args: args})
	c.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil, transport.ErrConnectionLost
		}
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrInvokeFailed, method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	}
}
