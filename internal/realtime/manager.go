// Package realtime owns the single push connection of the watcher: starting
// and stopping it under an exclusive section, binding event handlers, and
// fanning lifecycle events out to listeners.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kiranshivaraju/vodwatch/internal/metrics"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
)

type State = transport.State

const (
	Disconnected = transport.Disconnected
	Connecting   = transport.Connecting
	Connected    = transport.Connected
	Reconnecting = transport.Reconnecting
)

var allStates = []string{
	Disconnected.String(), Connecting.String(), Connected.String(), Reconnecting.String(),
}

// Dialer builds a new, unstarted push connection.
type Dialer func() (transport.Conn, error)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventReconnecting
	EventReconnected
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification. Err is set for Reconnecting and for
// a Closed caused by a failure.
type Event struct {
	Kind         EventKind
	ConnectionID string
	Err          error
}

// Listener receives lifecycle events. A returned error or panic is logged
// and does not affect other listeners.
type Listener func(ctx context.Context, ev Event) error

// Options configures a Manager.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Manager maintains at most one push connection.
type Manager struct {
	dial    Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// sem serializes Start, Stop and Close for their whole duration.
	sem *semaphore.Weighted

	mu       sync.RWMutex
	conn     transport.Conn
	closed   bool
	bindings []*binding

	lmu       sync.RWMutex
	listeners map[EventKind][]Listener
}

type binding struct {
	event  string
	h      transport.Handler
	remove func()
}

// NewManager returns a Manager that builds connections with dial.
func NewManager(dial Dialer, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dial:      dial,
		logger:    logger,
		metrics:   opts.Metrics,
		sem:       semaphore.NewWeighted(1),
		listeners: make(map[EventKind][]Listener),
	}
	m.metrics.SetConnectionState(Disconnected.String(), allStates)
	return m
}

func (m *Manager) OnConnected(l Listener)    { m.addListener(EventConnected, l) }
func (m *Manager) OnReconnecting(l Listener) { m.addListener(EventReconnecting, l) }
func (m *Manager) OnReconnected(l Listener)  { m.addListener(EventReconnected, l) }
func (m *Manager) OnClosed(l Listener)       { m.addListener(EventClosed, l) }

func (m *Manager) addListener(kind EventKind, l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners[kind] = append(m.listeners[kind], l)
}

// Start connects unless a connection is already connecting or live, in
// which case it returns nil without doing anything. A failed handshake is
// returned wrapped in ErrConnectFailed and is not retried.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire connection lock: %w", err)
	}
	defer m.sem.Release(1)

	m.mu.RLock()
	closed, current := m.closed, m.conn
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if current != nil && current.State() != Disconnected {
		m.logger.Warn("push connection already started or in progress", "state", current.State().String())
		return nil
	}

	if current != nil {
		if err := current.Close(); err != nil {
			m.logger.Warn("failed to dispose stale push connection", "error", err)
		}
		m.setConn(nil)
	}

	m.logger.Info("initializing push connection")
	conn, err := m.dial()
	if err != nil {
		m.logger.Error("failed to build push connection", "error", err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	m.wire(conn)
	m.setConn(conn)
	m.metrics.SetConnectionState(Connecting.String(), allStates)

	if err := conn.Start(ctx); err != nil {
		m.logger.Error("failed to establish push connection", "error", err)
		if cerr := conn.Close(); cerr != nil {
			m.logger.Error("failed to dispose push connection after failed start", "error", cerr)
		}
		m.setConn(nil)
		m.metrics.SetConnectionState(Disconnected.String(), allStates)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	id := conn.ConnectionID()
	m.logger.Info("push connection established", "connection_id", id)
	m.fanOut(ctx, Event{Kind: EventConnected, ConnectionID: id})
	return nil
}

// wire binds lifecycle callbacks and replays previously registered handlers
// onto a fresh connection.
func (m *Manager) wire(conn transport.Conn) {
	bg := context.Background()

	conn.OnReconnecting(func(err error) {
		m.logger.Warn("push connection lost, attempting to reconnect", "error", err)
		m.fanOut(bg, Event{Kind: EventReconnecting, Err: err})
	})
	conn.OnReconnected(func(id string) {
		m.logger.Info("push connection re-established", "connection_id", id)
		m.fanOut(bg, Event{Kind: EventReconnected, ConnectionID: id})
	})
	conn.OnClosed(func(err error) {
		if err != nil {
			m.logger.Error("push connection closed with error", "error", err)
		} else {
			m.logger.Info("push connection closed")
		}
		m.fanOut(bg, Event{Kind: EventClosed, Err: err})
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bindings {
		b.remove = conn.On(b.event, b.h)
	}
}

// Stop closes the connection if there is one. Teardown failures are logged
// and never returned; the only error is ctx ending before the exclusive
// section could be acquired.
func (m *Manager) Stop(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire connection lock: %w", err)
	}
	defer m.sem.Release(1)

	m.stop(ctx)
	return nil
}

func (m *Manager) stop(ctx context.Context) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return
	}

	m.logger.Info("stopping push connection")
	if err := conn.Stop(ctx); err != nil {
		m.logger.Error("error while stopping push connection", "error", err)
	} else {
		m.logger.Info("push connection stopped")
	}

	if err := conn.Close(); err != nil {
		m.logger.Error("error while disposing push connection", "error", err)
	}
	m.setConn(nil)
	m.metrics.SetConnectionState(Disconnected.String(), allStates)
}

// Close stops the connection and makes every later Start fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire connection lock: %w", err)
	}
	defer m.sem.Release(1)

	m.stop(ctx)

	m.mu.Lock()
	m.closed = true
	m.bindings = nil
	m.mu.Unlock()
	return nil
}

func (m *Manager) setConn(conn transport.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
}

// RegisterHandler binds h to a server-pushed event on the current
// connection. The binding is carried over to connections built by later
// Start calls until the returned func is called.
func (m *Manager) RegisterHandler(event string, h transport.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.conn == nil {
		return nil, ErrNotStarted
	}

	b := &binding{event: event, h: h}
	b.remove = m.conn.On(event, h)
	m.bindings = append(m.bindings, b)

	var once sync.Once
	return func() { once.Do(func() { m.unbind(b) }) }, nil
}

func (m *Manager) unbind(b *binding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.remove != nil {
		b.remove()
	}
	m.bindings = slices.DeleteFunc(m.bindings, func(x *binding) bool { return x == b })
}

// Invoke sends a request over the connection. It fails with ErrNotConnected
// unless the connection is Connected.
func (m *Manager) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || conn.State() != Connected {
		return nil, ErrNotConnected
	}
	return conn.Invoke(ctx, method, args...)
}

// State returns the state of the current connection, Disconnected if none.
func (m *Manager) State() State {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return Disconnected
	}
	return conn.State()
}

func (m *Manager) ConnectionID() string {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return ""
	}
	return conn.ConnectionID()
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

func (m *Manager) fanOut(ctx context.Context, ev Event) {
	m.metrics.RecordLifecycleEvent(ev.Kind.String())
	m.metrics.SetConnectionState(m.State().String(), allStates)

	m.lmu.RLock()
	ls := slices.Clone(m.listeners[ev.Kind])
	m.lmu.RUnlock()

	for i, l := range ls {
		if err := callListener(ctx, l, ev); err != nil {
			m.metrics.RecordListenerFailure(ev.Kind.String())
			m.logger.Error("lifecycle listener failed", "kind", ev.Kind.String(), "listener", i, "error", err)
		}
	}
}

func callListener(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return l(ctx, ev)
}
