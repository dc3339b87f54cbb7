// Package transport defines the push-connection contract shared by the
// WebSocket and Redis implementations, plus the pieces they have in common:
// the event handler registry, lifecycle callback slots and reconnect policy.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
)

// Sentinel errors returned by Conn implementations.
var (
	ErrNotConnected    = errors.New("push connection is not connected")
	ErrConnectionLost  = errors.New("push connection lost")
	ErrInvokeFailed    = errors.New("push invocation failed")
	ErrAlreadyStarted  = errors.New("push connection already started")
	ErrConnClosed      = errors.New("push connection is closed")
	ErrReconnectGaveUp = errors.New("push reconnect attempts exhausted")
)

// State is the lifecycle state of a push connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handler receives the raw payload of one server-pushed event.
type Handler func(payload json.RawMessage) error

// Conn is one push-notification connection. Once Start succeeds, drops are
// retried by the connection itself and surfaced only through the lifecycle
// callbacks; they are never returned from Start.
type Conn interface {
	// Start performs the handshake. It does not retry.
	Start(ctx context.Context) error
	// Stop closes the connection gracefully. Registered handlers survive.
	Stop(ctx context.Context) error
	// Close releases the connection for good. Start fails afterwards.
	Close() error

	State() State
	ConnectionID() string

	// On binds a handler to a named event and returns a func that unbinds it.
	On(event string, h Handler) (remove func())
	// Invoke sends a request and waits for its result.
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)

	OnReconnecting(fn func(err error))
	OnReconnected(fn func(connectionID string))
	OnClosed(fn func(err error))
}

// StateValue is an atomically updated State.
type StateValue struct {
	v atomic.Int32
}

func (s *StateValue) Load() State {
	return State(s.v.Load())
}

func (s *StateValue) Store(state State) {
	s.v.Store(int32(state))
}

// CompareAndSwap moves from old to next if the current state is old.
func (s *StateValue) CompareAndSwap(old, next State) bool {
	return s.v.CompareAndSwap(int32(old), int32(next))
}
