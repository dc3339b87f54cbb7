package transport

import (
	"log/slog"
	"sync"
)

// Callbacks holds the lifecycle callback slots of a Conn. Embed it to get
// the OnReconnecting, OnReconnected and OnClosed methods of the interface.
type Callbacks struct {
	Logger *slog.Logger

	mu           sync.RWMutex
	reconnecting []func(error)
	reconnected  []func(string)
	closed       []func(error)
}

func (c *Callbacks) OnReconnecting(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnecting = append(c.reconnecting, fn)
}

func (c *Callbacks) OnReconnected(fn func(connectionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnected = append(c.reconnected, fn)
}

func (c *Callbacks) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, fn)
}

// FireReconnecting notifies that a live connection dropped and is being retried.
func (c *Callbacks) FireReconnecting(err error) {
	c.mu.RLock()
	fns := append([]func(error){}, c.reconnecting...)
	c.mu.RUnlock()

	for _, fn := range fns {
		c.guard("reconnecting", func() { fn(err) })
	}
}

// FireReconnected notifies that a retry succeeded.
func (c *Callbacks) FireReconnected(connectionID string) {
	c.mu.RLock()
	fns := append([]func(string){}, c.reconnected...)
	c.mu.RUnlock()

	for _, fn := range fns {
		c.guard("reconnected", func() { fn(connectionID) })
	}
}

// FireClosed notifies that the connection is down for good. err is nil for
// a requested stop.
func (c *Callbacks) FireClosed(err error) {
	c.mu.RLock()
	fns := append([]func(error){}, c.closed...)
	c.mu.RUnlock()

	for _, fn := range fns {
		c.guard("closed", func() { fn(err) })
	}
}

func (c *Callbacks) guard(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logger := c.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("lifecycle callback panicked", "callback", kind, "error", p)
		}
	}()
	fn()
}
