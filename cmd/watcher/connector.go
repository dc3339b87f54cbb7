package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kiranshivaraju/vodwatch/internal/config"
	"github.com/kiranshivaraju/vodwatch/internal/realtime"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
	"github.com/kiranshivaraju/vodwatch/internal/tracker"
)

// connector keeps trying to bring the push connection up: at startup, and
// again whenever the transport gives up reconnecting. The first handshake
// failure is not fatal; the views are served from snapshots meanwhile.
type connector struct {
	manager *realtime.Manager
	tracker *tracker.Tracker
	policy  transport.ReconnectPolicy
	restart chan struct{}

	// bound is only touched by the Run goroutine.
	bound bool
}

func newConnector(m *realtime.Manager, tr *tracker.Tracker, rc config.ReconnectConfig) *connector {
	c := &connector{
		manager: m,
		tracker: tr,
		policy: transport.ReconnectPolicy{
			InitialInterval: rc.InitialDelay,
			MaxInterval:     rc.MaxDelay,
		},
		restart: make(chan struct{}, 1),
	}

	m.OnClosed(func(_ context.Context, ev realtime.Event) error {
		if ev.Err == nil {
			return nil
		}
		select {
		case c.restart <- struct{}{}:
		default:
		}
		return nil
	})
	return c
}

// Run blocks until ctx is done.
func (c *connector) Run(ctx context.Context) {
	if err := c.tracker.Resync(ctx); err != nil {
		slog.Warn("initial snapshot fetch incomplete", "error", err)
	}

	for {
		err := c.policy.Retry(ctx, func() error { return c.connect(ctx) }, func(err error, next time.Duration) {
			slog.Warn("push connection attempt failed", "error", err, "retry_in", next.String())
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, realtime.ErrClosed) {
				slog.Error("push connector stopped", "error", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.restart:
			slog.Warn("push transport gave up reconnecting, starting a new connection")
		}
	}
}

// connect starts the manager. After the first success it binds the tracker
// and resyncs to cover events published before the bind; later starts
// resync through the Connected listener registered here.
func (c *connector) connect(ctx context.Context) error {
	if err := c.manager.Start(ctx); err != nil {
		if errors.Is(err, realtime.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	if c.bound {
		return nil
	}

	if err := c.tracker.Bind(c.manager); err != nil {
		return err
	}
	c.bound = true
	c.manager.OnConnected(c.tracker.ResyncOn(ctx, realtime.EventConnected))

	if err := c.tracker.Resync(ctx); err != nil {
		slog.Warn("snapshot resync after first connect incomplete", "error", err)
	}
	return nil
}
