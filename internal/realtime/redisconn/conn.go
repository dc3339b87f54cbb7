// Package redisconn implements the push connection over Redis pub/sub.
//
// The pipeline publishes each event on "<prefix>:events:<event>"; the payload
// is the event's JSON body. Invocations are published on
// "<prefix>:invoke:<method>" and are fire-and-forget: the result is the
// number of subscribers that received the message.
package redisconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
)

const defaultHealthCheckInterval = 30 * time.Second

// Options configures a Conn.
type Options struct {
	// URL is a redis:// or rediss:// URL. Ignored when Client is set.
	URL string
	// Client, when set, is used as is and not closed by Close.
	Client *redis.Client
	Prefix string
	Policy transport.ReconnectPolicy
	// HealthCheckInterval is how long the subscription may stay silent
	// before it is pinged.
	HealthCheckInterval time.Duration
	Logger              *slog.Logger
}

type invocation struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Conn is a Redis pub/sub push connection that resubscribes on its own after
// a drop.
type Conn struct {
	transport.Callbacks

	client      *redis.Client
	ownsClient  bool
	prefix      string
	policy      transport.ReconnectPolicy
	healthEvery time.Duration
	logger      *slog.Logger
	handlers    *transport.Handlers
	state       transport.StateValue

	mu     sync.Mutex
	ps     *redis.PubSub
	connID string
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

var _ transport.Conn = (*Conn)(nil)

// New returns a disconnected Conn. No network I/O happens until Start.
func New(opts Options) (*Conn, error) {
	client, owns := opts.Client, false
	if client == nil {
		ro, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client, owns = redis.NewClient(ro), true
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	every := opts.HealthCheckInterval
	if every <= 0 {
		every = defaultHealthCheckInterval
	}

	c := &Conn{
		client:      client,
		ownsClient:  owns,
		prefix:      normalizePrefix(opts.Prefix),
		policy:      opts.Policy,
		healthEvery: every,
		logger:      logger.With("transport", "redis"),
		handlers:    transport.NewHandlers(logger),
	}
	c.Callbacks.Logger = c.logger
	return c, nil
}

// Start pings the server and subscribes to the event pattern once.
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

	ps, id, err := c.subscribe(ctx)
	if err != nil {
		c.state.Store(transport.Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.ps, c.connID = ps, id
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	c.state.Store(transport.Connected)
	c.logger.Info("push subscription established", "connection_id", id, "pattern", EventPattern(c.prefix))

	go c.run(runCtx, ps, done)
	return nil
}

func (c *Conn) subscribe(ctx context.Context) (*redis.PubSub, string, error) {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return nil, "", fmt.Errorf("ping redis: %w", err)
	}

	ps := c.client.PSubscribe(ctx, EventPattern(c.prefix))
	msg, err := ps.Receive(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, "", fmt.Errorf("subscribe %s: %w", EventPattern(c.prefix), err)
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, "", fmt.Errorf("subscribe %s: unexpected reply %T", EventPattern(c.prefix), msg)
	}
	return ps, uuid.NewString(), nil
}

func (c *Conn) run(ctx context.Context, ps *redis.PubSub, done chan struct{}) {
	defer close(done)

	for {
		err := c.serve(ctx, ps)
		_ = ps.Close()
		if ctx.Err() != nil {
			return
		}

		c.state.Store(transport.Reconnecting)
		c.logger.Warn("push subscription dropped, reconnecting", "error", err)
		c.FireReconnecting(err)

		var next *redis.PubSub
		var nextID string
		rerr := c.policy.Retry(ctx, func() error {
			p, id, serr := c.subscribe(ctx)
			if serr != nil {
				return serr
			}
			next, nextID = p, id
			return nil
		}, func(err error, wait time.Duration) {
			c.logger.Warn("push resubscribe attempt failed", "error", err, "retry_in", wait)
		})

		if rerr != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			if c.done == done {
				c.ps, c.cancel, c.done = nil, nil, nil
			}
			c.mu.Unlock()
			c.state.Store(transport.Disconnected)
			c.logger.Error("push resubscribe gave up", "error", rerr)
			c.FireClosed(fmt.Errorf("%w: %w", transport.ErrReconnectGaveUp, rerr))
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.ps, c.connID = next, nextID
		c.mu.Unlock()
		ps = next

		c.state.Store(transport.Connected)
		c.logger.Info("push subscription re-established", "connection_id", nextID)
		c.FireReconnected(nextID)
	}
}

// serve receives messages until the subscription fails. A silent
// subscription is pinged every health interval.
func (c *Conn) serve(ctx context.Context, ps *redis.PubSub) error {
	for {
		msg, err := ps.ReceiveTimeout(ctx, c.healthEvery)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				if perr := ps.Ping(ctx); perr != nil {
					return perr
				}
				continue
			}
			return err
		}

		switch m := msg.(type) {
		case *redis.Message:
			event, ok := EventName(c.prefix, m.Channel)
			if !ok {
				c.logger.Debug("ignoring message on unexpected channel", "channel", m.Channel)
				continue
			}
			c.handlers.Dispatch(event, json.RawMessage(m.Payload))
		case *redis.Subscription, *redis.Pong:
		default:
			c.logger.Debug("ignoring pub/sub reply", "type", fmt.Sprintf("%T", msg))
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Stop closes the subscription and waits for the receive loop to exit.
func (c *Conn) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		c.state.Store(transport.Disconnected)
		return nil
	}

	cancel()
	// The receive loop only swaps the subscription while ctx is live, so
	// after cancel c.ps is final.
	c.mu.Lock()
	ps := c.ps
	c.ps = nil
	c.mu.Unlock()

	var closeErr error
	if ps != nil {
		closeErr = ps.Close()
	}

	select {
	case <-done:
	case <-ctx.Done():
		c.state.Store(transport.Disconnected)
		return fmt.Errorf("wait for push subscription shutdown: %w", ctx.Err())
	}

	c.state.Store(transport.Disconnected)
	c.logger.Info("push subscription stopped")
	c.FireClosed(nil)
	if closeErr != nil && !errors.Is(closeErr, redis.ErrClosed) {
		return fmt.Errorf("close subscription: %w", closeErr)
	}
	return nil
}

// Close stops the subscription and, when the client was built from a URL,
// closes the client.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Stop(ctx)

	if c.ownsClient {
		if cerr := c.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
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

// Invoke publishes the invocation and returns the receiver count as a JSON
// number.
func (c *Conn) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if c.state.Load() != transport.Connected {
		return nil, transport.ErrNotConnected
	}
	if args == nil {
		args = []any{}
	}

	body, err := json.Marshal(invocation{ID: uuid.NewString(), Method: method, Args: args})
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", transport.ErrInvokeFailed, method, err)
	}

	n, err := c.client.Publish(ctx, InvokeChannel(c.prefix, method), body).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: publish %s: %w", transport.ErrInvokeFailed, method, err)
	}
	return json.RawMessage(strconv.FormatInt(n, 10)), nil
}
