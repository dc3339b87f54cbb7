package redisconn_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kiranshivaraju/vodwatch/internal/realtime/redisconn"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
)

// setupRedis spins up a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return "redis://" + host + ":" + port.Port()
}

func newConn(t *testing.T, url string) *redisconn.Conn {
	t.Helper()
	c, err := redisconn.New(redisconn.Options{
		URL:    url,
		Prefix: "test",
		Policy: transport.ReconnectPolicy{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			MaxElapsedTime:  5 * time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func publisher(t *testing.T, url string) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := redisconn.New(redisconn.Options{URL: "not-a-redis-url"})
	assert.Error(t, err)
}

func TestStart_Unreachable(t *testing.T) {
	c := newConn(t, "redis://127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, transport.Disconnected, c.State())
}

func TestInvoke_NotConnected(t *testing.T) {
	c := newConn(t, "redis://127.0.0.1:1")
	_, err := c.Invoke(context.Background(), "Subscribe")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestStart_DispatchesPublishedEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRedis(t)
	c := newConn(t, url)
	ctx := context.Background()

	got := make(chan json.RawMessage, 1)
	c.On("apiHeartbeat", func(p json.RawMessage) error {
		got <- p
		return nil
	})

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, transport.Connected, c.State())
	assert.NotEmpty(t, c.ConnectionID())

	pub := publisher(t, url)
	require.NoError(t, pub.Publish(ctx, redisconn.EventChannel("test", "apiHeartbeat"), `{"status":"Healthy"}`).Err())

	select {
	case p := <-got:
		assert.JSONEq(t, `{"status":"Healthy"}`, string(p))
	case <-time.After(5 * time.Second):
		t.Fatal("event was not dispatched")
	}
}

func TestInvoke_PublishesInvocation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRedis(t)
	c := newConn(t, url)
	ctx := context.Background()

	sub := publisher(t, url).Subscribe(ctx, redisconn.InvokeChannel("test", "RequestSnapshot"))
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, c.Start(ctx))

	res, err := c.Invoke(ctx, "RequestSnapshot", "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(res))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var inv struct {
		ID     string `json:"id"`
		Method string `json:"method"`
		Args   []any  `json:"args"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &inv))
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, "RequestSnapshot", inv.Method)
	assert.Equal(t, []any{"job-1"}, inv.Args)
}

func TestReconnect_AfterClientKill(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRedis(t)
	c := newConn(t, url)
	ctx := context.Background()

	reconnecting := make(chan error, 1)
	reconnected := make(chan string, 1)
	c.OnReconnecting(func(err error) { reconnecting <- err })
	c.OnReconnected(func(id string) { reconnected <- id })

	got := make(chan struct{}, 1)
	c.On("dbStatusChanged", func(json.RawMessage) error {
		got <- struct{}{}
		return nil
	})

	require.NoError(t, c.Start(ctx))
	firstID := c.ConnectionID()

	admin := publisher(t, url)
	require.NoError(t, admin.Do(ctx, "CLIENT", "KILL", "TYPE", "pubsub").Err())

	select {
	case <-reconnecting:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnecting callback not fired")
	}
	select {
	case id := <-reconnected:
		assert.NotEqual(t, firstID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("reconnected callback not fired")
	}

	require.NoError(t, admin.Publish(ctx, redisconn.EventChannel("test", "dbStatusChanged"), `{}`).Err())
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("handler lost across reconnect")
	}
}

func TestStop_FiresClosed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRedis(t)
	c := newConn(t, url)
	ctx := context.Background()

	closed := make(chan error, 2)
	c.OnClosed(func(err error) { closed <- err })

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, transport.Disconnected, c.State())
	assert.NoError(t, <-closed)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(ctx), transport.ErrConnClosed)
}
