package realtime

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/vodwatch/internal/config"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/redisconn"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/wsconn"
)

// NewDialer returns the Dialer for the configured push transport.
// Called once at startup; the Dialer runs on every Start.
func NewDialer(cfg *config.Config, logger *slog.Logger) (Dialer, error) {
	policy := transport.ReconnectPolicy{
		InitialInterval: cfg.Reconnect.InitialDelay,
		MaxInterval:     cfg.Reconnect.MaxDelay,
		MaxElapsedTime:  cfg.Reconnect.MaxElapsed,
	}

	switch cfg.Push.Transport {
	case config.TransportWebSocket:
		return func() (transport.Conn, error) {
			return wsconn.New(wsconn.Options{
				URL:    cfg.Push.HubURL,
				Policy: policy,
				Logger: logger,
			})
		}, nil
	case config.TransportRedis:
		return func() (transport.Conn, error) {
			return redisconn.New(redisconn.Options{
				URL:    cfg.Redis.URL,
				Prefix: cfg.Redis.ChannelPrefix,
				Policy: policy,
				Logger: logger,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q: must be one of websocket, redis", cfg.Push.Transport)
	}
}
