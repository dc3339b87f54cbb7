package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the watcher.
type Config struct {
	Server      ServerConfig
	PipelineAPI PipelineAPIConfig
	Push        PushConfig
	Redis       RedisConfig
	Reconnect   ReconnectConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type PipelineAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PushConfig struct {
	// Transport is "websocket" or "redis".
	Transport string
	HubURL    string
}

type RedisConfig struct {
	URL           string
	ChannelPrefix string
}

type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxElapsed of zero retries forever.
	MaxElapsed time.Duration
	// ResyncOnReconnect refetches both snapshots after every (re)connect.
	ResyncOnReconnect bool
}

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("WATCHER_PORT", 8080),
			Env:  envString("WATCHER_ENV", "development"),
		},
		PipelineAPI: PipelineAPIConfig{
			BaseURL: os.Getenv("PIPELINE_API_BASE_URL"),
			Timeout: envDuration("PIPELINE_API_TIMEOUT", 10*time.Second),
		},
		Push: PushConfig{
			Transport: strings.ToLower(envString("PUSH_TRANSPORT", TransportWebSocket)),
			HubURL:    os.Getenv("PUSH_HUB_URL"),
		},
		Redis: RedisConfig{
			URL:           os.Getenv("REDIS_URL"),
			ChannelPrefix: envString("REDIS_CHANNEL_PREFIX", "vodpipeline"),
		},
		Reconnect: ReconnectConfig{
			InitialDelay:      envDuration("RECONNECT_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:          envDuration("RECONNECT_MAX_DELAY", 30*time.Second),
			MaxElapsed:        envDuration("RECONNECT_MAX_ELAPSED", 5*time.Minute),
			ResyncOnReconnect: envBool("RESYNC_ON_RECONNECT", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("WATCHER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.PipelineAPI.BaseURL == "" {
		return fmt.Errorf("PIPELINE_API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.PipelineAPI.BaseURL, "http://") && !strings.HasPrefix(c.PipelineAPI.BaseURL, "https://") {
		return fmt.Errorf("PIPELINE_API_BASE_URL must start with http:// or https://, got %q", c.PipelineAPI.BaseURL)
	}
	if c.PipelineAPI.Timeout <= 0 {
		return fmt.Errorf("PIPELINE_API_TIMEOUT must be positive, got %s", c.PipelineAPI.Timeout)
	}

	switch c.Push.Transport {
	case TransportWebSocket:
		if c.Push.HubURL == "" {
			return fmt.Errorf("PUSH_HUB_URL is required when PUSH_TRANSPORT is websocket")
		}
		if !strings.HasPrefix(c.Push.HubURL, "ws://") && !strings.HasPrefix(c.Push.HubURL, "wss://") {
			return fmt.Errorf("PUSH_HUB_URL must start with ws:// or wss://, got %q", c.Push.HubURL)
		}
	case TransportRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when PUSH_TRANSPORT is redis")
		}
	default:
		return fmt.Errorf("PUSH_TRANSPORT must be one of websocket, redis; got %q", c.Push.Transport)
	}

	if c.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_DELAY must be positive, got %s", c.Reconnect.InitialDelay)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY (%s) must not be less than RECONNECT_INITIAL_DELAY (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.MaxElapsed < 0 {
		return fmt.Errorf("RECONNECT_MAX_ELAPSED must not be negative, got %s", c.Reconnect.MaxElapsed)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
