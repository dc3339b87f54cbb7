package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
	defaultMaxElapsedTime  = 5 * time.Minute
)

// ReconnectPolicy controls how a live connection retries after a drop.
// It never applies to the first handshake.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the whole retry sequence. Zero retries forever.
	MaxElapsedTime time.Duration
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		MaxElapsedTime:  defaultMaxElapsedTime,
	}
}

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return b
}

// Retry calls attempt with exponential backoff until it succeeds, the
// policy gives up, or ctx is done. notify, if set, runs after each failure.
func (p ReconnectPolicy) Retry(ctx context.Context, attempt func() error, notify func(err error, next time.Duration)) error {
	return backoff.RetryNotify(attempt, backoff.WithContext(p.newBackOff(), ctx), notify)
}
