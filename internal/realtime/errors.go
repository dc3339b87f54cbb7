package realtime

import (
	"errors"

	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
)

var (
	ErrConnectFailed = errors.New("push connection handshake failed")
	ErrNotStarted    = errors.New("push connection not started")
	ErrClosed        = errors.New("connection manager is closed")

	ErrNotConnected   = transport.ErrNotConnected
	ErrConnectionLost = transport.ErrConnectionLost
)
