package websocket

import (
	"net/http"

	"github.com/castlab/studio/internal/wsevent"
)

// ConnectionHooks allows customizing connection lifecycle behavior
type ConnectionHooks[T any] interface {
	// OnVerify is called before upgrading to WebSocket
	// Return false to reject the connection
	OnVerify(r *http.Request) (*T, bool, error)

	// OnConnect is called after WebSocket connection is established
	OnConnect(sctx wsevent.SessionContext[T])

	// OnDisconnect is called when WebSocket connection is closed
	OnDisconnect(sctx wsevent.SessionContext[T], closeCode int)
}

// defaultHooks rejects every connection, callers must provide real hooks
// to accept traffic
type defaultHooks[T any] struct{}

func (h *defaultHooks[T]) OnVerify(*http.Request) (*T, bool, error) {
	return nil, false, nil
}

func (h *defaultHooks[T]) OnConnect(wsevent.SessionContext[T]) {}

func (h *defaultHooks[T]) OnDisconnect(wsevent.SessionContext[T], int) {}
