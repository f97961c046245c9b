package wsevent

import (
	"context"
	"encoding/json"
	"io"
)

type Handler[T any] interface {
	pureHandler[T]
	// all connections created by this handler share the same event handlers (On)
	NewConn(stream ObjectStream, v *T) Conn[T]
}

type Conn[T any] interface {
	// Send emits an event to the remote peer
	Send(ctx context.Context, event string, data interface{}) error
	Open(ctx context.Context) error
	Context() SessionContext[T]
	io.Closer
}

type pureHandler[T any] interface {
	On(event string, handler EventHandler[T])
}

// EventHandler handles one inbound event.
// session context is shared across all events on a connection
type EventHandler[T any] func(sctx SessionContext[T], data *json.RawMessage) error

type ObjectStream interface {
	Open(ctx context.Context) error
	Read(ctx context.Context, v interface{}) error
	Write(ctx context.Context, obj interface{}) error
	io.Closer
}
