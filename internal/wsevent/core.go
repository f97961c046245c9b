package wsevent

import (
	"context"
	"encoding/json"

	"github.com/castlab/studio/internal/errors"
	"github.com/castlab/studio/internal/log"
)

// handlerImpl manages event handlers shared by every connection it creates
type handlerImpl[T any] struct {
	events map[string]EventHandler[T]
	logger *log.Logger
}

// NewHandler creates a new event handler registry with the given logger
func NewHandler[T any](logger *log.Logger) Handler[T] {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &handlerImpl[T]{
		events: make(map[string]EventHandler[T]),
		logger: logger,
	}
}

// On registers an event handler, not safe to call after connections are open
func (s *handlerImpl[T]) On(event string, handler EventHandler[T]) {
	if _, ok := s.events[event]; ok {
		panic("event already defined: " + event)
	}
	s.events[event] = handler
}

func (s *handlerImpl[T]) NewConn(stream ObjectStream, v *T) Conn[T] {
	return newConn(stream, v, s.handle, s.logger)
}

func (s *handlerImpl[T]) handle(ctx context.Context, conn *connImpl[T], env *Envelope) {

	s.logger.Debug("event received", log.String("event", env.Event))

	handler, ok := s.events[env.Event]
	if !ok {
		// tolerate unknown events, peers may be newer than the server
		s.logger.Warn("unknown event ignored", log.String("event", env.Event))
		return
	}

	if err := handler(conn.sctx, env.Data); err != nil {
		s.reportError(ctx, conn, env.Event, err)
	}
}

func (s *handlerImpl[T]) reportError(ctx context.Context, conn *connImpl[T], event string, err error) {
	var message string
	if evErr, ok := errors.As[*Error](err); ok {
		s.logger.Warn("event handler rejected",
			log.String("event", event),
			log.String("reason", (*evErr).Message))
		message = (*evErr).Message
	} else {
		s.logger.Error("event handler failed",
			log.String("event", event),
			log.Error(err))
		// do not disclose internal error details to the peer
		message = "internal error"
	}

	if err := conn.Send(ctx, ErrorEvent, &ErrorData{Message: message}); err != nil {
		s.logger.Error("failed to send error event",
			log.String("event", event),
			log.Error(err))
	}
}

// BindData unmarshals and validates event data
func BindData(data *json.RawMessage, v any) error {
	if data == nil {
		return ErrInvalidData("data required")
	}
	if err := json.Unmarshal(*data, v); err != nil {
		return ErrInvalidData("invalid data")
	}
	if err := validate.Struct(v); err != nil {
		return ErrInvalidData("invalid data")
	}
	return nil
}
