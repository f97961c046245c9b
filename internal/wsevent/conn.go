package wsevent

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/castlab/studio/internal/log"
)

type handlerFunc[T any] func(context.Context, *connImpl[T], *Envelope)

type connImpl[T any] struct {
	stream   ObjectStream
	sctx     SessionContext[T]
	handler  handlerFunc[T]
	sendLock sync.Mutex
	closed   atomic.Bool
	logger   *log.Logger
}

func newConn[T any](
	stream ObjectStream,
	v *T,
	handler handlerFunc[T],
	logger *log.Logger,
) *connImpl[T] {
	c := &connImpl[T]{
		stream:  stream,
		closed:  atomic.Bool{},
		handler: handler,
		logger:  logger,
	}
	c.sctx = NewContext[T](c, v)
	return c
}

func (c *connImpl[T]) Open(ctx context.Context) error {
	if err := c.stream.Open(ctx); err != nil {
		return err
	}

	go c.readLoop(ctx)
	return nil
}

func (c *connImpl[T]) Close() error {
	return c.close(nil)
}

func (c *connImpl[T]) Context() SessionContext[T] {
	return c.sctx
}

func (c *connImpl[T]) Send(ctx context.Context, event string, data interface{}) error {
	env, err := newEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.send(ctx, env)
}

func (c *connImpl[T]) close(err error) error {
	if !c.closed.CompareAndSwap(false, true) {
		// already closed
		return ErrClosed
	}

	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		c.logger.Error("wsevent unknown error", log.Error(err))
	}

	return c.stream.Close()
}

func (c *connImpl[T]) readLoop(ctx context.Context) {
	for {
		var env Envelope
		if err := c.stream.Read(ctx, &env); err != nil {
			c.close(err)
			return
		}

		if env.Event == "" {
			c.logger.Warn("ignore message without event name")
			continue
		}

		c.handler(ctx, c, &env)
	}
}

func (c *connImpl[T]) send(ctx context.Context, env *Envelope) error {
	// not allow concurrent sends
	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	return c.stream.Write(ctx, env)
}
