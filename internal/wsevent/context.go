package wsevent

import "sync/atomic"

type SessionContext[T any] interface {
	Get() *T
	Set(value *T)
	Conn() Conn[T]
}

func NewContext[T any](conn Conn[T], v *T) SessionContext[T] {
	c := &contextImpl[T]{
		conn: conn,
	}
	c.v.Store(v)
	return c
}

// contextImpl holds connection-level state shared across all events on a connection
type contextImpl[T any] struct {
	conn Conn[T]
	v    atomic.Pointer[T]
}

func (c *contextImpl[T]) Set(value *T) {
	c.v.Store(value)
}

func (c *contextImpl[T]) Get() *T {
	return c.v.Load()
}

func (c *contextImpl[T]) Conn() Conn[T] {
	return c.conn
}
