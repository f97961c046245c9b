package workflow

import "context"

// WithEitherDone derives a context that is cancelled when either parent is.
func WithEitherDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)

	stopA := context.AfterFunc(a, cancel)
	stopB := context.AfterFunc(b, cancel)

	return ctx, func() {
		stopA()
		stopB()
		cancel()
	}
}
