package signal

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/castlab/studio/users"
)

// session is the per-connection state shared by every event handler on a
// connection. Handlers run on the connection's read loop, so mutation
// needs no locking; other connections only ever read reqCtx.
type session struct {
	reqCtx context.Context
	connID string

	// identity carried by the transport token, admission only
	authUserID string

	// populated once a join succeeds
	userID string
	user   *users.Summary
	roomID string

	chatLimiter *rate.Limiter
}
