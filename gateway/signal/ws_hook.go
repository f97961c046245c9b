package signal

import (
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/castlab/studio/internal/errors"
	"github.com/castlab/studio/internal/jwt"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/wsevent"
	wsws "github.com/castlab/studio/internal/wsevent/websocket"
)

const (
	chatMessagesPerSec = 5
	chatBurst          = 10
)

func NewWSHook(
	server *Server,
	jwtAuth jwt.Auth,
	logger *log.Logger,
) wsws.ConnectionHooks[session] {
	return &wsHookImpl{
		server:  server,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

type wsHookImpl struct {
	server  *Server
	jwtAuth jwt.Auth
	logger  *log.Logger
}

func (h *wsHookImpl) OnVerify(r *http.Request) (*session, bool, error) {
	// Extract JWT from query parameter or header
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	if token == "" {
		return nil, false, nil
	}

	payload, err := h.jwtAuth.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidToken) || errors.Is(err, jwt.ErrNoToken) {
			return nil, false, nil
		}
		return nil, false, err
	}

	sess := &session{
		reqCtx:      r.Context(),
		connID:      uuid.New().String(),
		authUserID:  payload.UserID,
		chatLimiter: rate.NewLimiter(chatMessagesPerSec, chatBurst),
	}
	return sess, true, nil
}

func (h *wsHookImpl) OnConnect(sctx wsevent.SessionContext[session]) {
	sess := sctx.Get()

	h.server.Connected(sctx)

	wsConnectionsActive.Add(sess.reqCtx, 1)
	wsConnectionsTotal.Add(sess.reqCtx, 1)

	h.logger.Info("Client connected",
		log.String("connId", sess.connID),
		log.String("authUserId", sess.authUserID),
	)
}

func (h *wsHookImpl) OnDisconnect(sctx wsevent.SessionContext[session], closeCode int) {
	sess := sctx.Get()

	h.server.Disconnected(sctx)

	wsConnectionsActive.Add(sess.reqCtx, -1)
	wsDisconnectsTotal.Add(sess.reqCtx, 1)

	h.logger.Info("Client disconnected",
		log.String("connId", sess.connID),
		log.Int("closeCode", closeCode),
	)
}
