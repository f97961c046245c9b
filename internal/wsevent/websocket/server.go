package websocket

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/wsevent"
)

// Server upgrades HTTP requests to WebSocket connections and dispatches
// their events through a shared wsevent.Handler.
type Server[T any] struct {
	wsevent.Handler[T]
	hooks          ConnectionHooks[T]
	allowedOrigins []string
	logger         *log.Logger
}

// NewServer creates a new event server with the given logger
func NewServer[T any](
	hooks ConnectionHooks[T],
	allowedOrigins []string,
	logger *log.Logger,
) *Server[T] {
	return NewServerWithHandler(wsevent.NewHandler[T](logger), hooks, allowedOrigins, logger)
}

// NewServerWithHandler serves an existing handler registry, so event
// handlers can be registered before the transport exists.
func NewServerWithHandler[T any](
	handler wsevent.Handler[T],
	hooks ConnectionHooks[T],
	allowedOrigins []string,
	logger *log.Logger,
) *Server[T] {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if hooks == nil {
		hooks = &defaultHooks[T]{}
	}
	server := &Server[T]{
		Handler:        handler,
		allowedOrigins: allowedOrigins,
		hooks:          hooks,
		logger:         logger,
	}
	return server
}

// HandleWebSocket handles WebSocket connection upgrade and event dispatch
func (s *Server[T]) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	initValue, passed, err := s.hooks.OnVerify(r)
	if err != nil {
		s.logger.Warn("Connection verification error",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		http.Error(w, "fail to verify", http.StatusInternalServerError)
		return
	} else if !passed {
		s.logger.Info("Connection verification failed",
			log.String("remote_addr", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.logger.Error("WebSocket open failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}

	stream := newStream(wsConn, s.logger)
	evConn := s.Handler.NewConn(stream, initValue)

	s.logger.Info("WebSocket connection established",
		log.String("remote_addr", r.RemoteAddr),
		log.String("user_agent", r.UserAgent()))

	s.hooks.OnConnect(evConn.Context())
	if err := evConn.Open(r.Context()); err != nil {
		s.logger.Error("Failed to open event connection",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}

	// Wait for connection to close
	stream.wait()

	// TODO: propagate the real close code from the stream
	s.hooks.OnDisconnect(evConn.Context(), 1006)
}
