package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/castlab/studio/gateway/signal"
	"github.com/castlab/studio/internal/log"
)

type Router struct {
	server *signal.Server
	engine *gin.Engine
	logger *log.Logger
}

// NewRouter builds the gateway HTTP surface: the WebSocket entry point
// plus health and stats endpoints.
func NewRouter(
	server *signal.Server,
	handleWS http.HandlerFunc,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Add OpenTelemetry middleware for automatic HTTP tracing
	engine.Use(otelgin.Middleware("gateway"))

	r := &Router{
		server: server,
		engine: engine,
		logger: logger,
	}

	engine.GET("/ws", gin.WrapF(handleWS))
	engine.GET("/health", r.healthCheck)
	engine.GET("/stats", r.stats)

	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "gateway",
		"timestamp": time.Now().Unix(),
	})
}

func (r *Router) stats(c *gin.Context) {
	c.JSON(http.StatusOK, r.server.Stats())
}
