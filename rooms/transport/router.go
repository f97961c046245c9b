package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/castlab/studio/internal/errors"
	"github.com/castlab/studio/internal/jwt"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/validation"
	"github.com/castlab/studio/rooms"
)

const ctxUserID = "userId"

type Router struct {
	store   rooms.Store
	jwtAuth jwt.Auth
	engine  *gin.Engine
	logger  *log.Logger
}

func NewRouter(
	store rooms.Store,
	jwtAuth jwt.Auth,
	allowedOrigins []string,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Add OpenTelemetry middleware for automatic HTTP tracing
	engine.Use(otelgin.Middleware("rooms-api"))

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r := &Router{
		store:   store,
		jwtAuth: jwtAuth,
		engine:  engine,
		logger:  logger,
	}

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	api := r.engine.Group("/api/rooms", r.authRequired)
	api.POST("", r.createRoom)
	api.GET("", r.listRooms)
	api.GET("/:roomId", r.getRoom)
	api.PUT("/:roomId", r.updateRoom)
	api.DELETE("/:roomId", r.deleteRoom)

	// Health check
	r.engine.GET("/health", r.healthCheck)
}

func (r *Router) authRequired(c *gin.Context) {
	token := c.GetHeader("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
		})
		return
	}

	payload, err := r.jwtAuth.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid token",
		})
		return
	}

	c.Set(ctxUserID, payload.UserID)
	c.Next()
}

func (r *Router) userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func (r *Router) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	roomType := rooms.RoomType(req.Type)
	if roomType == "" {
		roomType = rooms.RoomTypeAudioVideo
	}

	ctx := c.Request.Context()
	room, err := r.store.Create(ctx, &rooms.Room{
		Name:    req.Name,
		Type:    roomType,
		OwnerID: r.userID(c),
	})
	if err != nil {
		r.logger.Error("Failed to create room", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to create room",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"room":    room,
	})
}

func (r *Router) getRoom(c *gin.Context) {
	var req RoomURI
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	ctx := c.Request.Context()
	room, err := r.store.Resolve(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Room not found",
			})
			return
		}
		r.logger.Error("Failed to get room", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get room",
		})
		return
	}

	if !r.hasAccess(room, r.userID(c)) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Access denied",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"room":    room,
	})
}

func (r *Router) listRooms(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := r.store.ListByUser(ctx, r.userID(c))
	if err != nil {
		r.logger.Error("Failed to list rooms", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list rooms",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(result),
		"rooms":   result,
	})
}

func (r *Router) updateRoom(c *gin.Context) {
	var uri RoomURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}
	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	ctx := c.Request.Context()
	if !r.requireOwner(c, uri.RoomID) {
		return
	}

	room, err := r.store.Update(ctx, uri.RoomID, rooms.Update{
		Name:     req.Name,
		IsActive: req.IsActive,
	})
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Room not found",
			})
			return
		}
		r.logger.Error("Failed to update room", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to update room",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"room":    room,
	})
}

func (r *Router) deleteRoom(c *gin.Context) {
	var req RoomURI
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	ctx := c.Request.Context()
	if !r.requireOwner(c, req.RoomID) {
		return
	}

	if err := r.store.Delete(ctx, req.RoomID); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Room not found",
			})
			return
		}
		r.logger.Error("Failed to delete room", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to delete room",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Room deleted successfully",
	})
}

// requireOwner resolves the room and rejects the request unless the caller
// owns it. Writes the error response itself and reports success.
func (r *Router) requireOwner(c *gin.Context, roomID string) bool {
	room, err := r.store.Resolve(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Room not found",
			})
			return false
		}
		r.logger.Error("Failed to resolve room", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to resolve room",
		})
		return false
	}

	if room.OwnerID != r.userID(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Only the owner can modify the room",
		})
		return false
	}
	return true
}

func (r *Router) hasAccess(room *rooms.Room, userID string) bool {
	if room.OwnerID == userID {
		return true
	}
	for _, p := range room.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "rooms",
		"timestamp": time.Now().Unix(),
	})
}
