package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/adapters/realtime"
	"github.com/khoahotran/chatmedia/pkg/auth"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type WSHandler struct {
	hub      *realtime.Hub
	jwtSvc   *auth.JWTService
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewWSHandler(h *realtime.Hub, jwtSvc *auth.JWTService, log logger.Logger) *WSHandler {
	return &WSHandler{
		hub:    h,
		jwtSvc: jwtSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Connect authenticates with ?token= or a Bearer header, then upgrades.
func (h *WSHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}
	claims, err := h.jwtSvc.ValidateToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	realtime.NewClient(h.hub, conn, claims.UserID, h.logger).Serve()
}
