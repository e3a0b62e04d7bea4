package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/zflow/zflow/internal/api/auth"
	"github.com/zflow/zflow/internal/realtime"
)

// SocketHandler upgrades authenticated clients onto the realtime hub
type SocketHandler struct {
	logger *slog.Logger
	auth   *auth.Service
	hub    *realtime.Hub
}

// NewSocketHandler creates a new socket handler
func NewSocketHandler(deps *Dependencies) *SocketHandler {
	return &SocketHandler{
		logger: deps.Logger,
		auth:   deps.Auth,
		hub:    deps.Hub,
	}
}

// Connect handles GET /api/socket. Browsers cannot set headers on a
// WebSocket handshake, so the token may also come as ?token=.
func (h *SocketHandler) Connect(c *gin.Context) {
	token := BearerToken(c)
	if token == "" {
		token = c.Query("token")
	}

	principal, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if err := h.hub.Serve(c.Writer, c.Request, principal.TenantID, principal.UserID); err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("user_id", principal.UserID),
			slog.Any("error", err),
		)
	}
}
