package handlers

import (
	"log/slog"
	"net/http"

	"collab-service/internal/api/middleware"
	"collab-service/internal/models"

	"github.com/gin-gonic/gin"
)

// Upgrader upgrades an authenticated request into a live connection.
type Upgrader interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

type WSHandler struct {
	upgrader Upgrader
}

func NewWSHandler(upgrader Upgrader) *WSHandler {
	return &WSHandler{upgrader: upgrader}
}

// HandleWebSocket upgrades the request for the user set by the auth
// middleware. Identity never comes from the query string.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Code:    http.StatusUnauthorized,
			Message: "Unauthorized",
		})
		return
	}

	slog.Debug("New WebSocket connection request", "userID", userID)
	h.upgrader.ServeWS(c.Writer, c.Request, userID)
}
