package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"collab-service/internal/api/middleware"
	"collab-service/internal/collab"
	"collab-service/internal/models"

	"github.com/gin-gonic/gin"
)

// FriendGraph mutates the friend store.
type FriendGraph interface {
	AddFriend(ctx context.Context, userID, friendID string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error
}

// FriendPresence serves and invalidates cached friend snapshots.
type FriendPresence interface {
	Snapshot(ctx context.Context, userID string) (collab.FriendSnapshot, error)
	InvalidateSnapshot(userIDs ...string)
}

type FriendHandler struct {
	graph    FriendGraph
	presence FriendPresence
}

func NewFriendHandler(graph FriendGraph, presence FriendPresence) *FriendHandler {
	return &FriendHandler{graph: graph, presence: presence}
}

type addFriendRequest struct {
	FriendID string `json:"friend_id" binding:"required"`
}

// GetFriends returns the caller's friends split by online status.
func (h *FriendHandler) GetFriends(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	snap, err := h.presence.Snapshot(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, collab.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, models.ErrorResponse{
			Code:    status,
			Message: "Failed to load friends",
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *FriendHandler) AddFriend(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req addFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FriendID == userID {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid input data",
			Details: "friend_id is required and must differ from the caller",
		})
		return
	}

	if err := h.graph.AddFriend(c.Request.Context(), userID, req.FriendID); err != nil {
		slog.Error("Failed to add friend", "userID", userID, "friendID", req.FriendID, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to add friend",
		})
		return
	}
	h.presence.InvalidateSnapshot(userID, req.FriendID)

	c.JSON(http.StatusCreated, gin.H{"friend_id": req.FriendID})
}

func (h *FriendHandler) RemoveFriend(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	friendID := c.Param("id")
	if friendID == "" || friendID == userID {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid friend ID",
		})
		return
	}

	if err := h.graph.RemoveFriend(c.Request.Context(), userID, friendID); err != nil {
		slog.Error("Failed to remove friend", "userID", userID, "friendID", friendID, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to remove friend",
		})
		return
	}
	h.presence.InvalidateSnapshot(userID, friendID)

	c.Status(http.StatusNoContent)
}
