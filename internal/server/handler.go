package server

import (
	"errors"
	"net/http"

	"clipshare/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合房间相关的 HTTP handler，依赖注入 service 层。
type Handler struct {
	roomSvc *service.RoomService
}

func NewHandler(roomSvc *service.RoomService) *Handler {
	return &Handler{roomSvc: roomSvc}
}

func roomParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return "", false
	}
	return id, true
}

// ListRooms 返回当前存在的房间列表。
func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.roomSvc.List()})
}

// GetRoom 返回单个房间的在线人数与历史容量。
func (h *Handler) GetRoom(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	room, err := h.roomSvc.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		log.Error().Err(err).Str("room", id).Msg("get room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// ListMessages 返回房间当前保留的历史。
func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.roomSvc.Messages(id)})
}

// ClearMessages 清空房间历史。
func (h *Handler) ClearMessages(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	h.roomSvc.ClearMessages(id)
	log.Info().Str("room", id).Msg("room history cleared")
	c.Status(http.StatusNoContent)
}
