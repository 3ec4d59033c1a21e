package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bingo-api/internal/domain/entity"
	"github.com/yourusername/bingo-api/internal/handler/dto"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
	"github.com/yourusername/bingo-api/internal/service"
)

// RoomHandler обрабатывает HTTP запросы, связанные с комнатами
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler создает новый обработчик комнат
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// CreateRoom обрабатывает запрос на создание комнаты
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(req.RoomID, req.HostID, entity.RoomConfig{
		MaxPlayers: req.MaxPlayers,
		EntryFee:   req.EntryFee,
		Currency:   req.Currency,
		Rounds:     req.Rounds,
	})
	if err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// GetRoom возвращает публичное состояние комнаты
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("room_id")

	st, err := h.roomService.Engine().Store().Get(roomID)
	if err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, st.PublicView())
}

// DeleteRoom обрабатывает запрос на снос комнаты хостом
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	requesterID := c.Query("requester_id")
	if requesterID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requester_id is required"})
		return
	}

	if err := h.roomService.DeleteRoom(roomID, requesterID); err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// RecordEntryFee фиксирует подтвержденную оплату входного взноса.
// Вызывается леджер-сервисом после проведения платежа; повторный вызов
// с тем же референсом идемпотентен.
func (h *RoomHandler) RecordEntryFee(c *gin.Context) {
	roomID := c.Param("room_id")

	var req dto.RecordEntryFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roomService.RecordEntryFee(c.Request.Context(), roomID, req.PlayerID, req.Reference, req.Amount, req.Currency); err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Entry fee recorded"})
}

// PurchaseExtra фиксирует покупку экстры игроком
func (h *RoomHandler) PurchaseExtra(c *gin.Context) {
	roomID := c.Param("room_id")

	var req dto.PurchaseExtraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roomService.PurchaseExtra(c.Request.Context(), roomID, req.PlayerID, req.Extra, req.Reference, req.Amount, req.Currency); err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Extra purchased"})
}

// GetRoomLedger возвращает финансовые события комнаты
func (h *RoomHandler) GetRoomLedger(c *gin.Context) {
	roomID := c.Param("room_id")

	events, err := h.roomService.RoomLedger(roomID)
	if err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetParticipants возвращает всех когда-либо входивших в комнату игроков
func (h *RoomHandler) GetParticipants(c *gin.Context) {
	roomID := c.Param("room_id")

	participants, err := h.roomService.Participants(roomID)
	if err != nil {
		h.handleRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// handleRoomError преобразует ошибки сервисов в HTTP статусы
func (h *RoomHandler) handleRoomError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrRoomNotFound) || errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrRoomExists) || errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrPaymentRequired) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrRoomFull) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in RoomHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
