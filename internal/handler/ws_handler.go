package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/yourusername/bingo-api/internal/game"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
	"github.com/yourusername/bingo-api/internal/service"
	"github.com/yourusername/bingo-api/internal/websocket"
)

// Таймаут обработки одного входящего сообщения
const messageTimeout = 10 * time.Second

// WSHandler обрабатывает WebSocket соединения игровых комнат
type WSHandler struct {
	wsHub       websocket.HubInterface
	wsManager   *websocket.Manager
	roomService *service.RoomService
}

// NewWSHandler создает новый обработчик WebSocket
func NewWSHandler(
	wsHub websocket.HubInterface,
	wsManager *websocket.Manager,
	roomService *service.RoomService,
) *WSHandler {
	handler := &WSHandler{
		wsHub:       wsHub,
		wsManager:   wsManager,
		roomService: roomService,
	}

	// Регистрируем обработчики сообщений один раз при создании обработчика
	handler.registerMessageHandlers()

	return handler
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Пустой Origin - не браузерный клиент (мобильное приложение, curl и т.д.)
		if origin == "" {
			return true
		}

		// Список разрешенных origin (синхронизирован с CORS в main.go)
		allowedOrigins := []string{
			"http://localhost:5173",
			"http://localhost:8000",
			"http://localhost:3000",
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: отклонен неразрешенный origin: %s", origin)
		return false
	},
	EnableCompression: true,
}

// HandleConnection обрабатывает входящее WebSocket соединение.
// Идентификация — параметры room_id и player_id; вход в комнату клиент
// выполняет отдельным сообщением room:join или room:recover.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	roomID := c.Query("room_id")
	playerID := c.Query("player_id")
	if roomID == "" || playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id and player_id are required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WSHandler] Ошибка апгрейда соединения: %v", err)
		return
	}

	client := websocket.NewClient(h.wsHub, conn, roomID, playerID, websocket.DefaultClientConfig())
	client.StartPumps(h.wsManager.HandleMessage)
}

// sendSnapshot отправляет клиенту снапшот комнаты
func (h *WSHandler) sendSnapshot(client *websocket.Client, snapshot *game.Snapshot) {
	client.QueueJSON(websocket.Event{
		Type: websocket.ROOM_SNAPSHOT,
		Data: snapshot,
	})
}

// sendEngineError транслирует ошибку движка клиенту. Просроченные ответы
// намеренно молчаливы: ретраи клиента при плохой сети ожидаемы.
func (h *WSHandler) sendEngineError(client *websocket.Client, err error) {
	switch {
	case errors.Is(err, apperrors.ErrStaleAnswer):
		// no-op
	case errors.Is(err, apperrors.ErrRoomNotFound):
		h.wsManager.SendErrorToClient(client, "room_not_found", "Room does not exist")
	case errors.Is(err, apperrors.ErrRoomFull):
		h.wsManager.SendErrorToClient(client, "room_full", "Room is full")
	case errors.Is(err, apperrors.ErrPlayerNotFound):
		h.wsManager.SendErrorToClient(client, "player_not_found", "Player is not in this room")
	case errors.Is(err, apperrors.ErrPaymentRequired):
		h.wsManager.SendErrorToClient(client, "payment_required", "Entry fee has not been paid")
	case errors.Is(err, apperrors.ErrWrongPhase):
		h.wsManager.SendErrorToClient(client, "wrong_phase", err.Error())
	case errors.Is(err, apperrors.ErrForbidden):
		h.wsManager.SendErrorToClient(client, "forbidden", err.Error())
	case errors.Is(err, apperrors.ErrExtraExhausted):
		h.wsManager.SendErrorToClient(client, "extra_exhausted", "Extra already used this round")
	case errors.Is(err, apperrors.ErrValidation):
		h.wsManager.SendErrorToClient(client, "validation_error", err.Error())
	default:
		log.Printf("[WSHandler] Внутренняя ошибка для игрока %s: %v", client.PlayerID, err)
		h.wsManager.SendErrorToClient(client, "internal_error", "Internal server error")
	}
}

// registerMessageHandlers регистрирует обработчики для всех типов сообщений.
// Ошибки движка не закрывают соединение: клиент получает server:error
// и продолжает работу.
func (h *WSHandler) registerMessageHandlers() {
	engine := h.roomService.Engine()

	h.wsManager.RegisterHandler(websocket.MSG_ROOM_JOIN, func(data json.RawMessage, client *websocket.Client) error {
		var joinEvent struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &joinEvent); err != nil {
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse room:join event")
			return fmt.Errorf("failed to parse room:join event: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		snapshot, err := engine.JoinRoom(ctx, client.RoomID, client.PlayerID, joinEvent.Name, client)
		if err != nil {
			h.sendEngineError(client, err)
			return nil
		}
		h.sendSnapshot(client, snapshot)
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_ROOM_RECOVER, func(data json.RawMessage, client *websocket.Client) error {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		snapshot, err := engine.Recover(ctx, client.RoomID, client.PlayerID, client)
		if err != nil {
			h.sendEngineError(client, err)
			return nil
		}
		h.sendSnapshot(client, snapshot)
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_ANSWER_SUBMIT, func(data json.RawMessage, client *websocket.Client) error {
		var answerEvent struct {
			QuestionID     uint `json:"question_id"`
			SelectedOption int  `json:"selected_option"`
		}
		if err := json.Unmarshal(data, &answerEvent); err != nil {
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse answer:submit event")
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if err := engine.SubmitAnswer(ctx, client.RoomID, client.PlayerID, answerEvent.QuestionID, answerEvent.SelectedOption); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_EXTRA_USE, func(data json.RawMessage, client *websocket.Client) error {
		var extraEvent struct {
			Extra    string `json:"extra"`
			TargetID string `json:"target_id"`
		}
		if err := json.Unmarshal(data, &extraEvent); err != nil {
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse extras:use event")
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if err := engine.UseExtra(ctx, client.RoomID, client.PlayerID, extraEvent.Extra, extraEvent.TargetID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_HOST_START, func(data json.RawMessage, client *websocket.Client) error {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if err := engine.StartGame(ctx, client.RoomID, client.PlayerID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_HOST_NEXT_QUESTION, func(data json.RawMessage, client *websocket.Client) error {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if err := engine.AdvanceQuestion(ctx, client.RoomID, client.PlayerID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_HOST_NEXT_ROUND, func(data json.RawMessage, client *websocket.Client) error {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if err := engine.AdvanceRound(ctx, client.RoomID, client.PlayerID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_HOST_PAUSE, func(data json.RawMessage, client *websocket.Client) error {
		if err := engine.Pause(client.RoomID, client.PlayerID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_HOST_RESUME, func(data json.RawMessage, client *websocket.Client) error {
		if err := engine.Resume(client.RoomID, client.PlayerID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})

	h.wsManager.RegisterHandler(websocket.MSG_HOST_END_ROOM, func(data json.RawMessage, client *websocket.Client) error {
		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()
		if err := engine.EndRoom(ctx, client.RoomID, client.PlayerID); err != nil {
			h.sendEngineError(client, err)
		}
		return nil
	})
}
