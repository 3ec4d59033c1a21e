package websocket

import (
	"encoding/json"
	"fmt"
	"log"
)

// Event представляет структуру WebSocket-сообщения
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Manager обрабатывает входящие WebSocket сообщения и служит точкой
// исходящих рассылок движка (game.Broadcaster). При подключенном релее
// события дублируются в Redis для остальных узлов.
type Manager struct {
	hub            HubInterface
	relay          *PubSubRelay
	messageHandler map[string]func(data json.RawMessage, client *Client) error
}

// NewManager создает новый менеджер WebSocket
func NewManager(hub HubInterface) *Manager {
	return &Manager{
		hub:            hub,
		messageHandler: make(map[string]func(data json.RawMessage, client *Client) error),
	}
}

// SetRelay подключает межузловой релей рассылок
func (m *Manager) SetRelay(relay *PubSubRelay) {
	m.relay = relay
}

// RegisterHandler регистрирует обработчик для определенного типа сообщений
func (m *Manager) RegisterHandler(eventType string, handler func(data json.RawMessage, client *Client) error) {
	m.messageHandler[eventType] = handler
	log.Printf("[WebSocketManager] Зарегистрирован обработчик для сообщений типа: %s", eventType)
}

// HandleMessage обрабатывает входящее сообщение от клиента.
// Возвращает error, если обработка не удалась и соединение нужно закрыть.
func (m *Manager) HandleMessage(message []byte, client *Client) error {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		log.Printf("[WebSocketManager] Невалидный JSON от игрока %s: %v", client.PlayerID, err)
		m.SendErrorToClient(client, "invalid_message_format", "Invalid JSON format")
		return err // Ошибка парсинга - закрываем соединение
	}

	handler, ok := m.messageHandler[event.Type]
	if !ok {
		log.Printf("[WebSocketManager] Нет обработчика для типа '%s' (игрок %s)", event.Type, client.PlayerID)
		m.SendErrorToClient(client, "unknown_message_type", fmt.Sprintf("Unknown message type: %s", event.Type))
		return nil // Неизвестный тип - не закрываем соединение
	}

	rawMessage, _ := json.Marshal(event.Data)
	if err := handler(rawMessage, client); err != nil {
		log.Printf("[WebSocketManager] Обработчик '%s' вернул ошибку для игрока %s: %v", event.Type, client.PlayerID, err)
		return err
	}
	return nil
}

// SendErrorToClient отправляет стандартизированное сообщение об ошибке клиенту.
// Этот метод НЕ закрывает соединение.
func (m *Manager) SendErrorToClient(client *Client, code string, message string) {
	client.QueueJSON(Event{
		Type: SERVER_ERROR,
		Data: map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// BroadcastToRoom отправляет событие всем клиентам комнаты.
// Реализует game.Broadcaster.
func (m *Manager) BroadcastToRoom(roomID string, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("[WebSocketManager] Ошибка сериализации события %s для комнаты %s: %v", eventType, roomID, err)
		return
	}
	m.hub.BroadcastToRoom(roomID, payload)
	if m.relay != nil {
		m.relay.Publish(roomID, "", payload)
	}
}

// SendToPlayer отправляет событие конкретному игроку комнаты.
// Реализует game.Broadcaster.
func (m *Manager) SendToPlayer(roomID, playerID string, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		log.Printf("[WebSocketManager] Ошибка сериализации события %s для игрока %s: %v", eventType, playerID, err)
		return
	}
	delivered := m.hub.SendToPlayer(roomID, playerID, payload)
	if !delivered && m.relay != nil {
		// Игрок может быть подключен к другому узлу
		m.relay.Publish(roomID, playerID, payload)
	}
}

// GetMetrics возвращает текущие метрики WebSocket-системы
func (m *Manager) GetMetrics() map[string]interface{} {
	return m.hub.GetMetrics()
}
