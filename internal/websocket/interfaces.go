package websocket

// HubInterface определяет возможности хаба для Manager.
type HubInterface interface {
	// Register регистрирует клиента в комнате
	Register(client *Client)

	// Unregister удаляет клиента из комнаты
	Unregister(client *Client)

	// BroadcastToRoom отправляет байтовое сообщение всем клиентам комнаты
	BroadcastToRoom(roomID string, message []byte)

	// SendToPlayer отправляет байтовое сообщение конкретному игроку комнаты
	SendToPlayer(roomID, playerID string, message []byte) bool

	// RoomClientCount возвращает количество подключенных клиентов комнаты
	RoomClientCount(roomID string) int

	// ClientCount возвращает общее количество подключенных клиентов
	ClientCount() int

	// GetMetrics возвращает метрики хаба
	GetMetrics() map[string]interface{}
}
