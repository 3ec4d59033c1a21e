package websocket

import (
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
)

// HubMetrics — счетчики хаба. Все операции атомарны,
// снимаются без блокировок.
type HubMetrics struct {
	connectionsTotal  atomic.Int64
	disconnectsTotal  atomic.Int64
	messagesSent      atomic.Int64
	messagesDropped   atomic.Int64
	activeConnections atomic.Int64
}

// hubShard — один шард хаба со своей блокировкой. Комната целиком
// живет в одном шарде, рассылка по комнате не трогает чужие шарды.
type hubShard struct {
	mu sync.RWMutex

	// Клиенты по комнатам
	rooms map[string]map[*Client]bool

	// Последний клиент игрока: roomID -> playerID -> client
	byPlayer map[string]map[string]*Client
}

// Hub — реестр живых WebSocket-соединений, ключом служит комната.
// Хаб отвечает только за доставку байтов; игровую семантику
// (вытеснение сессий, снапшоты) держит движок.
type Hub struct {
	shards  []*hubShard
	metrics HubMetrics

	// Вызывается при отключении клиента (для отметки сессии в движке)
	onDisconnect func(roomID, playerID, connectionID string)
}

// SetDisconnectHandler устанавливает обработчик отключений клиентов
func (h *Hub) SetDisconnectHandler(fn func(roomID, playerID, connectionID string)) {
	h.onDisconnect = fn
}

// NewHub создает хаб с указанным количеством шардов
func NewHub(shardCount int) *Hub {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*hubShard, shardCount)
	for i := range shards {
		shards[i] = &hubShard{
			rooms:    make(map[string]map[*Client]bool),
			byPlayer: make(map[string]map[string]*Client),
		}
	}
	log.Printf("[WebSocketHub] Хаб инициализирован, %d шардов", shardCount)
	return &Hub{shards: shards}
}

func (h *Hub) shardFor(roomID string) *hubShard {
	hash := fnv.New32a()
	hash.Write([]byte(roomID))
	return h.shards[int(hash.Sum32())%len(h.shards)]
}

// Register регистрирует клиента в комнате
func (h *Hub) Register(client *Client) {
	shard := h.shardFor(client.RoomID)
	shard.mu.Lock()
	if shard.rooms[client.RoomID] == nil {
		shard.rooms[client.RoomID] = make(map[*Client]bool)
		shard.byPlayer[client.RoomID] = make(map[string]*Client)
	}
	shard.rooms[client.RoomID][client] = true
	shard.byPlayer[client.RoomID][client.PlayerID] = client
	shard.mu.Unlock()

	h.metrics.connectionsTotal.Add(1)
	h.metrics.activeConnections.Add(1)
	log.Printf("[WebSocketHub] Клиент %s (игрок %s) зарегистрирован в комнате %s",
		client.ConnectionID(), client.PlayerID, client.RoomID)
}

// Unregister удаляет клиента из комнаты и закрывает его канал отправки
func (h *Hub) Unregister(client *Client) {
	shard := h.shardFor(client.RoomID)
	shard.mu.Lock()
	clients, ok := shard.rooms[client.RoomID]
	if ok {
		if _, registered := clients[client]; registered {
			delete(clients, client)
			h.metrics.disconnectsTotal.Add(1)
			h.metrics.activeConnections.Add(-1)
		}
		if len(clients) == 0 {
			delete(shard.rooms, client.RoomID)
			delete(shard.byPlayer, client.RoomID)
		} else if shard.byPlayer[client.RoomID][client.PlayerID] == client {
			// Игрока мог уже перезаписать более новый клиент
			delete(shard.byPlayer[client.RoomID], client.PlayerID)
		}
	}
	shard.mu.Unlock()

	client.closeSend()
	if h.onDisconnect != nil {
		h.onDisconnect(client.RoomID, client.PlayerID, client.ConnectionID())
	}
}

// BroadcastToRoom отправляет байтовое сообщение всем клиентам комнаты
func (h *Hub) BroadcastToRoom(roomID string, message []byte) {
	shard := h.shardFor(roomID)
	shard.mu.RLock()
	clients := make([]*Client, 0, len(shard.rooms[roomID]))
	for client := range shard.rooms[roomID] {
		clients = append(clients, client)
	}
	shard.mu.RUnlock()

	for _, client := range clients {
		if client.QueueMessage(message) {
			h.metrics.messagesSent.Add(1)
		} else {
			h.metrics.messagesDropped.Add(1)
		}
	}
}

// SendToPlayer отправляет байтовое сообщение последнему соединению игрока
func (h *Hub) SendToPlayer(roomID, playerID string, message []byte) bool {
	shard := h.shardFor(roomID)
	shard.mu.RLock()
	var client *Client
	if players, ok := shard.byPlayer[roomID]; ok {
		client = players[playerID]
	}
	shard.mu.RUnlock()

	if client == nil {
		return false
	}
	if client.QueueMessage(message) {
		h.metrics.messagesSent.Add(1)
		return true
	}
	h.metrics.messagesDropped.Add(1)
	return false
}

// RoomClientCount возвращает количество подключенных клиентов комнаты
func (h *Hub) RoomClientCount(roomID string) int {
	shard := h.shardFor(roomID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.rooms[roomID])
}

// ClientCount возвращает общее количество подключенных клиентов
func (h *Hub) ClientCount() int {
	return int(h.metrics.activeConnections.Load())
}

// GetMetrics возвращает текущие метрики хаба
func (h *Hub) GetMetrics() map[string]interface{} {
	roomCount := 0
	for _, shard := range h.shards {
		shard.mu.RLock()
		roomCount += len(shard.rooms)
		shard.mu.RUnlock()
	}
	return map[string]interface{}{
		"active_connections": h.metrics.activeConnections.Load(),
		"connections_total":  h.metrics.connectionsTotal.Load(),
		"disconnects_total":  h.metrics.disconnectsTotal.Load(),
		"messages_sent":      h.metrics.messagesSent.Load(),
		"messages_dropped":   h.metrics.messagesDropped.Load(),
		"rooms":              roomCount,
		"shards":             len(h.shards),
	}
}
