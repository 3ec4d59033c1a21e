package websocket

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Канал Redis для межузловой рассылки событий комнат
const relayChannel = "ws:room_events"

// relayEnvelope — конверт события для межузловой доставки
type relayEnvelope struct {
	Origin   string          `json:"origin"`
	RoomID   string          `json:"room_id"`
	PlayerID string          `json:"player_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// PubSubRelay ретранслирует события комнат между узлами через Redis Pub/Sub.
// Каждый узел публикует свои исходящие события и доставляет чужие своим
// клиентам; собственные публикации отфильтровываются по ID узла, локальная
// доставка не дублируется.
type PubSubRelay struct {
	client     redis.UniversalClient
	hub        HubInterface
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPubSubRelay создает релей поверх существующего Redis-клиента
func NewPubSubRelay(client redis.UniversalClient, hub HubInterface) *PubSubRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubRelay{
		client:     client,
		hub:        hub,
		instanceID: uuid.New().String(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start запускает горутину подписки. Подписка переживает обрывы:
// go-redis сам переподключает PubSub-канал.
func (r *PubSubRelay) Start() {
	pubsub := r.client.Subscribe(r.ctx, relayChannel)
	log.Printf("[PubSubRelay] Узел %s подписан на %s", r.instanceID, relayChannel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					log.Printf("[PubSubRelay] Канал подписки закрыт")
					return
				}
				r.deliver([]byte(msg.Payload))
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// Stop останавливает релей
func (r *PubSubRelay) Stop() {
	r.cancel()
}

// Publish публикует событие комнаты для остальных узлов.
// Пустой playerID означает рассылку всей комнате.
func (r *PubSubRelay) Publish(roomID, playerID string, payload []byte) {
	envelope, err := json.Marshal(relayEnvelope{
		Origin:   r.instanceID,
		RoomID:   roomID,
		PlayerID: playerID,
		Payload:  payload,
	})
	if err != nil {
		log.Printf("[PubSubRelay] Ошибка сериализации конверта для комнаты %s: %v", roomID, err)
		return
	}
	if err := r.client.Publish(r.ctx, relayChannel, envelope).Err(); err != nil {
		log.Printf("[PubSubRelay] Ошибка публикации для комнаты %s: %v", roomID, err)
	}
}

// deliver доставляет чужое событие локальным клиентам
func (r *PubSubRelay) deliver(raw []byte) {
	var envelope relayEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Printf("[PubSubRelay] Невалидный конверт: %v", err)
		return
	}
	// Собственные публикации уже доставлены локально
	if envelope.Origin == r.instanceID {
		return
	}
	if envelope.PlayerID != "" {
		r.hub.SendToPlayer(envelope.RoomID, envelope.PlayerID, envelope.Payload)
		return
	}
	r.hub.BroadcastToRoom(envelope.RoomID, envelope.Payload)
}
