package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yourusername/bingo-api/internal/domain/repository"
	"github.com/yourusername/bingo-api/internal/game"
)

// TTL отметки о публикации: переживает любой разумный ретрай хоста
const prizesReadyMarkTTL = 24 * time.Hour

// prizesReadyPayload — полезная нагрузка сигнала prizes-ready
type prizesReadyPayload struct {
	RoomID      string           `json:"room_id"`
	Leaderboard []game.RankEntry `json:"leaderboard"`
	PublishedAt int64            `json:"published_at"`
}

// SettlementService публикует односторонний сигнал prizes-ready в Redis
// Pub/Sub для внешнего расчетного сервиса. Реализует game.SettlementNotifier.
// Публикация идемпотентна: повторное завершение комнаты сигнал не дублирует.
type SettlementService struct {
	redisClient redis.UniversalClient
	cacheRepo   repository.CacheRepository
	channel     string
}

// NewSettlementService создает новый сервис расчетных сигналов
func NewSettlementService(
	redisClient redis.UniversalClient,
	cacheRepo repository.CacheRepository,
	channel string,
) *SettlementService {
	return &SettlementService{
		redisClient: redisClient,
		cacheRepo:   cacheRepo,
		channel:     channel,
	}
}

// PublishPrizesReady публикует финальный рейтинг комнаты.
// Ошибка возвращается вызывающему: движок оставит комнату в состоянии,
// из которого завершение можно повторить.
func (s *SettlementService) PublishPrizesReady(ctx context.Context, roomID string, ranking []game.RankEntry) error {
	markKey := fmt.Sprintf("prizes_ready:%s", roomID)
	first, err := s.cacheRepo.SetNX(markKey, 1, prizesReadyMarkTTL)
	if err != nil {
		return fmt.Errorf("failed to mark prizes-ready for room %s: %w", roomID, err)
	}
	if !first {
		log.Printf("[SettlementService] Сигнал prizes-ready для комнаты %s уже опубликован, пропускаем", roomID)
		return nil
	}

	payload, err := json.Marshal(prizesReadyPayload{
		RoomID:      roomID,
		Leaderboard: ranking,
		PublishedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal prizes-ready payload: %w", err)
	}

	if err := s.redisClient.Publish(ctx, s.channel, payload).Err(); err != nil {
		// Снимаем отметку, чтобы ретрай хоста опубликовал заново
		if delErr := s.cacheRepo.Delete(markKey); delErr != nil {
			log.Printf("[SettlementService] Не удалось снять отметку публикации %s: %v", markKey, delErr)
		}
		return fmt.Errorf("failed to publish prizes-ready for room %s: %w", roomID, err)
	}

	log.Printf("[SettlementService] Сигнал prizes-ready опубликован в %s: комната %s, %d игроков",
		s.channel, roomID, len(ranking))
	return nil
}
