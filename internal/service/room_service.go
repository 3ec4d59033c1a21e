package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	"github.com/yourusername/bingo-api/internal/domain/repository"
	"github.com/yourusername/bingo-api/internal/game"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// TTL кеша статуса оплаты
const paidCacheTTL = 30 * time.Minute

// RoomService — координатор вокруг игрового движка: создание и снос комнат,
// платежное гейтирование через леджер и покупка экстр. Реализует
// game.PaymentChecker. Сам движок о леджере и Redis не знает.
type RoomService struct {
	engine     *game.Engine
	ledgerRepo repository.LedgerRepository
	cacheRepo  repository.CacheRepository
}

// NewRoomService создает новый сервис комнат
func NewRoomService(
	engine *game.Engine,
	ledgerRepo repository.LedgerRepository,
	cacheRepo repository.CacheRepository,
) *RoomService {
	return &RoomService{
		engine:     engine,
		ledgerRepo: ledgerRepo,
		cacheRepo:  cacheRepo,
	}
}

// Engine возвращает игровой движок (для WebSocket-обработчиков)
func (s *RoomService) Engine() *game.Engine {
	return s.engine
}

func paidCacheKey(roomID, playerID string) string {
	return fmt.Sprintf("paid:%s:%s", roomID, playerID)
}

func participantsKey(roomID string) string {
	return fmt.Sprintf("room:%s:participants", roomID)
}

// CreateRoom создает комнату и её набор участников в Redis
func (s *RoomService) CreateRoom(roomID, hostID string, cfg entity.RoomConfig) (*entity.Room, error) {
	room, err := s.engine.CreateRoom(roomID, hostID, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.cacheRepo.SAdd(participantsKey(roomID), hostID); err != nil {
		log.Printf("[RoomService] Не удалось создать набор участников комнаты %s: %v", roomID, err)
	}
	return room, nil
}

// DeleteRoom сносит комнату и её кеши
func (s *RoomService) DeleteRoom(roomID, requesterID string) error {
	if err := s.engine.DeleteRoom(roomID, requesterID); err != nil {
		return err
	}
	if err := s.cacheRepo.Delete(participantsKey(roomID)); err != nil {
		log.Printf("[RoomService] Не удалось удалить набор участников комнаты %s: %v", roomID, err)
	}
	return nil
}

// Participants возвращает всех когда-либо входивших в комнату игроков
func (s *RoomService) Participants(roomID string) ([]string, error) {
	return s.cacheRepo.SMembers(participantsKey(roomID))
}

// IsPaid проверяет подтверждение входного взноса игрока.
// Реализует game.PaymentChecker: сперва кеш, затем леджер; положительный
// ответ кешируется — оплата не отзывается в течение жизни комнаты.
func (s *RoomService) IsPaid(ctx context.Context, roomID, playerID string) (bool, error) {
	if exists, err := s.cacheRepo.Exists(paidCacheKey(roomID, playerID)); err == nil && exists {
		return true, nil
	}

	paid, err := s.ledgerRepo.HasEvent(roomID, playerID, entity.LedgerEventEntryFee)
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	if paid {
		if err := s.cacheRepo.Set(paidCacheKey(roomID, playerID), 1, paidCacheTTL); err != nil {
			log.Printf("[RoomService] Не удалось закешировать статус оплаты %s/%s: %v", roomID, playerID, err)
		}
	}
	return paid, nil
}

// RecordEntryFee фиксирует оплату входного взноса. Повторная фиксация
// с тем же референсом идемпотентна: дубликат из леджера не считается ошибкой.
func (s *RoomService) RecordEntryFee(ctx context.Context, roomID, playerID, reference string, amount int, currency string) error {
	event := &entity.LedgerEvent{
		RoomID:    roomID,
		PlayerID:  playerID,
		Type:      entity.LedgerEventEntryFee,
		Reference: reference,
		Amount:    amount,
		Currency:  currency,
	}
	if err := s.ledgerRepo.SaveEvent(event); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return fmt.Errorf("failed to record entry fee: %w", err)
		}
		log.Printf("[RoomService] Повторная фиксация взноса %s/%s (ref=%s), игнорируем", roomID, playerID, reference)
	}

	if err := s.cacheRepo.Set(paidCacheKey(roomID, playerID), 1, paidCacheTTL); err != nil {
		log.Printf("[RoomService] Не удалось закешировать статус оплаты %s/%s: %v", roomID, playerID, err)
	}
	if err := s.cacheRepo.SAdd(participantsKey(roomID), playerID); err != nil {
		log.Printf("[RoomService] Не удалось добавить участника %s в набор комнаты %s: %v", playerID, roomID, err)
	}
	return nil
}

// PurchaseExtra фиксирует покупку экстры в леджере и отмечает её купленной
// в движке. Дубликат покупки (тот же референс) не ошибка: отметка в движке
// все равно выставляется, повторная отметка безвредна.
func (s *RoomService) PurchaseExtra(ctx context.Context, roomID, playerID, extraType, reference string, amount int, currency string) error {
	event := &entity.LedgerEvent{
		RoomID:    roomID,
		PlayerID:  playerID,
		Type:      entity.LedgerEventExtraPurchase,
		Reference: reference,
		Amount:    amount,
		Currency:  currency,
	}
	if err := s.ledgerRepo.SaveEvent(event); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return fmt.Errorf("failed to record extra purchase: %w", err)
		}
		log.Printf("[RoomService] Повторная покупка экстры %s игроком %s (ref=%s), игнорируем", extraType, playerID, reference)
	}
	return s.engine.GrantExtra(roomID, playerID, extraType)
}

// RoomLedger возвращает все финансовые события комнаты
func (s *RoomService) RoomLedger(roomID string) ([]entity.LedgerEvent, error) {
	return s.ledgerRepo.GetRoomEvents(roomID)
}
