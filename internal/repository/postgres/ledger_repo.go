package postgres

import (
	"errors"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// LedgerRepo реализует repository.LedgerRepository
type LedgerRepo struct {
	db *gorm.DB
}

// NewLedgerRepo создает новый репозиторий финансовых событий
func NewLedgerRepo(db *gorm.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Имя уникального индекса дедупликации из миграции 000001
const ledgerDedupConstraint = "idx_ledger_dedup"

// SaveEvent сохраняет финансовое событие. Дубликат по уникальному
// индексу (комната, игрок, тип, референс) превращается в ErrConflict:
// первая запись выигрывает, ретраи клиента не создают вторую.
// Нарушение любого другого ограничения (например, первичного ключа)
// не маскируется под идемпотентный повтор.
func (r *LedgerRepo) SaveEvent(event *entity.LedgerEvent) error {
	err := r.db.Create(event).Error
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == ledgerDedupConstraint {
			return apperrors.ErrConflict
		}
		return err
	}
	return nil
}

// HasEvent проверяет наличие события указанного типа для игрока в комнате
func (r *LedgerRepo) HasEvent(roomID, playerID, eventType string) (bool, error) {
	var count int64
	err := r.db.Model(&entity.LedgerEvent{}).
		Where("room_id = ? AND player_id = ? AND type = ?", roomID, playerID, eventType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetRoomEvents возвращает все события комнаты в порядке создания
func (r *LedgerRepo) GetRoomEvents(roomID string) ([]entity.LedgerEvent, error) {
	var events []entity.LedgerEvent
	err := r.db.Where("room_id = ?", roomID).Order("created_at").Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
