package repository

import (
	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// LedgerRepository определяет методы для записи финансовых событий комнаты.
// Движок пишет события и проверяет статус оплаты, но не владеет хранилищем:
// сверка и распределение средств принадлежат внешнему леджер-сервису.
type LedgerRepository interface {
	// SaveEvent сохраняет событие. Повторная запись с тем же ключом
	// дедупликации (комната, игрок, тип, референс) возвращает ErrConflict.
	SaveEvent(event *entity.LedgerEvent) error

	// HasEvent проверяет наличие события указанного типа для игрока в комнате
	HasEvent(roomID, playerID, eventType string) (bool, error)

	// GetRoomEvents возвращает все события комнаты
	GetRoomEvents(roomID string) ([]entity.LedgerEvent, error)
}
