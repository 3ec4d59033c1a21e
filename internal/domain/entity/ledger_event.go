package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Константы типов финансовых событий
const (
	LedgerEventEntryFee      = "entry_fee"
	LedgerEventExtraPurchase = "extra_purchase"
	LedgerEventPrizePayout   = "prize_payout"
)

// LedgerEvent представляет финансовое событие, привязанное к комнате.
// Движок только записывает события через репозиторий, хранение и
// сверка принадлежат внешнему леджер-сервису.
type LedgerEvent struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID    string    `gorm:"size:64;not null;index;uniqueIndex:idx_ledger_dedup" json:"room_id"`
	PlayerID  string    `gorm:"size:64;not null;index;uniqueIndex:idx_ledger_dedup" json:"player_id"`
	Type      string    `gorm:"size:32;not null;uniqueIndex:idx_ledger_dedup" json:"type"`
	Reference string    `gorm:"size:64;not null;default:'';uniqueIndex:idx_ledger_dedup" json:"reference"`
	Amount    int       `gorm:"not null" json:"amount"`
	Currency  string    `gorm:"size:16;not null;default:'usd'" json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (LedgerEvent) TableName() string {
	return "ledger_events"
}

// BeforeCreate присваивает событию UUID, если вызывающий не задал свой.
// Дедупликация держится не на ID, а на уникальном индексе
// (комната, игрок, тип, референс)
func (e *LedgerEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
