package dto

import "github.com/yourusername/bingo-api/internal/domain/entity"

// CreateRoomRequest - запрос на создание комнаты
type CreateRoomRequest struct {
	RoomID     string                   `json:"room_id" binding:"required"`
	HostID     string                   `json:"host_id" binding:"required"`
	MaxPlayers int                      `json:"max_players"`
	EntryFee   int                      `json:"entry_fee"`
	Currency   string                   `json:"currency"`
	Rounds     []entity.RoundDefinition `json:"rounds" binding:"required"`
}

// RecordEntryFeeRequest - запрос на фиксацию оплаты входного взноса
type RecordEntryFeeRequest struct {
	PlayerID  string `json:"player_id" binding:"required"`
	Reference string `json:"reference" binding:"required"`
	Amount    int    `json:"amount"`
	Currency  string `json:"currency"`
}

// PurchaseExtraRequest - запрос на покупку экстры
type PurchaseExtraRequest struct {
	PlayerID  string `json:"player_id" binding:"required"`
	Extra     string `json:"extra" binding:"required"`
	Reference string `json:"reference" binding:"required"`
	Amount    int    `json:"amount"`
	Currency  string `json:"currency"`
}

// CreateQuestionRequest - запрос на добавление вопроса в банк
type CreateQuestionRequest struct {
	Text          string   `json:"text" binding:"required"`
	Options       []string `json:"options" binding:"required"`
	CorrectOption int      `json:"correct_option"`
	Difficulty    string   `json:"difficulty"`
	Category      string   `json:"category"`
}
