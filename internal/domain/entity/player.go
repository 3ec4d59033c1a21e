package entity

import (
	"time"
)

// FrozenStatus описывает заморозку игрока: заморозка действует только
// на вопрос с указанным индексом в указанном раунде.
type FrozenStatus struct {
	Active        bool `json:"active"`
	Round         int  `json:"round"`
	QuestionIndex int  `json:"question_index"`
}

// Player представляет игрока в комнате. Игрок принадлежит своей комнате
// и удаляется вместе с ней.
type Player struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Paid            bool           `json:"paid"`
	Score           int            `json:"score"`
	NegativePoints  int            `json:"negative_points"`
	UsedExtras      map[string]int `json:"used_extras"`
	PurchasedExtras map[string]int `json:"purchased_extras"`
	Frozen          FrozenStatus   `json:"frozen"`
	JoinedAt        time.Time      `json:"joined_at"`
}

// NewPlayer создает нового игрока с нулевым счетом
func NewPlayer(id, name string, paid bool) *Player {
	return &Player{
		ID:              id,
		Name:            name,
		Paid:            paid,
		UsedExtras:      make(map[string]int),
		PurchasedExtras: make(map[string]int),
		JoinedAt:        time.Now(),
	}
}

// ResetRoundExtras сбрасывает счетчики использованных экстр при смене раунда.
// Лимит использования экстр действует в пределах одного раунда.
func (p *Player) ResetRoundExtras() {
	p.UsedExtras = make(map[string]int)
}

// CanUseExtra проверяет, доступна ли игроку экстра указанного типа
// (куплена и не исчерпан лимит использования за раунд, максимум одна за раунд).
func (p *Player) CanUseExtra(extraType string) bool {
	if p.PurchasedExtras[extraType] <= 0 {
		return false
	}
	return p.UsedExtras[extraType] < 1
}

// IsFrozenFor проверяет, заморожен ли игрок для конкретного вопроса
func (p *Player) IsFrozenFor(round, questionIndex int) bool {
	return p.Frozen.Active && p.Frozen.Round == round && p.Frozen.QuestionIndex == questionIndex
}
