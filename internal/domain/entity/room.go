package entity

import (
	"time"
)

// Константы фаз комнаты
const (
	RoomPhaseWaiting     = "waiting"
	RoomPhaseAsking      = "asking"
	RoomPhaseReviewing   = "reviewing"
	RoomPhaseTiebreaker  = "tiebreaker"
	RoomPhaseLeaderboard = "leaderboard"
	RoomPhaseComplete    = "complete"
)

// Константы типов раундов
const (
	RoundTypeGeneralTrivia = "general_trivia"
	RoundTypeWipeout       = "wipeout"
	RoundTypeSpeedRound    = "speed_round"
	RoundTypeHeadToHead    = "head_to_head"
)

// Константы типов экстр (платных игровых модификаторов)
const (
	ExtraHint      = "hint"
	ExtraFreeze    = "freeze"
	ExtraRobPoints = "rob_points"
	ExtraRestore   = "restore_points"
)

// ScoringOverride содержит переопределения политики подсчета очков для раунда.
// Все поля опциональны: nil-поле не затирает значение по умолчанию,
// слияние выполняется по каждому полю отдельно.
type ScoringOverride struct {
	PointsPerDifficulty     map[string]int `json:"points_per_difficulty,omitempty"`
	PointsLostPerWrong      *int           `json:"points_lost_per_wrong,omitempty"`
	PointsLostPerUnanswered *int           `json:"points_lost_per_unanswered,omitempty"`
}

// RoundDefinition описывает один раунд комнаты
type RoundDefinition struct {
	Type            string           `json:"type"`
	QuestionCount   int              `json:"question_count"`
	TimeLimitSec    int              `json:"time_limit_sec"`
	Category        string           `json:"category,omitempty"`
	EnabledExtras   []string         `json:"enabled_extras,omitempty"`
	ScoringOverride *ScoringOverride `json:"scoring_override,omitempty"`
}

// RoomConfig содержит конфигурацию комнаты, задаваемую хостом при создании
type RoomConfig struct {
	MaxPlayers int               `json:"max_players"`
	EntryFee   int               `json:"entry_fee"`
	Currency   string            `json:"currency,omitempty"`
	Rounds     []RoundDefinition `json:"rounds"`
}

// Room представляет игровую комнату — единицу изоляции состояния.
// Все мутации полей выполняются только через операции движка,
// внешние компоненты читают комнату как снимок.
type Room struct {
	ID                   string     `json:"id"`
	HostID               string     `json:"host_id"`
	Config               RoomConfig `json:"config"`
	Phase                string     `json:"phase"`
	CurrentRound         int        `json:"current_round"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	QuestionStartMs      int64      `json:"question_start_ms"`
	Paused               bool       `json:"paused"`
	CreatedAt            time.Time  `json:"created_at"`
	LastActivity         time.Time  `json:"last_activity"`
}

// RoundCount возвращает количество раундов в комнате
func (r *Room) RoundCount() int {
	return len(r.Config.Rounds)
}

// CurrentRoundDef возвращает определение текущего раунда или nil,
// если индекс раунда вышел за пределы конфигурации
func (r *Room) CurrentRoundDef() *RoundDefinition {
	if r.CurrentRound < 0 || r.CurrentRound >= len(r.Config.Rounds) {
		return nil
	}
	return &r.Config.Rounds[r.CurrentRound]
}

// IsComplete проверяет, завершена ли комната
func (r *Room) IsComplete() bool {
	return r.Phase == RoomPhaseComplete
}

// InPlay проверяет, идет ли в комнате активная игра
func (r *Room) InPlay() bool {
	return r.Phase == RoomPhaseAsking || r.Phase == RoomPhaseReviewing || r.Phase == RoomPhaseTiebreaker
}
