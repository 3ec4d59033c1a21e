package game

import (
	"context"
	"time"

	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// Константы значений по умолчанию
const (
	DefaultTimeLimitSec   = 20
	DefaultGracePeriod    = 2 * time.Second
	DefaultMaxPlayers     = 100
	DefaultExternalCallTO = 5 * time.Second
)

// Config содержит настройки для всех компонентов движка комнат
type Config struct {
	// Лимит времени на вопрос, если раунд его не задает
	DefaultTimeLimitSec int

	// Допуск после номинального истечения времени вопроса.
	// Терпимость к рассинхронизации часов и поздней доставке по сети.
	GracePeriod time.Duration

	// Верхний предел игроков в комнате, если конфигурация комнаты его не задает
	MaxPlayersPerRoom int

	// Таймаут обращений к внешним коллабораторам (банк вопросов, леджер, расчет призов).
	// Внешние вызовы никогда не выполняются под блокировкой комнаты.
	ExternalCallTimeout time.Duration

	// Количество шардов хранилища комнат
	StoreShards int
}

// DefaultConfig возвращает конфигурацию движка по умолчанию
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeLimitSec: DefaultTimeLimitSec,
		GracePeriod:         DefaultGracePeriod,
		MaxPlayersPerRoom:   DefaultMaxPlayers,
		ExternalCallTimeout: DefaultExternalCallTO,
		StoreShards:         16,
	}
}

// QuestionProvider определяет интерфейс банка вопросов.
// Вопросы выдаются упорядоченными наборами под конкретный раунд.
type QuestionProvider interface {
	// QuestionsForRound возвращает набор вопросов для раунда,
	// исключая уже выданные в этой комнате ID
	QuestionsForRound(ctx context.Context, round entity.RoundDefinition, excludeIDs []uint) ([]entity.Question, error)

	// TiebreakQuestion возвращает один вопрос для тайбрейка.
	// Возвращает apperrors.ErrNotFound при исчерпании банка.
	TiebreakQuestion(ctx context.Context, excludeIDs []uint) (*entity.Question, error)
}

// PaymentChecker определяет интерфейс проверки оплаты у внешнего леджер-сервиса
type PaymentChecker interface {
	// IsPaid проверяет, подтверждена ли оплата входа игрока в комнату
	IsPaid(ctx context.Context, roomID, playerID string) (bool, error)
}

// PaymentCheckerFunc — функциональный адаптер для PaymentChecker
type PaymentCheckerFunc func(ctx context.Context, roomID, playerID string) (bool, error)

// IsPaid реализует PaymentChecker
func (f PaymentCheckerFunc) IsPaid(ctx context.Context, roomID, playerID string) (bool, error) {
	return f(ctx, roomID, playerID)
}

// Broadcaster определяет интерфейс исходящих рассылок движка.
// Реализуется WebSocket-менеджером; движок не знает о транспорте.
type Broadcaster interface {
	// BroadcastToRoom отправляет событие всем держателям сессий комнаты
	BroadcastToRoom(roomID string, eventType string, data interface{})

	// SendToPlayer отправляет событие конкретному игроку комнаты
	SendToPlayer(roomID, playerID string, eventType string, data interface{})
}

// RankEntry представляет позицию игрока в итоговом рейтинге
type RankEntry struct {
	Place    int    `json:"place"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// SettlementNotifier определяет односторонний сигнал prizes-ready внешнему
// расчетному коллаборатору. Движку важно только "комната завершена, вот
// рейтинг" — механика распределения средств вне его ответственности.
type SettlementNotifier interface {
	PublishPrizesReady(ctx context.Context, roomID string, ranking []RankEntry) error
}

// Dependencies содержит зависимости движка комнат
type Dependencies struct {
	Questions   QuestionProvider
	Payments    PaymentChecker
	Broadcaster Broadcaster
	Settlement  SettlementNotifier
}
