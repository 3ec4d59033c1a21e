package game

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// ============================================================================
// Тестовые двойники зависимостей движка
// ============================================================================

// MockQuestionProvider реализует QuestionProvider
type MockQuestionProvider struct {
	mock.Mock
}

func (m *MockQuestionProvider) QuestionsForRound(ctx context.Context, round entity.RoundDefinition, excludeIDs []uint) ([]entity.Question, error) {
	args := m.Called(round, excludeIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Question), args.Error(1)
}

func (m *MockQuestionProvider) TiebreakQuestion(ctx context.Context, excludeIDs []uint) (*entity.Question, error) {
	args := m.Called(excludeIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Question), args.Error(1)
}

// MockPaymentChecker реализует PaymentChecker
type MockPaymentChecker struct {
	mock.Mock
}

func (m *MockPaymentChecker) IsPaid(ctx context.Context, roomID, playerID string) (bool, error) {
	args := m.Called(roomID, playerID)
	return args.Bool(0), args.Error(1)
}

// MockSettlement реализует SettlementNotifier
type MockSettlement struct {
	mock.Mock
}

func (m *MockSettlement) PublishPrizesReady(ctx context.Context, roomID string, ranking []RankEntry) error {
	args := m.Called(roomID, ranking)
	return args.Error(0)
}

// recordedEvent — одно перехваченное исходящее событие
type recordedEvent struct {
	RoomID    string
	PlayerID  string // пусто для рассылки всей комнате
	EventType string
	Data      interface{}
}

// recordingBroadcaster перехватывает рассылки движка для проверок
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) BroadcastToRoom(roomID string, eventType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{RoomID: roomID, EventType: eventType, Data: data})
}

func (b *recordingBroadcaster) SendToPlayer(roomID, playerID string, eventType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{RoomID: roomID, PlayerID: playerID, EventType: eventType, Data: data})
}

// byType возвращает все события указанного типа
func (b *recordingBroadcaster) byType(eventType string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []recordedEvent
	for _, ev := range b.events {
		if ev.EventType == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

// fakeSessionRef — фальшивая ссылка на соединение
type fakeSessionRef struct {
	mu     sync.Mutex
	id     string
	closed bool
	reason string
}

func newFakeRef(id string) *fakeSessionRef {
	return &fakeSessionRef{id: id}
}

func (r *fakeSessionRef) ConnectionID() string {
	return r.id
}

func (r *fakeSessionRef) CloseWithReason(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.reason = reason
}

func (r *fakeSessionRef) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ============================================================================
// Общие помощники для сборки тестового движка
// ============================================================================

type testEnv struct {
	engine      *Engine
	questions   *MockQuestionProvider
	payments    *MockPaymentChecker
	settlement  *MockSettlement
	broadcaster *recordingBroadcaster
}

func newTestEnv() *testEnv {
	questions := new(MockQuestionProvider)
	payments := new(MockPaymentChecker)
	settlement := new(MockSettlement)
	broadcaster := &recordingBroadcaster{}

	engine := NewEngine(DefaultConfig(), &Dependencies{
		Questions:   questions,
		Payments:    payments,
		Broadcaster: broadcaster,
		Settlement:  settlement,
	})

	return &testEnv{
		engine:      engine,
		questions:   questions,
		payments:    payments,
		settlement:  settlement,
		broadcaster: broadcaster,
	}
}

// testQuestions возвращает банк из трех вопросов; правильный вариант всегда 0
func testQuestions() []entity.Question {
	return []entity.Question{
		{ID: 101, Text: "Столица Франции?", Options: entity.StringArray{"Париж", "Лион", "Ницца"}, CorrectOption: 0, Difficulty: entity.DifficultyEasy},
		{ID: 102, Text: "Самая длинная река?", Options: entity.StringArray{"Нил", "Амазонка", "Дунай"}, CorrectOption: 0, Difficulty: entity.DifficultyMedium},
		{ID: 103, Text: "Год первого полета в космос?", Options: entity.StringArray{"1961", "1957", "1969"}, CorrectOption: 0, Difficulty: entity.DifficultyHard},
	}
}

// singleRoundConfig — комната с одним раундом указанного типа
func singleRoundConfig(roundType string, questionCount int) entity.RoomConfig {
	return entity.RoomConfig{
		MaxPlayers: 10,
		Rounds: []entity.RoundDefinition{
			{
				Type:          roundType,
				QuestionCount: questionCount,
				TimeLimitSec:  30,
				EnabledExtras: []string{entity.ExtraHint, entity.ExtraFreeze, entity.ExtraRobPoints, entity.ExtraRestore},
			},
		},
	}
}
