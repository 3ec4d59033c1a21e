package game

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// RoomState хранит полное состояние активной комнаты: саму комнату,
// игроков и рабочие структуры раунда. Все мутации сериализуются
// мьютексом состояния; таймеры и сокеты входят только через операции
// движка и никогда не меняют поля напрямую.
type RoomState struct {
	mu sync.Mutex

	Room    *entity.Room
	Players map[string]*entity.Player

	// Вопросы текущего раунда в порядке выдачи
	questions []entity.Question

	// Все ID вопросов, выданные комнате (исключаются при следующих выборках)
	servedIDs []uint

	// Ответы по ключу вопроса: (ключ) -> (игрок) -> запись
	answers map[entity.QuestionKey]map[string]*entity.AnswerRecord

	// Множество финализированных ключей — гарантия однократного подсчета.
	// Вопрос из множества никогда не пересчитывается.
	finalized map[entity.QuestionKey]bool

	// Состояние тайбрейка (nil вне фазы tiebreaker)
	tiebreaker *Tiebreaker

	// Отмена таймера текущего вопроса
	timerCancel context.CancelFunc

	// Остаток времени вопроса на момент паузы
	pausedRemaining time.Duration
}

func newRoomState(roomID, hostID string, cfg entity.RoomConfig) *RoomState {
	now := time.Now()
	return &RoomState{
		Room: &entity.Room{
			ID:           roomID,
			HostID:       hostID,
			Config:       cfg,
			Phase:        entity.RoomPhaseWaiting,
			CreatedAt:    now,
			LastActivity: now,
		},
		Players:   make(map[string]*entity.Player),
		answers:   make(map[entity.QuestionKey]map[string]*entity.AnswerRecord),
		finalized: make(map[entity.QuestionKey]bool),
	}
}

// currentQuestion возвращает текущий вопрос или nil. Вызывается под блокировкой.
func (st *RoomState) currentQuestion() *entity.Question {
	idx := st.Room.CurrentQuestionIndex
	if idx < 0 || idx >= len(st.questions) {
		return nil
	}
	return &st.questions[idx]
}

// currentKey возвращает ключ текущего вопроса. Вызывается под блокировкой.
func (st *RoomState) currentKey() (entity.QuestionKey, bool) {
	q := st.currentQuestion()
	if q == nil {
		return entity.QuestionKey{}, false
	}
	return entity.QuestionKey{QuestionID: q.ID, Round: st.Room.CurrentRound}, true
}

// touch обновляет отметку активности комнаты. Вызывается под блокировкой.
func (st *RoomState) touch() {
	st.Room.LastActivity = time.Now()
}

// roomShard — один шард хранилища со своей блокировкой
type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]*RoomState
}

// RoomStore — шардированный реестр активных комнат, ключом служит ID комнаты.
// Хранилище владеет только созданием/поиском/удалением; поля комнат оно
// не мутирует. Операции разных комнат полностью независимы.
type RoomStore struct {
	shards []*roomShard
}

// NewRoomStore создает хранилище с указанным количеством шардов
func NewRoomStore(shardCount int) *RoomStore {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*roomShard, shardCount)
	for i := range shards {
		shards[i] = &roomShard{rooms: make(map[string]*RoomState)}
	}
	return &RoomStore{shards: shards}
}

func (s *RoomStore) shardFor(roomID string) *roomShard {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// validateRoomConfig проверяет конфигурацию до аллокации комнаты:
// минимум один раунд, в каждом раунде минимум один вопрос
func validateRoomConfig(cfg entity.RoomConfig) error {
	if len(cfg.Rounds) == 0 {
		return fmt.Errorf("%w: room must have at least one round", apperrors.ErrValidation)
	}
	for i, round := range cfg.Rounds {
		if round.QuestionCount < 1 {
			return fmt.Errorf("%w: round %d must have at least one question", apperrors.ErrValidation, i)
		}
		switch round.Type {
		case entity.RoundTypeGeneralTrivia, entity.RoundTypeWipeout,
			entity.RoundTypeSpeedRound, entity.RoundTypeHeadToHead:
		default:
			return fmt.Errorf("%w: unknown round type %q", apperrors.ErrValidation, round.Type)
		}
	}
	return nil
}

// Create регистрирует новую комнату. Вставка с проверкой существования:
// занятый ID возвращает ErrRoomExists, существующая комната не меняется.
func (s *RoomStore) Create(roomID, hostID string, cfg entity.RoomConfig) (*RoomState, error) {
	if roomID == "" || hostID == "" {
		return nil, fmt.Errorf("%w: room id and host id are required", apperrors.ErrValidation)
	}
	if err := validateRoomConfig(cfg); err != nil {
		return nil, err
	}

	shard := s.shardFor(roomID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.rooms[roomID]; exists {
		return nil, apperrors.ErrRoomExists
	}

	st := newRoomState(roomID, hostID, cfg)
	shard.rooms[roomID] = st
	return st, nil
}

// Get возвращает состояние комнаты по ID
func (s *RoomStore) Get(roomID string) (*RoomState, error) {
	shard := s.shardFor(roomID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	st, ok := shard.rooms[roomID]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	return st, nil
}

// Delete удаляет комнату из реестра. Уведомление подключенных сессий —
// ответственность движка, не хранилища.
func (s *RoomStore) Delete(roomID string) bool {
	shard := s.shardFor(roomID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.rooms[roomID]; !ok {
		return false
	}
	delete(shard.rooms, roomID)
	return true
}

// Len возвращает общее количество активных комнат
func (s *RoomStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.rooms)
		shard.mu.RUnlock()
	}
	return total
}

// ForEach вызывает fn для каждой комнаты. Используется уборщиком
// заброшенных комнат; fn не должна держать блокировку шарда.
func (s *RoomStore) ForEach(fn func(st *RoomState)) {
	for _, shard := range s.shards {
		shard.mu.RLock()
		states := make([]*RoomState, 0, len(shard.rooms))
		for _, st := range shard.rooms {
			states = append(states, st)
		}
		shard.mu.RUnlock()

		for _, st := range states {
			fn(st)
		}
	}
}

// RoomPublicView — публичное представление комнаты для HTTP API.
// Правильные ответы и чужие ответы в него не попадают.
type RoomPublicView struct {
	Room        entity.Room `json:"room"`
	PlayerCount int         `json:"player_count"`
	Players     []string    `json:"players"`
}

// PublicView возвращает снимок комнаты для внешнего чтения.
// Берет блокировку сам, снаружи её держать нельзя.
func (st *RoomState) PublicView() RoomPublicView {
	st.mu.Lock()
	defer st.mu.Unlock()

	names := make([]string, 0, len(st.Players))
	for _, p := range st.Players {
		names = append(names, p.Name)
	}
	return RoomPublicView{
		Room:        *st.Room,
		PlayerCount: len(st.Players),
		Players:     names,
	}
}
