package game

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// Типы исходящих событий движка
const (
	EventPlayerJoined   = "room:player_joined"
	EventPlayerLeft     = "room:player_left"
	EventRoomClosed     = "room:closed"
	EventRoundStarted   = "round:started"
	EventRoundComplete  = "round:complete"
	EventQuestion       = "question:asked"
	EventAnswerAck      = "question:answer_ack"
	EventReview         = "question:review"
	EventRoomPaused     = "room:paused"
	EventRoomResumed    = "room:resumed"
	EventLeaderboard    = "room:leaderboard"
	EventRoomComplete   = "room:complete"
	EventExtraUsed      = "extras:used"
	EventExtraHint      = "extras:hint"
	EventTiebreakStart  = "tiebreaker:start"
	EventTiebreakQ      = "tiebreaker:question"
	EventTiebreakReview = "tiebreaker:review"
	EventTiebreakResult = "tiebreaker:result"
)

// Лимиты экстр
const (
	hintOptionsRemoved = 2 // сколько неверных вариантов убирает подсказка
	robPointsAmount    = 2 // сколько очков крадет rob_points
	restorePointsCap   = 4 // максимум возвращаемых очков за restore_points
)

// outEvent — отложенное исходящее событие. Движок собирает события под
// блокировкой комнаты и рассылает их после её освобождения, чтобы не
// держать блокировку на время сетевой доставки.
type outEvent struct {
	playerID  string // пусто — рассылка всей комнате
	eventType string
	data      interface{}
}

// Engine — движок игровых комнат. Владеет хранилищем комнат и трекером
// сессий; вся мутация состояния комнаты проходит через его операции и
// сериализуется мьютексом комнаты. Операции разных комнат независимы.
type Engine struct {
	config   *Config
	deps     *Dependencies
	store    *RoomStore
	sessions *SessionTracker

	// Контекст жизненного цикла движка: отмена гасит все таймеры
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine создает движок комнат
func NewEngine(config *Config, deps *Dependencies) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   config,
		deps:     deps,
		store:    NewRoomStore(config.StoreShards),
		sessions: NewSessionTracker(),
		ctx:      ctx,
		cancel:   cancel,
	}
	log.Println("[Engine] Движок комнат инициализирован")
	return e
}

// Store возвращает хранилище комнат (для уборщика и обработчиков)
func (e *Engine) Store() *RoomStore {
	return e.store
}

// Sessions возвращает трекер сессий
func (e *Engine) Sessions() *SessionTracker {
	return e.sessions
}

// Shutdown останавливает движок и все его таймеры
func (e *Engine) Shutdown() {
	log.Println("[Engine] Остановка движка комнат...")
	e.cancel()
}

// emit рассылает собранные события. Вызывается ПОСЛЕ освобождения
// блокировки комнаты.
func (e *Engine) emit(roomID string, events []outEvent) {
	for _, ev := range events {
		if ev.playerID == "" {
			e.deps.Broadcaster.BroadcastToRoom(roomID, ev.eventType, ev.data)
		} else {
			e.deps.Broadcaster.SendToPlayer(roomID, ev.playerID, ev.eventType, ev.data)
		}
	}
}

// ============================================================================
// Жизненный цикл комнаты
// ============================================================================

// CreateRoom создает новую комнату. Дубликат ID — ErrRoomExists,
// существующая комната при этом не затрагивается.
func (e *Engine) CreateRoom(roomID, hostID string, cfg entity.RoomConfig) (*entity.Room, error) {
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = e.config.MaxPlayersPerRoom
	}
	for i := range cfg.Rounds {
		if cfg.Rounds[i].TimeLimitSec <= 0 {
			cfg.Rounds[i].TimeLimitSec = e.config.DefaultTimeLimitSec
		}
	}

	st, err := e.store.Create(roomID, hostID, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("[Engine] Комната %s создана хостом %s (%d раундов)", roomID, hostID, len(cfg.Rounds))

	st.mu.Lock()
	room := *st.Room
	st.mu.Unlock()
	return &room, nil
}

// DeleteRoom удаляет комнату. Сессии уведомляются и закрываются до
// удаления из реестра.
func (e *Engine) DeleteRoom(roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.Room.HostID != requesterID {
		st.mu.Unlock()
		return apperrors.ErrForbidden
	}
	if st.timerCancel != nil {
		st.timerCancel()
		st.timerCancel = nil
	}
	st.mu.Unlock()

	// Сначала уведомляем всех держателей сессий, затем сносим комнату
	e.deps.Broadcaster.BroadcastToRoom(roomID, EventRoomClosed, map[string]interface{}{
		"room_id": roomID,
		"reason":  "host_deleted",
	})
	for _, ref := range e.sessions.DropRoom(roomID) {
		ref.CloseWithReason("room_deleted")
	}
	e.store.Delete(roomID)
	log.Printf("[Engine] Комната %s удалена", roomID)
	return nil
}

// JoinRoom присоединяет игрока к комнате (или переподключает существующего).
// Порядок жесткий: проверка оплаты вне блокировки, затем перепривязка сессии
// (старое соединение закрывается ДО принятия мутаций от нового), затем
// мутация состояния и снапшот.
func (e *Engine) JoinRoom(ctx context.Context, roomID, playerID, name string, ref SessionRef) (*Snapshot, error) {
	st, err := e.store.Get(roomID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	_, known := st.Players[playerID]
	full := !known && len(st.Players) >= st.Room.Config.MaxPlayers
	entryFee := st.Room.Config.EntryFee
	st.mu.Unlock()

	if full {
		return nil, apperrors.ErrRoomFull
	}

	// Оплата подтверждается у внешнего леджера до допуска в комнату.
	// Вызов ограничен таймаутом и выполняется без блокировки комнаты.
	paid := true
	if entryFee > 0 {
		payCtx, payCancel := context.WithTimeout(ctx, e.config.ExternalCallTimeout)
		defer payCancel()
		paid, err = e.deps.Payments.IsPaid(payCtx, roomID, playerID)
		if err != nil {
			return nil, fmt.Errorf("ledger check failed: %w", err)
		}
		if !paid {
			return nil, apperrors.ErrPaymentRequired
		}
	}

	// Допуск атомарен: вместимость перепроверяется в той же критической
	// секции, где игрок добавляется — параллельные join за последнее место
	// не могут пройти оба. Проверка до оплаты была лишь быстрым отказом.
	var events []outEvent
	st.mu.Lock()
	player, known := st.Players[playerID]
	if !known {
		if len(st.Players) >= st.Room.Config.MaxPlayers {
			st.mu.Unlock()
			return nil, apperrors.ErrRoomFull
		}
		player = entity.NewPlayer(playerID, name, paid)
		st.Players[playerID] = player
		events = append(events, outEvent{
			eventType: EventPlayerJoined,
			data: map[string]interface{}{
				"room_id":      roomID,
				"player_id":    playerID,
				"name":         name,
				"player_count": len(st.Players),
			},
		})
	}
	st.mu.Unlock()

	// Перепривязка сессии: вытесненный сокет закрывается до того, как новый
	// клиент получит снапшот и начнет слать мутации
	if displaced := e.sessions.Bind(roomID, playerID, ref); displaced != nil {
		displaced.CloseWithReason("superseded_by_new_session")
	}

	st.mu.Lock()
	st.touch()
	snapshot := e.buildSnapshotLocked(st, playerID, time.Now())
	st.mu.Unlock()

	e.emit(roomID, events)
	log.Printf("[Engine] Игрок %s (%s) в комнате %s, rejoin=%t", playerID, name, roomID, known)
	return snapshot, nil
}

// Recover выполняет переподключение и возвращает снапшот "как есть сейчас"
// для текущей фазы комнаты. Перепривязка завершается до построения снапшота.
func (e *Engine) Recover(ctx context.Context, roomID, playerID string, ref SessionRef) (*Snapshot, error) {
	st, err := e.store.Get(roomID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	_, known := st.Players[playerID]
	st.mu.Unlock()
	if !known {
		return nil, apperrors.ErrPlayerNotFound
	}

	if displaced := e.sessions.Bind(roomID, playerID, ref); displaced != nil {
		displaced.CloseWithReason("superseded_by_new_session")
	}

	st.mu.Lock()
	st.touch()
	snapshot := e.buildSnapshotLocked(st, playerID, time.Now())
	st.mu.Unlock()
	return snapshot, nil
}

// ============================================================================
// Ход игры: раунды и вопросы
// ============================================================================

// StartGame запускает первый раунд комнаты. Только хост, только из фазы waiting.
func (e *Engine) StartGame(ctx context.Context, roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.Room.HostID != requesterID {
		st.mu.Unlock()
		return apperrors.ErrForbidden
	}
	if st.Room.Phase != entity.RoomPhaseWaiting {
		st.mu.Unlock()
		return fmt.Errorf("%w: game already started", apperrors.ErrWrongPhase)
	}
	st.mu.Unlock()

	return e.startRound(ctx, st)
}

// startRound загружает вопросы текущего раунда и переводит комнату в asking.
// Банк вопросов опрашивается вне блокировки комнаты.
func (e *Engine) startRound(ctx context.Context, st *RoomState) error {
	st.mu.Lock()
	roomID := st.Room.ID
	roundIdx := st.Room.CurrentRound
	roundDef := st.Room.CurrentRoundDef()
	if roundDef == nil {
		st.mu.Unlock()
		return fmt.Errorf("%w: no round %d in room config", apperrors.ErrWrongPhase, roundIdx)
	}
	round := *roundDef
	exclude := append([]uint(nil), st.servedIDs...)
	st.mu.Unlock()

	qCtx, qCancel := context.WithTimeout(ctx, e.config.ExternalCallTimeout)
	defer qCancel()
	questions, err := e.deps.Questions.QuestionsForRound(qCtx, round, exclude)
	if err != nil {
		return fmt.Errorf("question bank failed for room %s round %d: %w", roomID, roundIdx, err)
	}
	if len(questions) == 0 {
		return fmt.Errorf("%w: question bank returned no questions", apperrors.ErrNotFound)
	}

	var events []outEvent
	st.mu.Lock()
	// Защита от гонки двух запусков: раунд мог стартовать, пока мы ходили в банк
	if st.Room.Phase == entity.RoomPhaseAsking {
		st.mu.Unlock()
		return fmt.Errorf("%w: round already running", apperrors.ErrWrongPhase)
	}
	st.questions = questions
	for _, q := range questions {
		st.servedIDs = append(st.servedIDs, q.ID)
	}
	st.Room.CurrentQuestionIndex = 0
	events = append(events, outEvent{
		eventType: EventRoundStarted,
		data: map[string]interface{}{
			"room_id":        roomID,
			"round":          roundIdx,
			"round_type":     round.Type,
			"question_count": len(questions),
		},
	})
	events = append(events, e.serveCurrentQuestionLocked(st))
	st.mu.Unlock()

	e.emit(roomID, events)
	log.Printf("[Engine] Комната %s: раунд %d (%s) начат, %d вопросов", roomID, roundIdx, round.Type, len(questions))
	return nil
}

// serveCurrentQuestionLocked переводит комнату в asking на текущем вопросе,
// взводит таймер и возвращает событие вопроса (без правильного ответа).
// Вызывается под блокировкой.
func (e *Engine) serveCurrentQuestionLocked(st *RoomState) outEvent {
	q := st.currentQuestion()
	round := st.Room.CurrentRoundDef()
	st.Room.Phase = entity.RoomPhaseAsking
	st.Room.QuestionStartMs = time.Now().UnixMilli()
	st.touch()

	limit := time.Duration(round.TimeLimitSec) * time.Second
	key, _ := st.currentKey()
	e.startQuestionTimerLocked(st, key, limit+e.config.GracePeriod)

	return outEvent{
		eventType: EventQuestion,
		data: map[string]interface{}{
			"room_id":         st.Room.ID,
			"round":           st.Room.CurrentRound,
			"question_id":     q.ID,
			"number":          st.Room.CurrentQuestionIndex + 1,
			"total_questions": len(st.questions),
			"text":            q.Text,
			"options":         q.Options,
			"difficulty":      q.Difficulty,
			"time_limit":      round.TimeLimitSec,
			"start_time":      st.Room.QuestionStartMs,
		},
	}
}

// startQuestionTimerLocked взводит таймер вопроса. Таймер не мутирует
// состояние сам: по срабатыванию он входит через FinalizeQuestion, где
// множество финализированных ключей гасит любые гонки с действиями хоста.
// Вызывается под блокировкой.
func (e *Engine) startQuestionTimerLocked(st *RoomState, key entity.QuestionKey, d time.Duration) {
	if st.timerCancel != nil {
		st.timerCancel()
	}
	timerCtx, cancel := context.WithCancel(e.ctx)
	st.timerCancel = cancel
	roomID := st.Room.ID

	go func() {
		select {
		case <-time.After(d):
			if err := e.FinalizeQuestion(roomID, key); err != nil {
				log.Printf("[Engine] Таймер вопроса %d комнаты %s: финализация: %v", key.QuestionID, roomID, err)
			}
		case <-timerCtx.Done():
			// Вопрос финализирован раньше или комната удалена
		}
	}()
}

// SubmitAnswer записывает ответ игрока. Принимается только в фазе asking,
// только для текущего вопроса и только до финализации; первый валидный
// ответ выигрывает. Опоздавшие и повторные ответы — молчаливый no-op
// (ErrStaleAnswer), сетевые ретраи клиента ожидаемы и не считаются ошибкой.
func (e *Engine) SubmitAnswer(ctx context.Context, roomID, playerID string, questionID uint, option int) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	var events []outEvent
	st.mu.Lock()
	defer func() {
		st.mu.Unlock()
		e.emit(roomID, events)
	}()

	player, ok := st.Players[playerID]
	if !ok {
		return apperrors.ErrPlayerNotFound
	}
	e.sessions.Touch(roomID, playerID)
	st.touch()

	// В фазе тайбрейка ответы уходят в суб-движок
	if st.Room.Phase == entity.RoomPhaseTiebreaker {
		evs, err := e.submitTiebreakLocked(st, playerID, questionID, option)
		events = append(events, evs...)
		return err
	}

	if st.Room.Paused {
		return fmt.Errorf("%w: room is paused", apperrors.ErrWrongPhase)
	}
	if st.Room.Phase != entity.RoomPhaseAsking {
		return apperrors.ErrStaleAnswer
	}

	key, ok := st.currentKey()
	if !ok || key.QuestionID != questionID {
		return apperrors.ErrStaleAnswer
	}
	if st.finalized[key] {
		return apperrors.ErrStaleAnswer
	}
	if records := st.answers[key]; records != nil {
		if _, already := records[playerID]; already {
			return apperrors.ErrStaleAnswer
		}
	}
	if player.IsFrozenFor(st.Room.CurrentRound, st.Room.CurrentQuestionIndex) {
		return fmt.Errorf("%w: player is frozen for this question", apperrors.ErrForbidden)
	}

	q := st.currentQuestion()
	if !q.IsValidOption(option) {
		return fmt.Errorf("%w: option %d out of range", apperrors.ErrValidation, option)
	}

	responseMs := time.Now().UnixMilli() - st.Room.QuestionStartMs
	if responseMs < 0 {
		responseMs = 0
	}
	round := st.Room.CurrentRoundDef()

	rec := &entity.AnswerRecord{
		PlayerID:       playerID,
		Key:            key,
		SelectedOption: option,
		IsCorrect:      q.IsCorrect(option),
		ResponseTimeMs: responseMs,
		TimeLimitMs:    int64(round.TimeLimitSec) * 1000,
	}
	if st.answers[key] == nil {
		st.answers[key] = make(map[string]*entity.AnswerRecord)
	}
	st.answers[key][playerID] = rec

	events = append(events, outEvent{
		playerID:  playerID,
		eventType: EventAnswerAck,
		data: map[string]interface{}{
			"question_id":      questionID,
			"selected_option":  option,
			"response_time_ms": responseMs,
		},
	})
	return nil
}

// FinalizeQuestion закрывает вопрос для подсчета: дозаполняет синтетические
// записи "нет ответа", применяет политику очков и помечает ключ
// финализированным. Идемпотентна — таймер и действие хоста могут гоняться
// за вызов, точка дедупликации — множество финализированных ключей.
func (e *Engine) FinalizeQuestion(roomID string, key entity.QuestionKey) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	var events []outEvent
	st.mu.Lock()
	events = e.finalizeLocked(st, key)
	st.mu.Unlock()

	e.emit(roomID, events)
	return nil
}

// finalizeLocked — тело финализации. Вызывается под блокировкой.
// Возвращает события для рассылки после освобождения блокировки.
func (e *Engine) finalizeLocked(st *RoomState, key entity.QuestionKey) []outEvent {
	// Уже финализирован — no-op. Это и есть защита от двойного подсчета.
	if st.finalized[key] {
		return nil
	}
	current, ok := st.currentKey()
	if !ok || current != key || st.Room.Phase != entity.RoomPhaseAsking {
		// Таймер сработал для неактуального ключа — состояние не трогаем
		return nil
	}
	if st.Room.Paused {
		return nil
	}

	q := st.currentQuestion()
	round := st.Room.CurrentRoundDef()
	policy := ResolvePolicy(round.Type, round.ScoringOverride)
	roundEngine := EngineForRoundType(round.Type)

	if st.answers[key] == nil {
		st.answers[key] = make(map[string]*entity.AnswerRecord)
	}
	records := st.answers[key]

	// Дозаполняем отсутствующие ответы, чтобы набор был полным до подсчета
	for playerID := range st.Players {
		if _, answered := records[playerID]; !answered {
			records[playerID] = entity.NewNoAnswerRecord(playerID, key)
		}
	}

	results := make([]map[string]interface{}, 0, len(records))
	for playerID, rec := range records {
		player := st.Players[playerID]
		if player == nil {
			continue
		}

		delta := roundEngine.ScoreAnswer(q, rec, policy)

		// Замороженный игрок пропустил вопрос не по своей воле — штраф
		// за отсутствие ответа к нему не применяется
		if rec.NoAnswer && player.IsFrozenFor(key.Round, st.Room.CurrentQuestionIndex) {
			delta = 0
		}

		applied := delta
		if delta < 0 {
			// Штраф клиппится: одно применение не уводит счет ниже нуля
			penalty := -delta
			if penalty > player.Score {
				penalty = player.Score
			}
			applied = -penalty
			player.NegativePoints += -delta
		}
		player.Score += applied
		rec.ScoreDelta = applied

		results = append(results, map[string]interface{}{
			"player_id":   playerID,
			"answered":    !rec.NoAnswer,
			"is_correct":  rec.IsCorrect,
			"score_delta": applied,
			"score":       player.Score,
		})
	}

	st.finalized[key] = true
	if st.timerCancel != nil {
		st.timerCancel()
		st.timerCancel = nil
	}
	st.Room.Phase = entity.RoomPhaseReviewing
	st.touch()

	log.Printf("[Engine] Комната %s: вопрос %d (раунд %d) финализирован, %d записей",
		st.Room.ID, key.QuestionID, key.Round, len(records))

	return []outEvent{{
		eventType: EventReview,
		data: map[string]interface{}{
			"room_id":        st.Room.ID,
			"round":          key.Round,
			"question_id":    key.QuestionID,
			"number":         st.Room.CurrentQuestionIndex + 1,
			"correct_option": q.CorrectOption,
			"results":        results,
			"standings":      e.computeRankingLocked(st),
		},
	}}
}

// AdvanceQuestion переводит комнату к следующему вопросу. Уходящий вопрос
// финализируется ПЕРЕД продвижением — порядок finalize-then-advance
// обязателен, иначе поздние ответы уходящего вопроса потерялись бы.
// Повторные вызовы после исчерпания раунда безопасны.
func (e *Engine) AdvanceQuestion(ctx context.Context, roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	// В фазе тайбрейка продвижение хостом повторяет подачу вопроса —
	// путь ретрая после временного сбоя банка вопросов
	st.mu.Lock()
	if st.Room.Phase == entity.RoomPhaseTiebreaker {
		if st.Room.HostID != requesterID {
			st.mu.Unlock()
			return apperrors.ErrForbidden
		}
		if tb := st.tiebreaker; tb != nil && tb.Stage == TiebreakStageQuestion {
			st.mu.Unlock()
			return fmt.Errorf("%w: tiebreak question in progress", apperrors.ErrWrongPhase)
		}
		st.mu.Unlock()
		return e.nextTiebreakQuestion(ctx, st)
	}
	st.mu.Unlock()

	var events []outEvent
	st.mu.Lock()
	defer func() {
		st.mu.Unlock()
		e.emit(roomID, events)
	}()

	if st.Room.HostID != requesterID {
		return apperrors.ErrForbidden
	}
	if st.Room.Paused {
		return fmt.Errorf("%w: room is paused", apperrors.ErrWrongPhase)
	}

	switch st.Room.Phase {
	case entity.RoomPhaseAsking:
		key, ok := st.currentKey()
		if !ok {
			return fmt.Errorf("%w: no current question", apperrors.ErrWrongPhase)
		}
		events = append(events, e.finalizeLocked(st, key)...)
	case entity.RoomPhaseReviewing:
		// Вопрос уже финализирован, продвигаемся
	default:
		return fmt.Errorf("%w: cannot advance question in phase %s", apperrors.ErrWrongPhase, st.Room.Phase)
	}

	round := st.Room.CurrentRoundDef()
	roundEngine := EngineForRoundType(round.Type)
	if roundEngine.IsRoundComplete(st.Room.CurrentQuestionIndex, len(st.questions)) {
		// Раунд исчерпан: остаёмся в reviewing, хост продвигает раунд
		events = append(events, outEvent{
			eventType: EventRoundComplete,
			data: map[string]interface{}{
				"room_id":    roomID,
				"round":      st.Room.CurrentRound,
				"last_round": st.Room.CurrentRound >= st.Room.RoundCount()-1,
				"standings":  e.computeRankingLocked(st),
			},
		})
		return nil
	}

	st.Room.CurrentQuestionIndex++
	events = append(events, e.serveCurrentQuestionLocked(st))
	return nil
}

// AdvanceRound завершает текущий раунд и либо начинает следующий, либо —
// после последнего раунда — выводит комнату на финальный рейтинг
// (через тайбрейк, если вершина рейтинга неоднозначна).
func (e *Engine) AdvanceRound(ctx context.Context, roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.Room.HostID != requesterID {
		st.mu.Unlock()
		return apperrors.ErrForbidden
	}
	if st.Room.Phase != entity.RoomPhaseReviewing {
		st.mu.Unlock()
		return fmt.Errorf("%w: round is not finished", apperrors.ErrWrongPhase)
	}
	round := st.Room.CurrentRoundDef()
	roundEngine := EngineForRoundType(round.Type)
	if !roundEngine.IsRoundComplete(st.Room.CurrentQuestionIndex, len(st.questions)) {
		st.mu.Unlock()
		return fmt.Errorf("%w: round still has questions", apperrors.ErrWrongPhase)
	}
	lastRound := st.Room.CurrentRound >= st.Room.RoundCount()-1

	if !lastRound {
		st.Room.CurrentRound++
		st.Room.CurrentQuestionIndex = 0
		st.questions = nil
		st.Room.Phase = entity.RoomPhaseWaiting
		// Лимиты экстр действуют в пределах раунда
		for _, p := range st.Players {
			p.ResetRoundExtras()
		}
		st.mu.Unlock()
		return e.startRound(ctx, st)
	}

	// Последний раунд сыгран: строим финальный рейтинг
	ranking := e.computeRankingLocked(st)
	tied := topTiedPlayers(ranking)
	if len(tied) >= 2 {
		st.tiebreaker = NewTiebreaker(tied)
		st.Room.Phase = entity.RoomPhaseTiebreaker
		st.touch()
		st.mu.Unlock()

		e.deps.Broadcaster.BroadcastToRoom(roomID, EventTiebreakStart, map[string]interface{}{
			"room_id":      roomID,
			"participants": tied,
		})
		log.Printf("[Engine] Комната %s: тайбрейк между %v", roomID, tied)
		return e.nextTiebreakQuestion(ctx, st)
	}

	st.Room.Phase = entity.RoomPhaseLeaderboard
	st.touch()
	st.mu.Unlock()

	e.deps.Broadcaster.BroadcastToRoom(roomID, EventLeaderboard, map[string]interface{}{
		"room_id":     roomID,
		"leaderboard": ranking,
	})
	log.Printf("[Engine] Комната %s: финальный рейтинг готов", roomID)
	return nil
}

// EndRoom завершает комнату: публикует односторонний сигнал prizes-ready
// с финальным рейтингом и переводит комнату в complete. Ошибка публикации
// оставляет комнату в leaderboard — хост может повторить попытку, комната
// никогда не застревает в полупереходе.
func (e *Engine) EndRoom(ctx context.Context, roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.Room.HostID != requesterID {
		st.mu.Unlock()
		return apperrors.ErrForbidden
	}
	if st.Room.Phase != entity.RoomPhaseLeaderboard {
		st.mu.Unlock()
		return fmt.Errorf("%w: room has no final leaderboard yet", apperrors.ErrWrongPhase)
	}
	ranking := e.computeRankingLocked(st)
	st.mu.Unlock()

	pubCtx, pubCancel := context.WithTimeout(ctx, e.config.ExternalCallTimeout)
	defer pubCancel()
	if err := e.deps.Settlement.PublishPrizesReady(pubCtx, roomID, ranking); err != nil {
		log.Printf("[Engine] Комната %s: публикация prizes-ready не удалась: %v", roomID, err)
		return fmt.Errorf("settlement notification failed (retry end-room): %w", err)
	}

	st.mu.Lock()
	st.Room.Phase = entity.RoomPhaseComplete
	st.touch()
	st.mu.Unlock()

	e.deps.Broadcaster.BroadcastToRoom(roomID, EventRoomComplete, map[string]interface{}{
		"room_id":     roomID,
		"leaderboard": ranking,
	})
	log.Printf("[Engine] Комната %s завершена, рейтинг из %d игроков передан на расчет призов", roomID, len(ranking))
	return nil
}

// Pause приостанавливает текущий вопрос: таймер гасится, остаток времени
// запоминается и доигрывается после Resume.
func (e *Engine) Pause(roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.Room.HostID != requesterID {
		return apperrors.ErrForbidden
	}
	if st.Room.Phase != entity.RoomPhaseAsking || st.Room.Paused {
		return fmt.Errorf("%w: nothing to pause", apperrors.ErrWrongPhase)
	}

	round := st.Room.CurrentRoundDef()
	deadline := st.Room.QuestionStartMs + int64(round.TimeLimitSec)*1000
	remaining := time.Duration(deadline-time.Now().UnixMilli()) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	st.pausedRemaining = remaining
	st.Room.Paused = true
	if st.timerCancel != nil {
		st.timerCancel()
		st.timerCancel = nil
	}
	st.touch()

	go e.deps.Broadcaster.BroadcastToRoom(roomID, EventRoomPaused, map[string]interface{}{
		"room_id":      roomID,
		"remaining_ms": remaining.Milliseconds(),
	})
	return nil
}

// Resume снимает паузу и доигрывает остаток времени вопроса
func (e *Engine) Resume(roomID, requesterID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.Room.HostID != requesterID {
		return apperrors.ErrForbidden
	}
	if !st.Room.Paused {
		return fmt.Errorf("%w: room is not paused", apperrors.ErrWrongPhase)
	}

	st.Room.Paused = false
	round := st.Room.CurrentRoundDef()
	// Сдвигаем точку старта так, чтобы оставшееся время совпало с сохраненным
	st.Room.QuestionStartMs = time.Now().UnixMilli() - (int64(round.TimeLimitSec)*1000 - st.pausedRemaining.Milliseconds())
	key, ok := st.currentKey()
	if ok {
		e.startQuestionTimerLocked(st, key, st.pausedRemaining+e.config.GracePeriod)
	}
	remaining := st.pausedRemaining
	st.pausedRemaining = 0
	st.touch()

	go e.deps.Broadcaster.BroadcastToRoom(roomID, EventRoomResumed, map[string]interface{}{
		"room_id":      roomID,
		"remaining_ms": remaining.Milliseconds(),
	})
	return nil
}

// ============================================================================
// Экстры
// ============================================================================

// UseExtra применяет купленный игровой модификатор. Лимит — одно
// использование каждого типа за раунд; покупка подтверждается леджером
// на уровне сервиса до выставления PurchasedExtras.
func (e *Engine) UseExtra(ctx context.Context, roomID, playerID, extraType, targetID string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	var events []outEvent
	st.mu.Lock()
	defer func() {
		st.mu.Unlock()
		e.emit(roomID, events)
	}()

	player, ok := st.Players[playerID]
	if !ok {
		return apperrors.ErrPlayerNotFound
	}
	if !st.Room.InPlay() {
		return fmt.Errorf("%w: extras are usable only during play", apperrors.ErrWrongPhase)
	}

	round := st.Room.CurrentRoundDef()
	enabled := false
	for _, ex := range round.EnabledExtras {
		if ex == extraType {
			enabled = true
			break
		}
	}
	if !enabled {
		return fmt.Errorf("%w: extra %q is not enabled for this round", apperrors.ErrValidation, extraType)
	}
	if !player.CanUseExtra(extraType) {
		return apperrors.ErrExtraExhausted
	}

	switch extraType {
	case entity.ExtraHint:
		q := st.currentQuestion()
		if q == nil || st.Room.Phase != entity.RoomPhaseAsking {
			return fmt.Errorf("%w: no question to hint", apperrors.ErrWrongPhase)
		}
		events = append(events, outEvent{
			playerID:  playerID,
			eventType: EventExtraHint,
			data: map[string]interface{}{
				"question_id":        q.ID,
				"eliminated_options": eliminateWrongOptions(q, hintOptionsRemoved),
			},
		})

	case entity.ExtraFreeze:
		target, ok := st.Players[targetID]
		if !ok {
			return apperrors.ErrPlayerNotFound
		}
		if targetID == playerID {
			return fmt.Errorf("%w: cannot freeze yourself", apperrors.ErrValidation)
		}
		// Заморозка действует на следующий вопрос раунда
		target.Frozen = entity.FrozenStatus{
			Active:        true,
			Round:         st.Room.CurrentRound,
			QuestionIndex: st.Room.CurrentQuestionIndex + 1,
		}

	case entity.ExtraRobPoints:
		target, ok := st.Players[targetID]
		if !ok {
			return apperrors.ErrPlayerNotFound
		}
		if targetID == playerID {
			return fmt.Errorf("%w: cannot rob yourself", apperrors.ErrValidation)
		}
		stolen := robPointsAmount
		if stolen > target.Score {
			stolen = target.Score
		}
		target.Score -= stolen
		player.Score += stolen

	case entity.ExtraRestore:
		restored := restorePointsCap
		if restored > player.NegativePoints {
			restored = player.NegativePoints
		}
		player.Score += restored
		player.NegativePoints -= restored

	default:
		return fmt.Errorf("%w: unknown extra %q", apperrors.ErrValidation, extraType)
	}

	player.UsedExtras[extraType]++
	st.touch()

	events = append(events, outEvent{
		eventType: EventExtraUsed,
		data: map[string]interface{}{
			"room_id":   roomID,
			"player_id": playerID,
			"extra":     extraType,
			"target_id": targetID,
			"standings": e.computeRankingLocked(st),
		},
	})
	return nil
}

// eliminateWrongOptions возвращает индексы неверных вариантов для подсказки.
// Выбор детерминирован: первые n неверных вариантов по порядку.
func eliminateWrongOptions(q *entity.Question, n int) []int {
	eliminated := make([]int, 0, n)
	for i := range q.Options {
		if i == q.CorrectOption {
			continue
		}
		eliminated = append(eliminated, i)
		if len(eliminated) == n {
			break
		}
	}
	return eliminated
}

// ============================================================================
// Рейтинг
// ============================================================================

// computeRankingLocked строит рейтинг игроков по убыванию счета.
// Равные счета делят место (1, 1, 3). При разрешенном тайбрейке его
// порядок упорядочивает вершину строго. Вызывается под блокировкой.
func (e *Engine) computeRankingLocked(st *RoomState) []RankEntry {
	players := make([]*entity.Player, 0, len(st.Players))
	for _, p := range st.Players {
		players = append(players, p)
	}

	tbOrder := make(map[string]int)
	if st.tiebreaker != nil && st.tiebreaker.Stage == TiebreakStageResult {
		for i, id := range st.tiebreaker.FinalOrder {
			tbOrder[id] = i
		}
	}

	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		oi, iok := tbOrder[players[i].ID]
		oj, jok := tbOrder[players[j].ID]
		if iok && jok && oi != oj {
			return oi < oj
		}
		if players[i].Name != players[j].Name {
			return players[i].Name < players[j].Name
		}
		return players[i].ID < players[j].ID
	})

	ranking := make([]RankEntry, len(players))
	for i, p := range players {
		place := i + 1
		if i > 0 && p.Score == players[i-1].Score {
			// Разрешенный тайбрейк упорядочивает строго, иначе место делится
			_, iok := tbOrder[p.ID]
			_, pok := tbOrder[players[i-1].ID]
			if iok && pok {
				place = i + 1
			} else {
				place = ranking[i-1].Place
			}
		}
		ranking[i] = RankEntry{
			Place:    place,
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		}
	}
	return ranking
}

// topTiedPlayers возвращает ID игроков, делящих первое место,
// если их двое и больше
func topTiedPlayers(ranking []RankEntry) []string {
	if len(ranking) < 2 {
		return nil
	}
	var tied []string
	top := ranking[0].Score
	for _, entry := range ranking {
		if entry.Score != top {
			break
		}
		tied = append(tied, entry.PlayerID)
	}
	if len(tied) < 2 {
		return nil
	}
	return tied
}

// ============================================================================
// Покупки и уборка
// ============================================================================

// GrantExtra отмечает экстру купленной игроком. Вызывается сервисом ПОСЛЕ
// записи покупки в леджер: движок доверяет вызывающему, повторный вызов
// безвреден.
func (e *Engine) GrantExtra(roomID, playerID, extraType string) error {
	st, err := e.store.Get(roomID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	player, ok := st.Players[playerID]
	if !ok {
		return apperrors.ErrPlayerNotFound
	}
	switch extraType {
	case entity.ExtraHint, entity.ExtraFreeze, entity.ExtraRobPoints, entity.ExtraRestore:
	default:
		return fmt.Errorf("%w: unknown extra %q", apperrors.ErrValidation, extraType)
	}
	player.PurchasedExtras[extraType]++
	st.touch()
	return nil
}

// SweepIdle удаляет комнаты, простоявшие без активности дольше ttl.
// Идущая игра с живыми соединениями не сносится даже при простое:
// под уборку попадают комнаты в waiting, завершенные комнаты и комнаты,
// из которых все отключились. Завершенная комната живет свой TTL —
// переподключение в фазе complete обязано получить финальный рейтинг.
// Возвращает количество удаленных. Сессии закрываются, как при DeleteRoom.
func (e *Engine) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var stale []string

	e.store.ForEach(func(st *RoomState) {
		st.mu.Lock()
		idle := st.Room.LastActivity.Before(cutoff)
		disposable := st.Room.Phase == entity.RoomPhaseWaiting ||
			st.Room.IsComplete() ||
			e.sessions.CountConnected(st.Room.ID) == 0
		if idle && disposable {
			if st.timerCancel != nil {
				st.timerCancel()
				st.timerCancel = nil
			}
			stale = append(stale, st.Room.ID)
		}
		st.mu.Unlock()
	})

	for _, roomID := range stale {
		e.deps.Broadcaster.BroadcastToRoom(roomID, EventRoomClosed, map[string]interface{}{
			"room_id": roomID,
			"reason":  "expired",
		})
		for _, ref := range e.sessions.DropRoom(roomID) {
			ref.CloseWithReason("room_expired")
		}
		e.store.Delete(roomID)
		log.Printf("[Engine] Комната %s убрана как неактивная", roomID)
	}
	return len(stale)
}
