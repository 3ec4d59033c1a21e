package game

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"time"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// Стадии тайбрейка
const (
	TiebreakStageStart    = "start"
	TiebreakStageQuestion = "question"
	TiebreakStageReview   = "review"
	TiebreakStageResult   = "result"
)

// Лимит времени на вопрос тайбрейка, сек
const tiebreakTimeLimitSec = 15

// TiebreakEntry — итог одного вопроса тайбрейка, хранится в истории
type TiebreakEntry struct {
	QuestionID uint                            `json:"question_id"`
	Answers    map[string]*entity.AnswerRecord `json:"answers"`
	Winner     string                          `json:"winner,omitempty"`
	StillTied  []string                        `json:"still_tied,omitempty"`
}

// Tiebreaker — состояние раунда тайбрейка. Вопросы подаются только
// участникам (делящим первое место); побеждает единственный самый быстрый
// правильный ответ. Пока строгий победитель не определен, раунд повторяется
// на сузившемся множестве участников.
type Tiebreaker struct {
	Participants []string // текущее еще-связанное множество
	Stage        string
	Current      *entity.Question
	StartMs      int64
	Answers      map[string]*entity.AnswerRecord
	History      []TiebreakEntry
	FinalOrder   []string

	// Выбывшие группы в порядке выбытия: позже выбывшие ранжируются выше
	droppedGroups [][]string
	usedIDs       []uint
}

// NewTiebreaker создает тайбрейк для множества связанных игроков
func NewTiebreaker(participants []string) *Tiebreaker {
	return &Tiebreaker{
		Participants: append([]string(nil), participants...),
		Stage:        TiebreakStageStart,
		Answers:      make(map[string]*entity.AnswerRecord),
	}
}

// isParticipant проверяет участие игрока в текущем множестве
func (tb *Tiebreaker) isParticipant(playerID string) bool {
	for _, id := range tb.Participants {
		if id == playerID {
			return true
		}
	}
	return false
}

// fallbackOrder детерминированно упорядочивает игроков хешем roomID|playerID.
// Используется, когда вопросы банка исчерпаны, и для ранжирования внутри
// неразрешенных групп: порядок воспроизводим на любом узле.
func fallbackOrder(roomID string, playerIDs []string) []string {
	ordered := append([]string(nil), playerIDs...)
	hashOf := func(id string) uint64 {
		h := fnv.New64a()
		h.Write([]byte(roomID + "|" + id))
		return h.Sum64()
	}
	sort.Slice(ordered, func(i, j int) bool {
		hi, hj := hashOf(ordered[i]), hashOf(ordered[j])
		if hi != hj {
			return hi < hj
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}

// buildFinalOrder собирает итоговый порядок: победитель, затем проигравшие
// финального вопроса, затем выбывшие группы от поздних к ранним
func (tb *Tiebreaker) buildFinalOrder(roomID, winner string) []string {
	order := make([]string, 0, len(tb.Participants))
	if winner != "" {
		order = append(order, winner)
	}
	var losers []string
	for _, id := range tb.Participants {
		if id != winner {
			losers = append(losers, id)
		}
	}
	order = append(order, fallbackOrder(roomID, losers)...)
	for i := len(tb.droppedGroups) - 1; i >= 0; i-- {
		order = append(order, fallbackOrder(roomID, tb.droppedGroups[i])...)
	}
	return order
}

// nextTiebreakQuestion запрашивает у банка следующий вопрос тайбрейка и
// подает его участникам. Банк опрашивается вне блокировки; при исчерпании
// вопросов порядок разрешается детерминированным фолбэком.
func (e *Engine) nextTiebreakQuestion(ctx context.Context, st *RoomState) error {
	st.mu.Lock()
	if st.tiebreaker == nil || st.Room.Phase != entity.RoomPhaseTiebreaker {
		st.mu.Unlock()
		return fmt.Errorf("%w: no tiebreaker running", apperrors.ErrWrongPhase)
	}
	roomID := st.Room.ID
	exclude := append([]uint(nil), st.servedIDs...)
	exclude = append(exclude, st.tiebreaker.usedIDs...)
	st.mu.Unlock()

	qCtx, qCancel := context.WithTimeout(ctx, e.config.ExternalCallTimeout)
	defer qCancel()
	q, err := e.deps.Questions.TiebreakQuestion(qCtx, exclude)
	if err != nil {
		// Фолбэк только при исчерпании банка (ErrNotFound по контракту
		// провайдера). Временный сбой не решает победителей необратимо:
		// стадия тайбрейка сохраняется, хост может повторить продвижение.
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Printf("[Engine] Комната %s: банк вопросов тайбрейка исчерпан, детерминированный фолбэк", roomID)
			var events []outEvent
			st.mu.Lock()
			events = e.resolveTiebreakFallbackLocked(st)
			st.mu.Unlock()
			e.emit(roomID, events)
			return nil
		}
		log.Printf("[Engine] Комната %s: банк вопросов тайбрейка недоступен: %v", roomID, err)
		return fmt.Errorf("tiebreak question fetch failed: %w", err)
	}

	st.mu.Lock()
	tb := st.tiebreaker
	if tb == nil || st.Room.Phase != entity.RoomPhaseTiebreaker {
		st.mu.Unlock()
		return nil
	}
	tb.Current = q
	tb.Stage = TiebreakStageQuestion
	tb.StartMs = time.Now().UnixMilli()
	tb.Answers = make(map[string]*entity.AnswerRecord)
	tb.usedIDs = append(tb.usedIDs, q.ID)
	participants := append([]string(nil), tb.Participants...)
	startMs := tb.StartMs
	e.startTiebreakTimerLocked(st, q.ID)
	st.touch()
	st.mu.Unlock()

	// Вопрос уходит только участникам тайбрейка, без правильного ответа
	for _, playerID := range participants {
		e.deps.Broadcaster.SendToPlayer(roomID, playerID, EventTiebreakQ, map[string]interface{}{
			"question_id": q.ID,
			"text":        q.Text,
			"options":     q.Options,
			"time_limit":  tiebreakTimeLimitSec,
			"start_time":  startMs,
		})
	}
	log.Printf("[Engine] Комната %s: вопрос тайбрейка %d подан %d участникам", roomID, q.ID, len(participants))
	return nil
}

// startTiebreakTimerLocked взводит таймер вопроса тайбрейка.
// Вызывается под блокировкой.
func (e *Engine) startTiebreakTimerLocked(st *RoomState, questionID uint) {
	if st.timerCancel != nil {
		st.timerCancel()
	}
	timerCtx, cancel := context.WithCancel(e.ctx)
	st.timerCancel = cancel
	roomID := st.Room.ID
	d := time.Duration(tiebreakTimeLimitSec)*time.Second + e.config.GracePeriod

	go func() {
		select {
		case <-time.After(d):
			e.finalizeTiebreakQuestion(roomID, questionID)
		case <-timerCtx.Done():
		}
	}()
}

// submitTiebreakLocked записывает ответ участника тайбрейка. Первый валидный
// ответ игрока выигрывает, остальное — молчаливый no-op. Когда ответили все
// участники, вопрос закрывается досрочно. Вызывается под блокировкой.
func (e *Engine) submitTiebreakLocked(st *RoomState, playerID string, questionID uint, option int) ([]outEvent, error) {
	tb := st.tiebreaker
	if tb == nil || tb.Stage != TiebreakStageQuestion {
		return nil, apperrors.ErrStaleAnswer
	}
	if !tb.isParticipant(playerID) {
		return nil, fmt.Errorf("%w: not a tiebreaker participant", apperrors.ErrForbidden)
	}
	if tb.Current == nil || tb.Current.ID != questionID {
		return nil, apperrors.ErrStaleAnswer
	}
	if _, already := tb.Answers[playerID]; already {
		return nil, apperrors.ErrStaleAnswer
	}
	if !tb.Current.IsValidOption(option) {
		return nil, fmt.Errorf("%w: option %d out of range", apperrors.ErrValidation, option)
	}

	responseMs := time.Now().UnixMilli() - tb.StartMs
	if responseMs < 0 {
		responseMs = 0
	}
	tb.Answers[playerID] = &entity.AnswerRecord{
		PlayerID:       playerID,
		Key:            entity.QuestionKey{QuestionID: questionID, Round: st.Room.CurrentRound},
		SelectedOption: option,
		IsCorrect:      tb.Current.IsCorrect(option),
		ResponseTimeMs: responseMs,
		TimeLimitMs:    tiebreakTimeLimitSec * 1000,
	}

	events := []outEvent{{
		playerID:  playerID,
		eventType: EventAnswerAck,
		data: map[string]interface{}{
			"question_id":      questionID,
			"selected_option":  option,
			"response_time_ms": responseMs,
		},
	}}

	// Все участники ответили — не ждем таймер
	if len(tb.Answers) == len(tb.Participants) {
		evs, more := e.finalizeTiebreakLocked(st)
		events = append(events, evs...)
		if more {
			go e.continueTiebreak(st)
		}
	}
	return events, nil
}

// finalizeTiebreakQuestion закрывает вопрос тайбрейка по таймеру.
// Проверка стадии и ID вопроса гасит гонку с досрочным закрытием.
func (e *Engine) finalizeTiebreakQuestion(roomID string, questionID uint) {
	st, err := e.store.Get(roomID)
	if err != nil {
		return
	}

	var events []outEvent
	more := false
	st.mu.Lock()
	tb := st.tiebreaker
	if tb != nil && tb.Stage == TiebreakStageQuestion && tb.Current != nil && tb.Current.ID == questionID {
		events, more = e.finalizeTiebreakLocked(st)
	}
	st.mu.Unlock()

	e.emit(roomID, events)
	if more {
		e.continueTiebreak(st)
	}
}

// continueTiebreak подает следующий вопрос неразрешенного тайбрейка
func (e *Engine) continueTiebreak(st *RoomState) {
	if err := e.nextTiebreakQuestion(e.ctx, st); err != nil {
		log.Printf("[Engine] Продолжение тайбрейка: %v", err)
	}
}

// finalizeTiebreakLocked подсчитывает вопрос тайбрейка. Единственный самый
// быстрый правильный ответ — победитель; разделенное лучшее время сужает
// множество и продолжает тайбрейк; без правильных ответов множество
// сохраняется целиком. Возвращает события и флаг "нужен следующий вопрос".
// Вызывается под блокировкой.
func (e *Engine) finalizeTiebreakLocked(st *RoomState) ([]outEvent, bool) {
	tb := st.tiebreaker
	tb.Stage = TiebreakStageReview
	if st.timerCancel != nil {
		st.timerCancel()
		st.timerCancel = nil
	}

	var fastest []string
	var bestMs int64 = -1
	for playerID, rec := range tb.Answers {
		if !rec.IsCorrect {
			continue
		}
		switch {
		case bestMs < 0 || rec.ResponseTimeMs < bestMs:
			bestMs = rec.ResponseTimeMs
			fastest = []string{playerID}
		case rec.ResponseTimeMs == bestMs:
			fastest = append(fastest, playerID)
		}
	}

	entry := TiebreakEntry{
		QuestionID: tb.Current.ID,
		Answers:    tb.Answers,
	}

	if len(fastest) == 1 {
		// Строгий победитель — тайбрейк разрешен
		winner := fastest[0]
		entry.Winner = winner
		tb.History = append(tb.History, entry)
		tb.FinalOrder = tb.buildFinalOrder(st.Room.ID, winner)
		tb.Stage = TiebreakStageResult
		st.Room.Phase = entity.RoomPhaseLeaderboard
		st.touch()
		log.Printf("[Engine] Комната %s: тайбрейк разрешен, победитель %s (%d мс)", st.Room.ID, winner, bestMs)
		return []outEvent{
			{
				eventType: EventTiebreakReview,
				data: map[string]interface{}{
					"room_id":        st.Room.ID,
					"question_id":    entry.QuestionID,
					"correct_option": tb.Current.CorrectOption,
					"winner":         winner,
				},
			},
			{
				eventType: EventTiebreakResult,
				data: map[string]interface{}{
					"room_id":     st.Room.ID,
					"winner":      winner,
					"final_order": tb.FinalOrder,
				},
			},
			{
				eventType: EventLeaderboard,
				data: map[string]interface{}{
					"room_id":     st.Room.ID,
					"leaderboard": e.computeRankingLocked(st),
				},
			},
		}, false
	}

	// Сужаем множество: разделившие лучшее время продолжают, остальные выбывают
	stillTied := append([]string(nil), tb.Participants...)
	if len(fastest) > 1 {
		var dropped []string
		for _, id := range tb.Participants {
			inFastest := false
			for _, fid := range fastest {
				if fid == id {
					inFastest = true
					break
				}
			}
			if !inFastest {
				dropped = append(dropped, id)
			}
		}
		if len(dropped) > 0 {
			tb.droppedGroups = append(tb.droppedGroups, dropped)
		}
		stillTied = append([]string(nil), fastest...)
	}
	entry.StillTied = stillTied
	tb.History = append(tb.History, entry)
	tb.Participants = stillTied
	st.touch()

	log.Printf("[Engine] Комната %s: тайбрейк не разрешен, связаны %v", st.Room.ID, stillTied)
	return []outEvent{{
		eventType: EventTiebreakReview,
		data: map[string]interface{}{
			"room_id":        st.Room.ID,
			"question_id":    entry.QuestionID,
			"correct_option": tb.Current.CorrectOption,
			"still_tied":     stillTied,
		},
	}}, true
}

// resolveTiebreakFallbackLocked разрешает тайбрейк без вопросов:
// детерминированный порядок по хешу, одинаковый при любом повторе.
// Вызывается под блокировкой.
func (e *Engine) resolveTiebreakFallbackLocked(st *RoomState) []outEvent {
	tb := st.tiebreaker
	if tb == nil || tb.Stage == TiebreakStageResult {
		return nil
	}
	if st.timerCancel != nil {
		st.timerCancel()
		st.timerCancel = nil
	}

	ordered := fallbackOrder(st.Room.ID, tb.Participants)
	tb.FinalOrder = tb.buildFinalOrderFromOrdered(st.Room.ID, ordered)
	tb.Stage = TiebreakStageResult
	st.Room.Phase = entity.RoomPhaseLeaderboard
	st.touch()

	return []outEvent{
		{
			eventType: EventTiebreakResult,
			data: map[string]interface{}{
				"room_id":     st.Room.ID,
				"winner":      tb.FinalOrder[0],
				"final_order": tb.FinalOrder,
				"fallback":    true,
			},
		},
		{
			eventType: EventLeaderboard,
			data: map[string]interface{}{
				"room_id":     st.Room.ID,
				"leaderboard": e.computeRankingLocked(st),
			},
		},
	}
}

// buildFinalOrderFromOrdered дополняет уже упорядоченных участников
// выбывшими группами
func (tb *Tiebreaker) buildFinalOrderFromOrdered(roomID string, ordered []string) []string {
	order := append([]string(nil), ordered...)
	for i := len(tb.droppedGroups) - 1; i >= 0; i-- {
		order = append(order, fallbackOrder(roomID, tb.droppedGroups[i])...)
	}
	return order
}
