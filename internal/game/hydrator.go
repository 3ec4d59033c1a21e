package game

import (
	"time"

	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// PlayerView — состояние самого игрока в снапшоте
type PlayerView struct {
	PlayerID       string         `json:"player_id"`
	Name           string         `json:"name"`
	Score          int            `json:"score"`
	NegativePoints int            `json:"negative_points"`
	UsedExtras     map[string]int `json:"used_extras,omitempty"`
	Frozen         bool           `json:"frozen,omitempty"`
}

// QuestionView — вопрос в снапшоте. Правильный вариант присутствует
// только после финализации вопроса.
type QuestionView struct {
	QuestionID    uint     `json:"question_id"`
	Number        int      `json:"number"`
	Total         int      `json:"total_questions"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	Difficulty    string   `json:"difficulty"`
	TimeLimitSec  int      `json:"time_limit"`
	RemainingMs   int64    `json:"remaining_ms"`
	CorrectOption *int     `json:"correct_option,omitempty"`
}

// AnswerView — собственный ответ игрока на текущий вопрос
type AnswerView struct {
	SelectedOption int   `json:"selected_option"`
	IsCorrect      *bool `json:"is_correct,omitempty"`
	ResponseTimeMs int64 `json:"response_time_ms"`
	ScoreDelta     *int  `json:"score_delta,omitempty"`
}

// TiebreakView — состояние тайбрейка в снапшоте
type TiebreakView struct {
	Stage        string        `json:"stage"`
	Participants []string      `json:"participants"`
	IsYou        bool          `json:"you_participate"`
	Question     *QuestionView `json:"question,omitempty"`
	FinalOrder   []string      `json:"final_order,omitempty"`
}

// Snapshot — полная картина комнаты для одного игрока на момент запроса.
// Строится по текущей фазе: подключившийся посреди игры клиент получает
// ровно то, что видел бы, наблюдая с начала, без воспроизведения истории.
type Snapshot struct {
	RoomID      string        `json:"room_id"`
	HostID      string        `json:"host_id"`
	Phase       string        `json:"phase"`
	Paused      bool          `json:"paused"`
	Round       int           `json:"round"`
	RoundType   string        `json:"round_type,omitempty"`
	RoundCount  int           `json:"round_count"`
	PlayerCount int           `json:"player_count"`
	You         *PlayerView   `json:"you,omitempty"`
	Question    *QuestionView `json:"question,omitempty"`
	YourAnswer  *AnswerView   `json:"your_answer,omitempty"`
	Tiebreaker  *TiebreakView `json:"tiebreaker,omitempty"`
	Standings   []RankEntry   `json:"standings,omitempty"`
	Leaderboard []RankEntry   `json:"leaderboard,omitempty"`
}

// buildSnapshotLocked собирает снапшот комнаты для игрока.
// Вызывается под блокировкой комнаты — снапшот атомарен относительно
// любых конкурентных мутаций.
func (e *Engine) buildSnapshotLocked(st *RoomState, playerID string, now time.Time) *Snapshot {
	snap := &Snapshot{
		RoomID:      st.Room.ID,
		HostID:      st.Room.HostID,
		Phase:       st.Room.Phase,
		Paused:      st.Room.Paused,
		Round:       st.Room.CurrentRound,
		RoundCount:  st.Room.RoundCount(),
		PlayerCount: len(st.Players),
	}
	if round := st.Room.CurrentRoundDef(); round != nil {
		snap.RoundType = round.Type
	}

	if p, ok := st.Players[playerID]; ok {
		used := make(map[string]int, len(p.UsedExtras))
		for k, v := range p.UsedExtras {
			used[k] = v
		}
		snap.You = &PlayerView{
			PlayerID:       p.ID,
			Name:           p.Name,
			Score:          p.Score,
			NegativePoints: p.NegativePoints,
			UsedExtras:     used,
			Frozen:         p.IsFrozenFor(st.Room.CurrentRound, st.Room.CurrentQuestionIndex),
		}
	}

	switch st.Room.Phase {
	case entity.RoomPhaseAsking:
		snap.Question = e.questionViewLocked(st, now, false)
		snap.YourAnswer = ownAnswerView(st, playerID, false)

	case entity.RoomPhaseReviewing:
		snap.Question = e.questionViewLocked(st, now, true)
		snap.YourAnswer = ownAnswerView(st, playerID, true)
		snap.Standings = e.computeRankingLocked(st)

	case entity.RoomPhaseTiebreaker:
		snap.Tiebreaker = tiebreakViewLocked(st, playerID, now)
		snap.Standings = e.computeRankingLocked(st)

	case entity.RoomPhaseLeaderboard, entity.RoomPhaseComplete:
		snap.Leaderboard = e.computeRankingLocked(st)
		if st.tiebreaker != nil && st.tiebreaker.Stage == TiebreakStageResult {
			snap.Tiebreaker = &TiebreakView{
				Stage:      TiebreakStageResult,
				FinalOrder: append([]string(nil), st.tiebreaker.FinalOrder...),
			}
		}
	}
	return snap
}

// questionViewLocked строит вид текущего вопроса. Правильный вариант
// раскрывается только после финализации (revealed).
func (e *Engine) questionViewLocked(st *RoomState, now time.Time, revealed bool) *QuestionView {
	q := st.currentQuestion()
	round := st.Room.CurrentRoundDef()
	if q == nil || round == nil {
		return nil
	}

	limitMs := int64(round.TimeLimitSec) * 1000
	var remaining int64
	if st.Room.Paused {
		remaining = st.pausedRemaining.Milliseconds()
	} else if !revealed {
		remaining = st.Room.QuestionStartMs + limitMs - now.UnixMilli()
	}
	// Остаток клиппится в [0, лимит]: рассинхрон часов клиента не дает
	// ни отрицательный таймер, ни таймер длиннее лимита
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limitMs {
		remaining = limitMs
	}

	view := &QuestionView{
		QuestionID:   q.ID,
		Number:       st.Room.CurrentQuestionIndex + 1,
		Total:        len(st.questions),
		Text:         q.Text,
		Options:      []string(q.Options),
		Difficulty:   q.Difficulty,
		TimeLimitSec: round.TimeLimitSec,
		RemainingMs:  remaining,
	}
	if revealed {
		correct := q.CorrectOption
		view.CorrectOption = &correct
	}
	return view
}

// ownAnswerView возвращает собственный ответ игрока на текущий вопрос,
// если он есть. Корректность и дельта раскрываются после финализации.
func ownAnswerView(st *RoomState, playerID string, revealed bool) *AnswerView {
	key, ok := st.currentKey()
	if !ok {
		return nil
	}
	records := st.answers[key]
	if records == nil {
		return nil
	}
	rec, ok := records[playerID]
	if !ok || rec.NoAnswer {
		return nil
	}

	view := &AnswerView{
		SelectedOption: rec.SelectedOption,
		ResponseTimeMs: rec.ResponseTimeMs,
	}
	if revealed {
		correct := rec.IsCorrect
		delta := rec.ScoreDelta
		view.IsCorrect = &correct
		view.ScoreDelta = &delta
	}
	return view
}

// tiebreakViewLocked строит вид тайбрейка. Текст вопроса виден только
// участникам; зрители получают стадию и состав.
func tiebreakViewLocked(st *RoomState, playerID string, now time.Time) *TiebreakView {
	tb := st.tiebreaker
	if tb == nil {
		return nil
	}

	view := &TiebreakView{
		Stage:        tb.Stage,
		Participants: append([]string(nil), tb.Participants...),
		IsYou:        tb.isParticipant(playerID),
	}
	if tb.Stage == TiebreakStageQuestion && tb.Current != nil && view.IsYou {
		limitMs := int64(tiebreakTimeLimitSec) * 1000
		remaining := tb.StartMs + limitMs - now.UnixMilli()
		if remaining < 0 {
			remaining = 0
		}
		if remaining > limitMs {
			remaining = limitMs
		}
		view.Question = &QuestionView{
			QuestionID:   tb.Current.ID,
			Text:         tb.Current.Text,
			Options:      []string(tb.Current.Options),
			TimeLimitSec: tiebreakTimeLimitSec,
			RemainingMs:  remaining,
		}
	}
	if tb.Stage == TiebreakStageResult {
		view.FinalOrder = append([]string(nil), tb.FinalOrder...)
	}
	return view
}
