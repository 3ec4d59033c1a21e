package entity

// QuestionKey — составной идентификатор вопроса в пределах комнаты.
// Один и тот же вопрос банка может встретиться в разных раундах,
// поэтому ключ включает номер раунда.
type QuestionKey struct {
	QuestionID uint `json:"question_id"`
	Round      int  `json:"round"`
}

// NoAnswerOption — маркер отсутствия ответа в записи AnswerRecord
const NoAnswerOption = -1

// AnswerRecord представляет ответ игрока на вопрос. Запись создается
// не более одного раза на пару (игрок, ключ вопроса): первый валидный
// ответ выигрывает, поздние дубликаты отбрасываются без ошибки.
type AnswerRecord struct {
	PlayerID       string      `json:"player_id"`
	Key            QuestionKey `json:"key"`
	SelectedOption int         `json:"selected_option"`
	IsCorrect      bool        `json:"is_correct"`
	NoAnswer       bool        `json:"no_answer"`
	ResponseTimeMs int64       `json:"response_time_ms"`
	TimeLimitMs    int64       `json:"time_limit_ms"`
	ScoreDelta     int         `json:"score_delta"`
}

// NewNoAnswerRecord создает синтетическую запись об отсутствии ответа.
// Финализация вопроса дозаполняет такие записи для всех не ответивших,
// чтобы каждый ключ вопроса имел полный набор ответов перед подсчетом.
func NewNoAnswerRecord(playerID string, key QuestionKey) *AnswerRecord {
	return &AnswerRecord{
		PlayerID:       playerID,
		Key:            key,
		SelectedOption: NoAnswerOption,
		NoAnswer:       true,
	}
}
