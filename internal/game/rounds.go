package game

import (
	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// RoundEngine — закрытое множество вариантов механики раунда за общим
// интерфейсом. Вариант выбирается один раз на раунд по объявленному типу.
type RoundEngine interface {
	// ScoreAnswer возвращает дельту очков за запись ответа. Отрицательная
	// дельта — штраф; клиппинг на ноль выполняет движок при применении.
	ScoreAnswer(q *entity.Question, rec *entity.AnswerRecord, policy ScoringPolicy) int

	// IsRoundComplete проверяет, исчерпаны ли вопросы раунда
	IsRoundComplete(questionIndex, questionCount int) bool
}

// EngineForRoundType возвращает реализацию механики для типа раунда
func EngineForRoundType(roundType string) RoundEngine {
	switch roundType {
	case entity.RoundTypeWipeout:
		return wipeoutRound{}
	case entity.RoundTypeSpeedRound:
		return speedRound{}
	case entity.RoundTypeHeadToHead:
		return headToHeadRound{}
	default:
		return generalTriviaRound{}
	}
}

// generalTriviaRound — стандартная викторина: очки по сложности за
// правильный ответ, штрафы по политике (по умолчанию нулевые)
type generalTriviaRound struct{}

func (generalTriviaRound) ScoreAnswer(q *entity.Question, rec *entity.AnswerRecord, policy ScoringPolicy) int {
	if rec.NoAnswer {
		return -policy.PointsLostPerUnanswered
	}
	if rec.IsCorrect {
		return policy.PointsFor(q.Difficulty)
	}
	return -policy.PointsLostPerWrong
}

func (generalTriviaRound) IsRoundComplete(questionIndex, questionCount int) bool {
	return questionIndex >= questionCount-1
}

// wipeoutRound — механика "на вылет": неправильный и пропущенный ответы
// штрафуются всегда
type wipeoutRound struct{}

func (wipeoutRound) ScoreAnswer(q *entity.Question, rec *entity.AnswerRecord, policy ScoringPolicy) int {
	if rec.NoAnswer {
		return -policy.PointsLostPerUnanswered
	}
	if rec.IsCorrect {
		return policy.PointsFor(q.Difficulty)
	}
	return -policy.PointsLostPerWrong
}

func (wipeoutRound) IsRoundComplete(questionIndex, questionCount int) bool {
	return questionIndex >= questionCount-1
}

// speedRoundFastFraction — доля лимита времени, в пределах которой
// правильный ответ получает бонус за скорость
const speedRoundFastFraction = 2

// speedRound — скоростной раунд: плоские очки плюс бонус за ответ
// в первой половине лимита времени
type speedRound struct{}

func (speedRound) ScoreAnswer(q *entity.Question, rec *entity.AnswerRecord, policy ScoringPolicy) int {
	if rec.NoAnswer {
		return -policy.PointsLostPerUnanswered
	}
	if !rec.IsCorrect {
		return -policy.PointsLostPerWrong
	}
	points := policy.PointsFor(q.Difficulty)
	if rec.TimeLimitMs > 0 && rec.ResponseTimeMs > 0 &&
		rec.ResponseTimeMs <= rec.TimeLimitMs/int64(speedRoundFastFraction) {
		points++
	}
	return points
}

func (speedRound) IsRoundComplete(questionIndex, questionCount int) bool {
	return questionIndex >= questionCount-1
}

// headToHeadRound — дуэльный раунд: каждый вопрос стоит одно очко
// независимо от сложности
type headToHeadRound struct{}

func (headToHeadRound) ScoreAnswer(q *entity.Question, rec *entity.AnswerRecord, policy ScoringPolicy) int {
	if rec.NoAnswer || !rec.IsCorrect {
		return 0
	}
	return policy.PointsFor(q.Difficulty)
}

func (headToHeadRound) IsRoundComplete(questionIndex, questionCount int) bool {
	return questionIndex >= questionCount-1
}
