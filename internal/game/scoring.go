package game

import (
	"strings"

	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// ScoringPolicy — конкретная политика подсчета очков для раунда
type ScoringPolicy struct {
	PointsPerDifficulty     map[string]int
	PointsLostPerWrong      int
	PointsLostPerUnanswered int
}

// PointsFor возвращает количество очков за правильный ответ на вопрос
// указанной сложности. Неизвестная сложность считается средней.
func (p ScoringPolicy) PointsFor(difficulty string) int {
	if pts, ok := p.PointsPerDifficulty[normalizeDifficulty(difficulty)]; ok {
		return pts
	}
	return p.PointsPerDifficulty[entity.DifficultyMedium]
}

// Таблица политик по умолчанию, ключ — тип раунда
var defaultPolicies = map[string]ScoringPolicy{
	entity.RoundTypeGeneralTrivia: {
		PointsPerDifficulty: map[string]int{
			entity.DifficultyEasy:   2,
			entity.DifficultyMedium: 3,
			entity.DifficultyHard:   5,
		},
		PointsLostPerWrong:      0,
		PointsLostPerUnanswered: 0,
	},
	entity.RoundTypeWipeout: {
		PointsPerDifficulty: map[string]int{
			entity.DifficultyEasy:   2,
			entity.DifficultyMedium: 3,
			entity.DifficultyHard:   5,
		},
		PointsLostPerWrong:      2,
		PointsLostPerUnanswered: 3,
	},
	entity.RoundTypeSpeedRound: {
		PointsPerDifficulty: map[string]int{
			entity.DifficultyEasy:   2,
			entity.DifficultyMedium: 2,
			entity.DifficultyHard:   2,
		},
		PointsLostPerWrong:      0,
		PointsLostPerUnanswered: 0,
	},
	entity.RoundTypeHeadToHead: {
		PointsPerDifficulty: map[string]int{
			entity.DifficultyEasy:   1,
			entity.DifficultyMedium: 1,
			entity.DifficultyHard:   1,
		},
		PointsLostPerWrong:      0,
		PointsLostPerUnanswered: 0,
	},
}

// normalizeDifficulty приводит ключ сложности к каноническому виду.
// Ключи сравниваются без учета регистра; устаревшее написание "meduim"
// из ранних конфигураций нормализуется для обратной совместимости.
func normalizeDifficulty(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "meduim" {
		return entity.DifficultyMedium
	}
	return k
}

// ResolvePolicy отображает тип раунда и переопределения комнаты в
// конкретную политику. Слияние выполняется по каждому полю отдельно:
// частичное переопределение не затирает незатронутые значения по умолчанию.
func ResolvePolicy(roundType string, override *entity.ScoringOverride) ScoringPolicy {
	base, ok := defaultPolicies[roundType]
	if !ok {
		base = defaultPolicies[entity.RoundTypeGeneralTrivia]
	}

	// Копируем, чтобы переопределения не мутировали таблицу по умолчанию
	resolved := ScoringPolicy{
		PointsPerDifficulty:     make(map[string]int, len(base.PointsPerDifficulty)),
		PointsLostPerWrong:      base.PointsLostPerWrong,
		PointsLostPerUnanswered: base.PointsLostPerUnanswered,
	}
	for tier, pts := range base.PointsPerDifficulty {
		resolved.PointsPerDifficulty[tier] = pts
	}

	if override == nil {
		return resolved
	}

	for tier, pts := range override.PointsPerDifficulty {
		resolved.PointsPerDifficulty[normalizeDifficulty(tier)] = pts
	}
	if override.PointsLostPerWrong != nil {
		resolved.PointsLostPerWrong = *override.PointsLostPerWrong
	}
	if override.PointsLostPerUnanswered != nil {
		resolved.PointsLostPerUnanswered = *override.PointsLostPerUnanswered
	}
	return resolved
}
