package repository

import (
	"github.com/yourusername/bingo-api/internal/domain/entity"
)

// QuestionRepository определяет методы для работы с банком вопросов
type QuestionRepository interface {
	Create(question *entity.Question) error
	CreateBatch(questions []entity.Question) error
	GetByID(id uint) (*entity.Question, error)
	Delete(id uint) error

	// GetRandom возвращает случайные вопросы, опционально отфильтрованные
	// по категории, исключая уже выданные в комнате ID
	GetRandom(limit int, category string, excludeIDs []uint) ([]entity.Question, error)

	// GetRandomByDifficulty возвращает случайные вопросы заданной сложности
	GetRandomByDifficulty(difficulty string, limit int, excludeIDs []uint) ([]entity.Question, error)

	// CountByDifficulty возвращает размер банка для уровня сложности
	CountByDifficulty(difficulty string) (int64, error)
}
