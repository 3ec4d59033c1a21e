package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// Create создает новый вопрос
func (r *QuestionRepo) Create(question *entity.Question) error {
	return r.db.Create(question).Error
}

// CreateBatch создает пакет вопросов
func (r *QuestionRepo) CreateBatch(questions []entity.Question) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// Устанавливаем кодировку UTF-8 внутри транзакции
		if err := tx.Exec("SET CLIENT_ENCODING TO 'UTF8'").Error; err != nil {
			return err
		}
		return tx.Create(&questions).Error
	})
}

// GetByID возвращает вопрос по ID
func (r *QuestionRepo) GetByID(id uint) (*entity.Question, error) {
	var question entity.Question
	err := r.db.First(&question, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// Delete удаляет вопрос
func (r *QuestionRepo) Delete(id uint) error {
	return r.db.Delete(&entity.Question{}, id).Error
}

// GetRandom возвращает случайные вопросы, опционально по категории,
// исключая уже выданные ID
func (r *QuestionRepo) GetRandom(limit int, category string, excludeIDs []uint) ([]entity.Question, error) {
	var questions []entity.Question

	query := r.db.Order("RANDOM()").Limit(limit)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}

	if err := query.Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

// GetRandomByDifficulty возвращает случайные вопросы заданной сложности
func (r *QuestionRepo) GetRandomByDifficulty(difficulty string, limit int, excludeIDs []uint) ([]entity.Question, error) {
	var questions []entity.Question

	query := r.db.Where("difficulty = ?", difficulty).Order("RANDOM()").Limit(limit)
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}

	if err := query.Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

// CountByDifficulty возвращает размер банка для уровня сложности
func (r *QuestionRepo) CountByDifficulty(difficulty string) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Question{}).Where("difficulty = ?", difficulty).Count(&count).Error
	return count, err
}
