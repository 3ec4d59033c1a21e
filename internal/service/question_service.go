package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/yourusername/bingo-api/internal/domain/entity"
	"github.com/yourusername/bingo-api/internal/domain/repository"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// TTL кеша вопросов в Redis
const questionCacheTTL = 10 * time.Minute

// QuestionService предоставляет банк вопросов: выборки для раундов и
// тайбрейков, CRUD и массовый импорт из Excel. Реализует game.QuestionProvider.
type QuestionService struct {
	questionRepo repository.QuestionRepository
	cacheRepo    repository.CacheRepository
}

// NewQuestionService создает новый сервис банка вопросов
func NewQuestionService(
	questionRepo repository.QuestionRepository,
	cacheRepo repository.CacheRepository,
) *QuestionService {
	return &QuestionService{
		questionRepo: questionRepo,
		cacheRepo:    cacheRepo,
	}
}

// QuestionsForRound возвращает набор вопросов для раунда, исключая уже
// выданные комнате ID. Реализует game.QuestionProvider.
func (s *QuestionService) QuestionsForRound(ctx context.Context, round entity.RoundDefinition, excludeIDs []uint) ([]entity.Question, error) {
	questions, err := s.questionRepo.GetRandom(round.QuestionCount, round.Category, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, apperrors.ErrNotFound
	}
	if len(questions) < round.QuestionCount {
		// Банк мельче запрошенного — играем тем, что есть
		log.Printf("[QuestionService] Банк вернул %d вопросов вместо %d (категория %q)",
			len(questions), round.QuestionCount, round.Category)
	}
	return questions, nil
}

// TiebreakQuestion возвращает один вопрос для тайбрейка: предпочитаем
// сложные, при исчерпании — любой незаданный. Пустой банк — ErrNotFound,
// движок разрешит тайбрейк детерминированным фолбэком.
func (s *QuestionService) TiebreakQuestion(ctx context.Context, excludeIDs []uint) (*entity.Question, error) {
	questions, err := s.questionRepo.GetRandomByDifficulty(entity.DifficultyHard, 1, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tiebreak question: %w", err)
	}
	if len(questions) == 0 {
		questions, err = s.questionRepo.GetRandom(1, "", excludeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tiebreak question: %w", err)
		}
	}
	if len(questions) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &questions[0], nil
}

// GetQuestion возвращает вопрос по ID, с кешированием в Redis
func (s *QuestionService) GetQuestion(id uint) (*entity.Question, error) {
	cacheKey := fmt.Sprintf("question:%d", id)

	var cached entity.Question
	if err := s.cacheRepo.GetJSON(cacheKey, &cached); err == nil {
		return &cached, nil
	}

	question, err := s.questionRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if err := s.cacheRepo.SetJSON(cacheKey, question, questionCacheTTL); err != nil {
		log.Printf("[QuestionService] Не удалось закешировать вопрос %d: %v", id, err)
	}
	return question, nil
}

// CreateQuestion добавляет вопрос в банк
func (s *QuestionService) CreateQuestion(text string, options []string, correctOption int, difficulty, category string) (*entity.Question, error) {
	if err := validateQuestionInput(text, options, correctOption); err != nil {
		return nil, err
	}

	question := &entity.Question{
		Text:          strings.TrimSpace(text),
		Options:       entity.StringArray(options),
		CorrectOption: correctOption,
		Difficulty:    normalizeImportDifficulty(difficulty),
		Category:      strings.TrimSpace(category),
	}
	if err := s.questionRepo.Create(question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}
	return question, nil
}

// DeleteQuestion удаляет вопрос из банка и его кеш
func (s *QuestionService) DeleteQuestion(id uint) error {
	if err := s.questionRepo.Delete(id); err != nil {
		return err
	}
	if err := s.cacheRepo.Delete(fmt.Sprintf("question:%d", id)); err != nil {
		log.Printf("[QuestionService] Не удалось удалить кеш вопроса %d: %v", id, err)
	}
	return nil
}

// PoolStats возвращает размеры банка по уровням сложности
func (s *QuestionService) PoolStats() (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, difficulty := range []string{entity.DifficultyEasy, entity.DifficultyMedium, entity.DifficultyHard} {
		count, err := s.questionRepo.CountByDifficulty(difficulty)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s questions: %w", difficulty, err)
		}
		stats[difficulty] = count
	}
	return stats, nil
}

// ImportFromExcel читает вопросы из xlsx-файла и пакетно сохраняет их.
// Ожидаемые колонки: текст, варианты 1-4, номер правильного (с единицы),
// сложность, категория. Первая строка — заголовки, битые строки
// пропускаются с логом.
func (s *QuestionService) ImportFromExcel(reader io.Reader) (int, error) {
	f, err := excelize.OpenReader(reader)
	if err != nil {
		return 0, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, ErrImportEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	var questions []entity.Question
	for i, row := range rows {
		if i == 0 {
			continue // заголовки
		}
		if len(row) < 6 {
			log.Printf("[QuestionService] Импорт: строка %d слишком короткая, пропускаем", i+1)
			continue
		}

		text := strings.TrimSpace(row[0])
		options := make([]string, 0, 4)
		for _, cell := range row[1:5] {
			if opt := strings.TrimSpace(cell); opt != "" {
				options = append(options, opt)
			}
		}
		correct, err := strconv.Atoi(strings.TrimSpace(row[5]))
		if err != nil {
			log.Printf("[QuestionService] Импорт: строка %d, невалидный номер ответа %q", i+1, row[5])
			continue
		}
		correct-- // в файле нумерация с единицы

		if validateQuestionInput(text, options, correct) != nil {
			log.Printf("[QuestionService] Импорт: строка %d не прошла валидацию, пропускаем", i+1)
			continue
		}

		difficulty := ""
		if len(row) > 6 {
			difficulty = row[6]
		}
		category := ""
		if len(row) > 7 {
			category = strings.TrimSpace(row[7])
		}

		questions = append(questions, entity.Question{
			Text:          text,
			Options:       entity.StringArray(options),
			CorrectOption: correct,
			Difficulty:    normalizeImportDifficulty(difficulty),
			Category:      category,
		})
	}

	if len(questions) == 0 {
		return 0, ErrImportEmpty
	}
	if err := s.questionRepo.CreateBatch(questions); err != nil {
		return 0, fmt.Errorf("failed to save imported questions: %w", err)
	}
	log.Printf("[QuestionService] Импортировано %d вопросов из Excel", len(questions))
	return len(questions), nil
}

// validateQuestionInput проверяет входные данные вопроса
func validateQuestionInput(text string, options []string, correctOption int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: question text is required", apperrors.ErrValidation)
	}
	if len(options) < 2 {
		return fmt.Errorf("%w: question needs at least two options", apperrors.ErrValidation)
	}
	if correctOption < 0 || correctOption >= len(options) {
		return fmt.Errorf("%w: correct option index out of range", apperrors.ErrValidation)
	}
	return nil
}

// normalizeImportDifficulty нормализует сложность, включая известную
// историческую опечатку "meduim"
func normalizeImportDifficulty(difficulty string) string {
	switch strings.ToLower(strings.TrimSpace(difficulty)) {
	case entity.DifficultyEasy:
		return entity.DifficultyEasy
	case entity.DifficultyHard:
		return entity.DifficultyHard
	case entity.DifficultyMedium, "meduim", "":
		return entity.DifficultyMedium
	default:
		return entity.DifficultyMedium
	}
}
