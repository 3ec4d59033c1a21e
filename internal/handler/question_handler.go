package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bingo-api/internal/handler/dto"
	"github.com/yourusername/bingo-api/internal/handler/helper"
	"github.com/yourusername/bingo-api/internal/middleware"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
	"github.com/yourusername/bingo-api/internal/service"
)

// Максимальный размер загружаемого файла импорта (10 МБ)
const maxImportFileSize = 10 << 20

// QuestionHandler обрабатывает HTTP запросы к банку вопросов
type QuestionHandler struct {
	questionService *service.QuestionService
}

// NewQuestionHandler создает новый обработчик банка вопросов
func NewQuestionHandler(questionService *service.QuestionService) *QuestionHandler {
	return &QuestionHandler{questionService: questionService}
}

// CreateQuestion добавляет один вопрос в банк
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req dto.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.questionService.CreateQuestion(req.Text, req.Options, req.CorrectOption, req.Difficulty, req.Category)
	if err != nil {
		h.handleQuestionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

// GetQuestion возвращает вопрос по ID (без правильного ответа)
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	question, err := h.questionService.GetQuestion(middleware.UintParam(c, "questionID"))
	if err != nil {
		h.handleQuestionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         question.ID,
		"text":       question.Text,
		"options":    helper.ConvertOptionsToObjects(question.Options),
		"difficulty": question.Difficulty,
		"category":   question.Category,
	})
}

// DeleteQuestion удаляет вопрос из банка
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	if err := h.questionService.DeleteQuestion(middleware.UintParam(c, "questionID")); err != nil {
		h.handleQuestionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Question deleted"})
}

// GetPoolStats возвращает размеры банка вопросов по сложности
func (h *QuestionHandler) GetPoolStats(c *gin.Context) {
	stats, err := h.questionService.PoolStats()
	if err != nil {
		h.handleQuestionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pool": stats})
}

// ImportQuestions выполняет массовый импорт вопросов из xlsx-файла
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxImportFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Printf("[QuestionHandler] Ошибка открытия загруженного файла: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	imported, err := h.questionService.ImportFromExcel(file)
	if err != nil {
		if errors.Is(err, service.ErrImportEmpty) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		h.handleQuestionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported})
}

// handleQuestionError преобразует ошибки сервиса в HTTP статусы
func (h *QuestionHandler) handleQuestionError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in QuestionHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
