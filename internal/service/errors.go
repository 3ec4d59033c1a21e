package service

import "errors"

// Определяем кастомные ошибки для сервисов
var (
	ErrForbidden = errors.New("forbidden")

	// ErrImportEmpty возвращается при импорте файла без валидных вопросов
	ErrImportEmpty = errors.New("import file contains no valid questions")
)
