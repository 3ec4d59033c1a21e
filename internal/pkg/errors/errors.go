package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния (например, попытка создать комнату с занятым ID).
	ErrConflict = errors.New("resource state conflict")

	// ErrForbidden используется, когда у игрока недостаточно прав для действия (не хост).
	ErrForbidden = errors.New("forbidden")

	// ErrPaymentRequired используется, когда действие требует подтвержденной оплаты.
	ErrPaymentRequired = errors.New("payment required")
)

// Ошибки игрового протокола. Протокольные ошибки возвращаются вызывающему
// синхронно и никогда не меняют состояние комнаты.
var (
	// ErrRoomExists возвращается при попытке создать комнату с уже занятым ID.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound возвращается, когда комната не зарегистрирована в хранилище.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull возвращается при превышении лимита игроков в комнате.
	ErrRoomFull = errors.New("room is full")

	// ErrPlayerNotFound возвращается, когда игрок не состоит в комнате.
	ErrPlayerNotFound = errors.New("player not found in room")

	// ErrWrongPhase возвращается, когда действие недопустимо в текущей фазе комнаты.
	ErrWrongPhase = errors.New("action not allowed in current room phase")

	// ErrStaleAnswer помечает ответ, пришедший после финализации вопроса или
	// на неактуальный вопрос. Такие ответы молча отбрасываются: ретрансмиссия
	// по сети — ожидаемое поведение, а не исключение.
	ErrStaleAnswer = errors.New("answer is stale and was dropped")

	// ErrExtraExhausted возвращается, когда лимит использования экстры за раунд исчерпан.
	ErrExtraExhausted = errors.New("extra usage limit reached for this round")
)
