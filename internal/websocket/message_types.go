package websocket

// Типы входящих сообщений (клиент -> сервер)
const (
	// MSG_ROOM_JOIN — вход игрока в комнату
	MSG_ROOM_JOIN = "room:join"

	// MSG_ROOM_RECOVER — переподключение с запросом снапшота
	MSG_ROOM_RECOVER = "room:recover"

	// MSG_ANSWER_SUBMIT — ответ на текущий вопрос (обычный или тайбрейк)
	MSG_ANSWER_SUBMIT = "answer:submit"

	// MSG_EXTRA_USE — применение купленного модификатора
	MSG_EXTRA_USE = "extras:use"

	// MSG_HOST_START — запуск игры хостом
	MSG_HOST_START = "host:start_game"

	// MSG_HOST_NEXT_QUESTION — продвижение к следующему вопросу
	MSG_HOST_NEXT_QUESTION = "host:next_question"

	// MSG_HOST_NEXT_ROUND — продвижение к следующему раунду
	MSG_HOST_NEXT_ROUND = "host:next_round"

	// MSG_HOST_PAUSE / MSG_HOST_RESUME — пауза и возобновление вопроса
	MSG_HOST_PAUSE  = "host:pause"
	MSG_HOST_RESUME = "host:resume"

	// MSG_HOST_END_ROOM — завершение комнаты и сигнал расчета призов
	MSG_HOST_END_ROOM = "host:end_room"
)

// Типы служебных исходящих сообщений
const (
	// SERVER_ERROR — стандартизированная ошибка обработки сообщения
	SERVER_ERROR = "server:error"

	// ROOM_SNAPSHOT — снапшот состояния комнаты (ответ на join/recover)
	ROOM_SNAPSHOT = "room:snapshot"
)
