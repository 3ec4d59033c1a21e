package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/bingo-api/internal/domain/entity"
	apperrors "github.com/yourusername/bingo-api/internal/pkg/errors"
)

// ============================================================================
// Помощники
// ============================================================================

func roomPhase(t *testing.T, e *Engine, roomID string) string {
	t.Helper()
	st, err := e.Store().Get(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.Room.Phase
}

func playerScore(t *testing.T, e *Engine, roomID, playerID string) int {
	t.Helper()
	st, err := e.Store().Get(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.Players[playerID]
	require.True(t, ok, "игрок %s должен существовать", playerID)
	return p.Score
}

func playerNegative(t *testing.T, e *Engine, roomID, playerID string) int {
	t.Helper()
	st, err := e.Store().Get(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.Players[playerID].NegativePoints
}

// joinPlayers присоединяет игроков с фальшивыми сессиями
func joinPlayers(t *testing.T, env *testEnv, roomID string, playerIDs ...string) map[string]*fakeSessionRef {
	t.Helper()
	refs := make(map[string]*fakeSessionRef)
	for _, id := range playerIDs {
		ref := newFakeRef("conn-" + id)
		_, err := env.engine.JoinRoom(context.Background(), roomID, id, "Игрок "+id, ref)
		require.NoError(t, err)
		refs[id] = ref
	}
	return refs
}

// ============================================================================
// Создание комнаты и вход игроков
// ============================================================================

func TestEngine_CreateRoom(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	t.Run("Успешное создание", func(t *testing.T) {
		room, err := env.engine.CreateRoom("room-create", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 2))
		require.NoError(t, err)
		assert.Equal(t, entity.RoomPhaseWaiting, room.Phase)
		assert.Equal(t, 1, room.RoundCount())
	})

	t.Run("Дубликат ID комнаты", func(t *testing.T) {
		_, err := env.engine.CreateRoom("room-create", "host-2", singleRoundConfig(entity.RoundTypeGeneralTrivia, 2))
		assert.ErrorIs(t, err, apperrors.ErrRoomExists)
	})

	t.Run("Конфигурация без раундов отклоняется", func(t *testing.T) {
		_, err := env.engine.CreateRoom("room-empty", "host-1", entity.RoomConfig{MaxPlayers: 5})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Неизвестный тип раунда отклоняется", func(t *testing.T) {
		cfg := entity.RoomConfig{
			Rounds: []entity.RoundDefinition{{Type: "karaoke", QuestionCount: 3}},
		}
		_, err := env.engine.CreateRoom("room-bad-type", "host-1", cfg)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestEngine_JoinRoom(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	cfg := singleRoundConfig(entity.RoundTypeGeneralTrivia, 2)
	cfg.MaxPlayers = 2
	_, err := env.engine.CreateRoom("room-join", "host-1", cfg)
	require.NoError(t, err)

	t.Run("Вход в несуществующую комнату", func(t *testing.T) {
		_, err := env.engine.JoinRoom(context.Background(), "no-such-room", "p1", "Анна", newFakeRef("c1"))
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	})

	t.Run("Первый вход возвращает снапшот и рассылает событие", func(t *testing.T) {
		snapshot, err := env.engine.JoinRoom(context.Background(), "room-join", "p1", "Анна", newFakeRef("c1"))
		require.NoError(t, err)
		assert.Equal(t, "room-join", snapshot.RoomID)
		assert.Equal(t, entity.RoomPhaseWaiting, snapshot.Phase)
		assert.Equal(t, 1, snapshot.PlayerCount)
		require.NotNil(t, snapshot.You)
		assert.Equal(t, "p1", snapshot.You.PlayerID)

		joined := env.broadcaster.byType(EventPlayerJoined)
		require.Len(t, joined, 1)
	})

	t.Run("Комната заполнена", func(t *testing.T) {
		_, err := env.engine.JoinRoom(context.Background(), "room-join", "p2", "Борис", newFakeRef("c2"))
		require.NoError(t, err)

		_, err = env.engine.JoinRoom(context.Background(), "room-join", "p3", "Вера", newFakeRef("c3"))
		assert.ErrorIs(t, err, apperrors.ErrRoomFull)
	})

	t.Run("Повторный вход известного игрока проходит при заполненной комнате", func(t *testing.T) {
		snapshot, err := env.engine.JoinRoom(context.Background(), "room-join", "p1", "Анна", newFakeRef("c1-new"))
		require.NoError(t, err)
		assert.Equal(t, 2, snapshot.PlayerCount, "повторный вход не добавляет игрока")
	})

	t.Run("Новая сессия вытесняет старую", func(t *testing.T) {
		oldRef := newFakeRef("conn-old")
		_, err := env.engine.JoinRoom(context.Background(), "room-join", "p2", "Борис", oldRef)
		require.NoError(t, err)

		newRef := newFakeRef("conn-new")
		_, err = env.engine.JoinRoom(context.Background(), "room-join", "p2", "Борис", newRef)
		require.NoError(t, err)

		assert.True(t, oldRef.isClosed(), "вытесненная сессия должна быть закрыта")
		assert.Equal(t, "superseded_by_new_session", oldRef.reason)
		assert.False(t, newRef.isClosed())
	})
}

func TestEngine_JoinRoom_PaymentGate(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	cfg := singleRoundConfig(entity.RoundTypeGeneralTrivia, 2)
	cfg.EntryFee = 100
	cfg.Currency = "AED"
	_, err := env.engine.CreateRoom("room-paid", "host-1", cfg)
	require.NoError(t, err)

	t.Run("Неоплативший игрок не допускается", func(t *testing.T) {
		env.payments.On("IsPaid", "room-paid", "deadbeat").Return(false, nil).Once()

		_, err := env.engine.JoinRoom(context.Background(), "room-paid", "deadbeat", "Гриша", newFakeRef("c1"))
		assert.ErrorIs(t, err, apperrors.ErrPaymentRequired)
		env.payments.AssertExpectations(t)
	})

	t.Run("Ошибка леджера не пускает игрока", func(t *testing.T) {
		env.payments.On("IsPaid", "room-paid", "unlucky").Return(false, errors.New("ledger down")).Once()

		_, err := env.engine.JoinRoom(context.Background(), "room-paid", "unlucky", "Даша", newFakeRef("c2"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrPaymentRequired)
	})

	t.Run("Оплативший игрок входит", func(t *testing.T) {
		env.payments.On("IsPaid", "room-paid", "payer").Return(true, nil).Once()

		snapshot, err := env.engine.JoinRoom(context.Background(), "room-paid", "payer", "Елена", newFakeRef("c3"))
		require.NoError(t, err)
		require.NotNil(t, snapshot.You)

		st, err := env.engine.Store().Get("room-paid")
		require.NoError(t, err)
		st.mu.Lock()
		paid := st.Players["payer"].Paid
		st.mu.Unlock()
		assert.True(t, paid)
	})
}

func TestEngine_JoinRoom_LastSlotRace(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	gate := make(chan struct{})
	arrived := make(chan struct{}, 2)

	// Проверка оплаты держит обоих кандидатов, пока оба не пройдут
	// быстрый отказ по вместимости
	engine := NewEngine(DefaultConfig(), &Dependencies{
		Broadcaster: broadcaster,
		Payments: PaymentCheckerFunc(func(ctx context.Context, roomID, playerID string) (bool, error) {
			arrived <- struct{}{}
			<-gate
			return true, nil
		}),
	})
	defer engine.Shutdown()

	cfg := singleRoundConfig(entity.RoundTypeGeneralTrivia, 1)
	cfg.MaxPlayers = 1
	cfg.EntryFee = 100
	_, err := engine.CreateRoom("room-last-slot", "host-1", cfg)
	require.NoError(t, err)

	results := make(chan error, 2)
	for _, id := range []string{"p1", "p2"} {
		id := id
		go func() {
			_, err := engine.JoinRoom(context.Background(), "room-last-slot", id, "Игрок "+id, newFakeRef("conn-"+id))
			results <- err
		}()
	}
	<-arrived
	<-arrived
	close(gate)

	admitted, rejected := 0, 0
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			admitted++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrRoomFull)
			rejected++
		}
	}
	assert.Equal(t, 1, admitted, "последнее место достается ровно одному")
	assert.Equal(t, 1, rejected)

	st, err := engine.Store().Get("room-last-slot")
	require.NoError(t, err)
	st.mu.Lock()
	playerCount := len(st.Players)
	st.mu.Unlock()
	assert.LessOrEqual(t, playerCount, 1, "комната вместимостью 1 не должна содержать больше одного игрока")
}

func TestEngine_Recover(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	_, err := env.engine.CreateRoom("room-recover", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 2))
	require.NoError(t, err)
	joinPlayers(t, env, "room-recover", "p1")

	t.Run("Неизвестный игрок не восстанавливается", func(t *testing.T) {
		_, err := env.engine.Recover(context.Background(), "room-recover", "stranger", newFakeRef("cx"))
		assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)
	})

	t.Run("Известный игрок получает снапшот текущей фазы", func(t *testing.T) {
		snapshot, err := env.engine.Recover(context.Background(), "room-recover", "p1", newFakeRef("c-re"))
		require.NoError(t, err)
		assert.Equal(t, entity.RoomPhaseWaiting, snapshot.Phase)
		require.NotNil(t, snapshot.You)
		assert.Equal(t, "p1", snapshot.You.PlayerID)
	})
}

// ============================================================================
// Полный прогон: раунд, ответы, рейтинг, завершение
// ============================================================================

func TestEngine_FullGameFlow(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-flow"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 2))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1", "p2")

	questions := testQuestions()[:2] // easy (2 очка) + medium (3 очка)
	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(questions, nil).Once()

	t.Run("Старт игры не хостом запрещен", func(t *testing.T) {
		err := env.engine.StartGame(context.Background(), roomID, "p1")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("Хост стартует игру", func(t *testing.T) {
		require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))
		assert.Equal(t, entity.RoomPhaseAsking, roomPhase(t, env.engine, roomID))

		served := env.broadcaster.byType(EventQuestion)
		require.Len(t, served, 1)
		data := served[0].Data.(map[string]interface{})
		assert.Equal(t, uint(101), data["question_id"])
		_, leaked := data["correct_option"]
		assert.False(t, leaked, "правильный ответ не должен уходить с вопросом")
	})

	t.Run("Повторный старт отклоняется", func(t *testing.T) {
		err := env.engine.StartGame(context.Background(), roomID, "host-1")
		assert.ErrorIs(t, err, apperrors.ErrWrongPhase)
	})

	t.Run("Первый вопрос: оба отвечают", func(t *testing.T) {
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0))
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p2", 101, 1))

		acks := env.broadcaster.byType(EventAnswerAck)
		assert.Len(t, acks, 2)
	})

	t.Run("Хост закрывает вопрос и продвигает", func(t *testing.T) {
		require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))

		reviews := env.broadcaster.byType(EventReview)
		require.Len(t, reviews, 1)
		data := reviews[0].Data.(map[string]interface{})
		assert.Equal(t, 0, data["correct_option"])

		// Финализация прошла, подан следующий вопрос
		assert.Equal(t, entity.RoomPhaseAsking, roomPhase(t, env.engine, roomID))
		assert.Equal(t, 2, playerScore(t, env.engine, roomID, "p1"), "easy вопрос стоит 2 очка")
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p2"), "неправильный ответ без штрафа")
	})

	t.Run("Второй вопрос: p2 молчит", func(t *testing.T) {
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 102, 0))
		require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))

		// Раунд исчерпан: комната остается в reviewing до продвижения раунда
		assert.Equal(t, entity.RoomPhaseReviewing, roomPhase(t, env.engine, roomID))
		require.Len(t, env.broadcaster.byType(EventRoundComplete), 1)
		assert.Equal(t, 5, playerScore(t, env.engine, roomID, "p1"))
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p2"))
	})

	t.Run("Продвижение раунда выводит на финальный рейтинг", func(t *testing.T) {
		require.NoError(t, env.engine.AdvanceRound(context.Background(), roomID, "host-1"))
		assert.Equal(t, entity.RoomPhaseLeaderboard, roomPhase(t, env.engine, roomID))

		boards := env.broadcaster.byType(EventLeaderboard)
		require.Len(t, boards, 1)
		ranking := boards[0].Data.(map[string]interface{})["leaderboard"].([]RankEntry)
		require.Len(t, ranking, 2)
		assert.Equal(t, "p1", ranking[0].PlayerID)
		assert.Equal(t, 1, ranking[0].Place)
		assert.Equal(t, "p2", ranking[1].PlayerID)
		assert.Equal(t, 2, ranking[1].Place)
	})

	t.Run("Завершение комнаты публикует prizes-ready", func(t *testing.T) {
		env.settlement.On("PublishPrizesReady", roomID, mock.Anything).Return(nil).Once()

		require.NoError(t, env.engine.EndRoom(context.Background(), roomID, "host-1"))
		assert.Equal(t, entity.RoomPhaseComplete, roomPhase(t, env.engine, roomID))
		env.settlement.AssertExpectations(t)
		require.Len(t, env.broadcaster.byType(EventRoomComplete), 1)
	})

	env.questions.AssertExpectations(t)
}

// ============================================================================
// Свойства приема ответов
// ============================================================================

func TestEngine_SubmitAnswer_Properties(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-answers"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 2))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1", "p2")

	t.Run("Ответ до старта игры — stale", func(t *testing.T) {
		err := env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0)
		assert.ErrorIs(t, err, apperrors.ErrStaleAnswer)
	})

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:2], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))

	t.Run("Неизвестный игрок", func(t *testing.T) {
		err := env.engine.SubmitAnswer(context.Background(), roomID, "ghost", 101, 0)
		assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)
	})

	t.Run("Невалидный вариант", func(t *testing.T) {
		err := env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 99)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Чужой question_id — stale", func(t *testing.T) {
		err := env.engine.SubmitAnswer(context.Background(), roomID, "p1", 102, 0)
		assert.ErrorIs(t, err, apperrors.ErrStaleAnswer)
	})

	t.Run("Первый валидный ответ выигрывает", func(t *testing.T) {
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 1))

		// Попытка исправиться — молчаливый no-op
		err := env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0)
		assert.ErrorIs(t, err, apperrors.ErrStaleAnswer)

		st, err := env.engine.Store().Get(roomID)
		require.NoError(t, err)
		st.mu.Lock()
		rec := st.answers[entity.QuestionKey{QuestionID: 101, Round: 0}]["p1"]
		st.mu.Unlock()
		require.NotNil(t, rec)
		assert.Equal(t, 1, rec.SelectedOption, "зафиксирован первый ответ, не второй")
		assert.False(t, rec.IsCorrect)
	})

	t.Run("Ответ после финализации — stale", func(t *testing.T) {
		require.NoError(t, env.engine.FinalizeQuestion(roomID, entity.QuestionKey{QuestionID: 101, Round: 0}))

		err := env.engine.SubmitAnswer(context.Background(), roomID, "p2", 101, 0)
		assert.ErrorIs(t, err, apperrors.ErrStaleAnswer)
	})
}

func TestEngine_FinalizeQuestion_Idempotent(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-idem"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1")

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:1], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))
	require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0))

	key := entity.QuestionKey{QuestionID: 101, Round: 0}

	// Таймер и хост могут гоняться за финализацию — подсчет ровно один
	require.NoError(t, env.engine.FinalizeQuestion(roomID, key))
	require.NoError(t, env.engine.FinalizeQuestion(roomID, key))
	require.NoError(t, env.engine.FinalizeQuestion(roomID, key))

	assert.Equal(t, 2, playerScore(t, env.engine, roomID, "p1"), "очки начислены ровно один раз")
	assert.Len(t, env.broadcaster.byType(EventReview), 1, "событие разбора ровно одно")
}

func TestEngine_QuestionTimer_AutoFinalize(t *testing.T) {
	env := newTestEnv()
	env.engine.config.GracePeriod = 100 * time.Millisecond
	defer env.engine.Shutdown()

	const roomID = "room-timer"
	cfg := singleRoundConfig(entity.RoundTypeGeneralTrivia, 1)
	cfg.Rounds[0].TimeLimitSec = 1
	_, err := env.engine.CreateRoom(roomID, "host-1", cfg)
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1")

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:1], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))

	// Лимит 1с + допуск 100мс: вопрос закрывается без участия хоста
	require.Eventually(t, func() bool {
		st, err := env.engine.Store().Get(roomID)
		if err != nil {
			return false
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.Room.Phase == entity.RoomPhaseReviewing
	}, 3*time.Second, 50*time.Millisecond, "таймер должен финализировать вопрос")

	// Для молчавшего игрока дозаполнена синтетическая запись
	st, err := env.engine.Store().Get(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	rec := st.answers[entity.QuestionKey{QuestionID: 101, Round: 0}]["p1"]
	st.mu.Unlock()
	require.NotNil(t, rec)
	assert.True(t, rec.NoAnswer)
}

// ============================================================================
// Wipeout: штрафы, клиппинг, заморозка
// ============================================================================

func TestEngine_Wipeout_PenaltyClampAndFreeze(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-wipeout"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeWipeout, 2))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1", "p2", "p3")

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:2], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))

	t.Run("Штраф за неправильный ответ клиппится на нуле", func(t *testing.T) {
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0)) // верно: +2
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p2", 101, 1)) // неверно: -2, но счет 0

		// p2 замораживает p3 перед следующим вопросом
		require.NoError(t, env.engine.GrantExtra(roomID, "p2", entity.ExtraFreeze))
		require.NoError(t, env.engine.UseExtra(context.Background(), roomID, "p2", entity.ExtraFreeze, "p3"))

		require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))

		assert.Equal(t, 2, playerScore(t, env.engine, roomID, "p1"))
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p2"), "счет не уходит ниже нуля")
		assert.Equal(t, 2, playerNegative(t, env.engine, roomID, "p2"), "долг копится полностью")
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p3"))
		assert.Equal(t, 3, playerNegative(t, env.engine, roomID, "p3"), "молчание в wipeout штрафуется")
	})

	t.Run("Замороженный игрок не отвечает и не штрафуется", func(t *testing.T) {
		err := env.engine.SubmitAnswer(context.Background(), roomID, "p3", 102, 0)
		assert.ErrorIs(t, err, apperrors.ErrForbidden, "заморозка блокирует ответ")

		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 102, 0))
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p2", 102, 0))
		require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))

		// Пропуск по заморозке не считается молчанием: долг p3 не вырос
		assert.Equal(t, 3, playerNegative(t, env.engine, roomID, "p3"))
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p3"))
		assert.Equal(t, 5, playerScore(t, env.engine, roomID, "p1"))
		assert.Equal(t, 3, playerScore(t, env.engine, roomID, "p2"))
	})
}

// ============================================================================
// Экстры
// ============================================================================

func TestEngine_UseExtra(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-extras"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeWipeout, 2))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1", "p2")

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:2], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))

	t.Run("Некупленная экстра недоступна", func(t *testing.T) {
		err := env.engine.UseExtra(context.Background(), roomID, "p1", entity.ExtraHint, "")
		assert.ErrorIs(t, err, apperrors.ErrExtraExhausted)
	})

	t.Run("Подсказка уходит лично игроку", func(t *testing.T) {
		require.NoError(t, env.engine.GrantExtra(roomID, "p1", entity.ExtraHint))
		require.NoError(t, env.engine.UseExtra(context.Background(), roomID, "p1", entity.ExtraHint, ""))

		hints := env.broadcaster.byType(EventExtraHint)
		require.Len(t, hints, 1)
		assert.Equal(t, "p1", hints[0].PlayerID, "подсказка приватна")
		data := hints[0].Data.(map[string]interface{})
		assert.Equal(t, []int{1, 2}, data["eliminated_options"], "убраны только неверные варианты")
	})

	t.Run("Повторное использование в том же раунде запрещено", func(t *testing.T) {
		require.NoError(t, env.engine.GrantExtra(roomID, "p1", entity.ExtraHint))
		err := env.engine.UseExtra(context.Background(), roomID, "p1", entity.ExtraHint, "")
		assert.ErrorIs(t, err, apperrors.ErrExtraExhausted)
	})

	t.Run("Заморозить самого себя нельзя", func(t *testing.T) {
		require.NoError(t, env.engine.GrantExtra(roomID, "p1", entity.ExtraFreeze))
		err := env.engine.UseExtra(context.Background(), roomID, "p1", entity.ExtraFreeze, "p1")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Кража очков ограничена счетом жертвы", func(t *testing.T) {
		// У обоих по нулю: красть нечего, кража не уводит жертву в минус
		require.NoError(t, env.engine.GrantExtra(roomID, "p1", entity.ExtraRobPoints))
		require.NoError(t, env.engine.UseExtra(context.Background(), roomID, "p1", entity.ExtraRobPoints, "p2"))
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p1"))
		assert.Equal(t, 0, playerScore(t, env.engine, roomID, "p2"))
	})

	t.Run("Восстановление возвращает не больше накопленного долга", func(t *testing.T) {
		// p2 зарабатывает долг неправильным ответом
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p2", 101, 1))
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0))
		require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))

		require.Equal(t, 2, playerNegative(t, env.engine, roomID, "p2"))

		require.NoError(t, env.engine.GrantExtra(roomID, "p2", entity.ExtraRestore))
		require.NoError(t, env.engine.UseExtra(context.Background(), roomID, "p2", entity.ExtraRestore, ""))

		// Кап восстановления 4, но долг только 2
		assert.Equal(t, 2, playerScore(t, env.engine, roomID, "p2"))
		assert.Equal(t, 0, playerNegative(t, env.engine, roomID, "p2"))
	})

	t.Run("Экстра вне списка раунда отклоняется", func(t *testing.T) {
		env2 := newTestEnv()
		defer env2.engine.Shutdown()
		cfg := singleRoundConfig(entity.RoundTypeGeneralTrivia, 1)
		cfg.Rounds[0].EnabledExtras = []string{entity.ExtraHint}
		_, err := env2.engine.CreateRoom("room-limited", "host-1", cfg)
		require.NoError(t, err)
		joinPlayers(t, env2, "room-limited", "p1")

		env2.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:1], nil).Once()
		require.NoError(t, env2.engine.StartGame(context.Background(), "room-limited", "host-1"))

		require.NoError(t, env2.engine.GrantExtra("room-limited", "p1", entity.ExtraFreeze))
		err = env2.engine.UseExtra(context.Background(), "room-limited", "p1", entity.ExtraFreeze, "p1")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

// ============================================================================
// Пауза и возобновление
// ============================================================================

func TestEngine_PauseResume(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-pause"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1")

	t.Run("Паузить нечего до старта", func(t *testing.T) {
		err := env.engine.Pause(roomID, "host-1")
		assert.ErrorIs(t, err, apperrors.ErrWrongPhase)
	})

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:1], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))

	t.Run("Пауза доступна только хосту", func(t *testing.T) {
		err := env.engine.Pause(roomID, "p1")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("На паузе ответы не принимаются", func(t *testing.T) {
		require.NoError(t, env.engine.Pause(roomID, "host-1"))

		err := env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0)
		assert.ErrorIs(t, err, apperrors.ErrWrongPhase)

		err = env.engine.AdvanceQuestion(context.Background(), roomID, "host-1")
		assert.ErrorIs(t, err, apperrors.ErrWrongPhase, "продвижение на паузе запрещено")
	})

	t.Run("Повторная пауза отклоняется", func(t *testing.T) {
		err := env.engine.Pause(roomID, "host-1")
		assert.ErrorIs(t, err, apperrors.ErrWrongPhase)
	})

	t.Run("После возобновления ответ принимается", func(t *testing.T) {
		require.NoError(t, env.engine.Resume(roomID, "host-1"))
		require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0))
	})
}

// ============================================================================
// Завершение комнаты: ретраи публикации
// ============================================================================

func TestEngine_EndRoom_SettlementRetry(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-settle"
	_, err := env.engine.CreateRoom(roomID, "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1", "p2")

	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(testQuestions()[:1], nil).Once()
	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))
	require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0))
	require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))
	require.NoError(t, env.engine.AdvanceRound(context.Background(), roomID, "host-1"))
	require.Equal(t, entity.RoomPhaseLeaderboard, roomPhase(t, env.engine, roomID))

	t.Run("Ошибка публикации оставляет комнату в leaderboard", func(t *testing.T) {
		env.settlement.On("PublishPrizesReady", roomID, mock.Anything).Return(errors.New("broker down")).Once()

		err := env.engine.EndRoom(context.Background(), roomID, "host-1")
		assert.Error(t, err)
		assert.Equal(t, entity.RoomPhaseLeaderboard, roomPhase(t, env.engine, roomID), "комната не застревает в полупереходе")
		assert.Empty(t, env.broadcaster.byType(EventRoomComplete))
	})

	t.Run("Повторная попытка завершает комнату", func(t *testing.T) {
		env.settlement.On("PublishPrizesReady", roomID, mock.Anything).Return(nil).Once()

		require.NoError(t, env.engine.EndRoom(context.Background(), roomID, "host-1"))
		assert.Equal(t, entity.RoomPhaseComplete, roomPhase(t, env.engine, roomID))
		env.settlement.AssertExpectations(t)
	})
}

// ============================================================================
// Многораундовая игра
// ============================================================================

func TestEngine_MultiRound(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	const roomID = "room-multi"
	cfg := entity.RoomConfig{
		MaxPlayers: 10,
		Rounds: []entity.RoundDefinition{
			{Type: entity.RoundTypeGeneralTrivia, QuestionCount: 1, TimeLimitSec: 30, EnabledExtras: []string{entity.ExtraHint}},
			{Type: entity.RoundTypeSpeedRound, QuestionCount: 1, TimeLimitSec: 30},
		},
	}
	_, err := env.engine.CreateRoom(roomID, "host-1", cfg)
	require.NoError(t, err)
	joinPlayers(t, env, roomID, "p1", "p2")

	all := testQuestions()
	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(all[:1], nil).Once()
	env.questions.On("QuestionsForRound", mock.Anything, mock.Anything).Return(all[1:2], nil).Once()

	require.NoError(t, env.engine.StartGame(context.Background(), roomID, "host-1"))
	require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p1", 101, 0))
	require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))

	// Между раундами лимиты экстр сбрасываются
	require.NoError(t, env.engine.GrantExtra(roomID, "p1", entity.ExtraHint))
	require.NoError(t, env.engine.UseExtra(context.Background(), roomID, "p1", entity.ExtraHint, ""))

	require.NoError(t, env.engine.AdvanceRound(context.Background(), roomID, "host-1"))
	assert.Equal(t, entity.RoomPhaseAsking, roomPhase(t, env.engine, roomID), "следующий раунд стартует сразу")

	st, err := env.engine.Store().Get(roomID)
	require.NoError(t, err)
	st.mu.Lock()
	round := st.Room.CurrentRound
	used := st.Players["p1"].UsedExtras[entity.ExtraHint]
	st.mu.Unlock()
	assert.Equal(t, 1, round)
	assert.Equal(t, 0, used, "лимит экстр действует в пределах раунда")

	// Во втором раунде вопрос 102 (ранее выданный 101 исключен банком)
	time.Sleep(10 * time.Millisecond) // ненулевое время ответа для бонуса скорости
	require.NoError(t, env.engine.SubmitAnswer(context.Background(), roomID, "p2", 102, 0))
	require.NoError(t, env.engine.AdvanceQuestion(context.Background(), roomID, "host-1"))
	require.NoError(t, env.engine.AdvanceRound(context.Background(), roomID, "host-1"))

	// p1: 2 очка за первый раунд; p2: 2 очка + бонус скорости за второй
	assert.Equal(t, entity.RoomPhaseLeaderboard, roomPhase(t, env.engine, roomID))
	assert.Equal(t, 2, playerScore(t, env.engine, roomID, "p1"))
	assert.Equal(t, 3, playerScore(t, env.engine, roomID, "p2"))
	env.questions.AssertExpectations(t)
}

// ============================================================================
// Удаление и уборка комнат
// ============================================================================

func TestEngine_DeleteRoom(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	_, err := env.engine.CreateRoom("room-del", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)
	refs := joinPlayers(t, env, "room-del", "p1")

	t.Run("Удаление не хостом запрещено", func(t *testing.T) {
		err := env.engine.DeleteRoom("room-del", "p1")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("Хост удаляет комнату, сессии закрываются", func(t *testing.T) {
		require.NoError(t, env.engine.DeleteRoom("room-del", "host-1"))

		_, err := env.engine.Store().Get("room-del")
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
		assert.True(t, refs["p1"].isClosed())
		require.Len(t, env.broadcaster.byType(EventRoomClosed), 1)
	})
}

func TestEngine_SweepIdle(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	_, err := env.engine.CreateRoom("room-fresh", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)
	_, err = env.engine.CreateRoom("room-stale", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)

	// Искусственно состариваем вторую комнату
	st, err := env.engine.Store().Get("room-stale")
	require.NoError(t, err)
	st.mu.Lock()
	st.Room.LastActivity = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	removed := env.engine.SweepIdle(time.Hour)
	assert.Equal(t, 1, removed)

	_, err = env.engine.Store().Get("room-stale")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	_, err = env.engine.Store().Get("room-fresh")
	assert.NoError(t, err, "активная комната не трогается")
}

func TestEngine_SweepIdle_LiveGameSurvives(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	_, err := env.engine.CreateRoom("room-live", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)
	refs := joinPlayers(t, env, "room-live", "p1")

	st, err := env.engine.Store().Get("room-live")
	require.NoError(t, err)
	st.mu.Lock()
	st.Room.Phase = entity.RoomPhaseAsking
	st.Room.LastActivity = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	// Идущая игра с живым соединением не сносится даже при простое
	assert.Equal(t, 0, env.engine.SweepIdle(time.Hour))
	_, err = env.engine.Store().Get("room-live")
	assert.NoError(t, err, "комната с подключенным игроком должна пережить уборку")

	// Все отключились — простой той же давности уже фатален
	env.engine.Sessions().MarkDisconnected("room-live", "p1", refs["p1"].ConnectionID())
	assert.Equal(t, 1, env.engine.SweepIdle(time.Hour))
	_, err = env.engine.Store().Get("room-live")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func TestEngine_SweepIdle_CompleteRoomLivesOutTTL(t *testing.T) {
	env := newTestEnv()
	defer env.engine.Shutdown()

	_, err := env.engine.CreateRoom("room-done", "host-1", singleRoundConfig(entity.RoundTypeGeneralTrivia, 1))
	require.NoError(t, err)

	st, err := env.engine.Store().Get("room-done")
	require.NoError(t, err)
	st.mu.Lock()
	st.Room.Phase = entity.RoomPhaseComplete
	st.mu.Unlock()

	// Свежезавершенная комната остается: переподключение в фазе complete
	// должно получить финальный рейтинг
	assert.Equal(t, 0, env.engine.SweepIdle(time.Hour))
	_, err = env.engine.Store().Get("room-done")
	assert.NoError(t, err, "завершенная комната живет свой TTL")

	st.mu.Lock()
	st.Room.LastActivity = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	assert.Equal(t, 1, env.engine.SweepIdle(time.Hour))
	_, err = env.engine.Store().Get("room-done")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}
