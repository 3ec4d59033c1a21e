package game

import (
	"sync"
	"time"
)

// SessionRef — ссылка на живое соединение игрока. Реализуется
// WebSocket-клиентом; движку важны только идентификация и принудительное
// закрытие при вытеснении.
type SessionRef interface {
	// ConnectionID возвращает уникальный ID соединения
	ConnectionID() string

	// CloseWithReason закрывает соединение с указанием причины
	CloseWithReason(reason string)
}

// Session хранит метаданные привязки игрока к соединению
type Session struct {
	RoomID     string
	PlayerID   string
	Ref        SessionRef
	Connected  bool
	LastActive time.Time
}

// SessionTracker отслеживает сессии игроков по комнатам.
// Правило "одна активная сессия на игрока": новая привязка вытесняет
// старую, и вытесненное соединение закрывается ДО того, как новая сессия
// начнет принимать мутации — иначе два сокета одного игрока гонялись бы
// на отправке ответов.
type SessionTracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
}

// NewSessionTracker создает новый трекер сессий
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		rooms: make(map[string]map[string]*Session),
	}
}

// Bind привязывает соединение к игроку комнаты. Возвращает вытесненную
// ссылку (или nil): вызывающий обязан закрыть её до продолжения работы.
func (t *SessionTracker) Bind(roomID, playerID string, ref SessionRef) SessionRef {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions, ok := t.rooms[roomID]
	if !ok {
		sessions = make(map[string]*Session)
		t.rooms[roomID] = sessions
	}

	var displaced SessionRef
	if prev, exists := sessions[playerID]; exists && prev.Ref != nil {
		if ref == nil || prev.Ref.ConnectionID() != ref.ConnectionID() {
			displaced = prev.Ref
		}
	}

	sessions[playerID] = &Session{
		RoomID:     roomID,
		PlayerID:   playerID,
		Ref:        ref,
		Connected:  ref != nil,
		LastActive: time.Now(),
	}
	return displaced
}

// Get возвращает сессию игрока в комнате
func (t *SessionTracker) Get(roomID, playerID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sessions, ok := t.rooms[roomID]
	if !ok {
		return nil, false
	}
	s, ok := sessions[playerID]
	return s, ok
}

// Touch обновляет отметку активности сессии
func (t *SessionTracker) Touch(roomID, playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sessions, ok := t.rooms[roomID]; ok {
		if s, ok := sessions[playerID]; ok {
			s.LastActive = time.Now()
		}
	}
}

// MarkDisconnected помечает сессию отключенной, если отключилось именно
// переданное соединение. Поздний disconnect вытесненного сокета не должен
// сбросить присутствие игрока, уже переподключившегося с нового.
func (t *SessionTracker) MarkDisconnected(roomID, playerID, connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions, ok := t.rooms[roomID]
	if !ok {
		return
	}
	s, ok := sessions[playerID]
	if !ok || s.Ref == nil {
		return
	}
	if s.Ref.ConnectionID() != connectionID {
		return
	}
	s.Connected = false
	s.LastActive = time.Now()
}

// CountConnected возвращает количество живых соединений комнаты
func (t *SessionTracker) CountConnected(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, s := range t.rooms[roomID] {
		if s.Connected {
			count++
		}
	}
	return count
}

// DropRoom удаляет все сессии комнаты и возвращает живые ссылки,
// которые вызывающий должен закрыть
func (t *SessionTracker) DropRoom(roomID string) []SessionRef {
	t.mu.Lock()
	defer t.mu.Unlock()

	var refs []SessionRef
	for _, s := range t.rooms[roomID] {
		if s.Connected && s.Ref != nil {
			refs = append(refs, s.Ref)
		}
	}
	delete(t.rooms, roomID)
	return refs
}
