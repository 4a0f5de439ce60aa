package services

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const sessionWriteTimeout = 10 * time.Second

// FrameWriter - то, во что сессия пишет кадры (*websocket.Conn)
type FrameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// Session - одно живое подключение пользователя
type Session struct {
	ID     string
	UserID int64

	mu   sync.Mutex
	conn FrameWriter
}

func NewSession(userID int64, conn FrameWriter) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
	}
}

// Send пишет кадр в соединение; websocket не допускает параллельной записи
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.conn.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Ping отправляет websocket ping; ответный pong продлевает read deadline обработчика
func (s *Session) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.conn.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	}
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close отправляет close-кадр и закрывает соединение; чтение в обработчике
// после этого завершается ошибкой
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.conn.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(time.Second))
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
	if c, ok := s.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SessionRegistry - живые сессии по пользователям на этом инстансе
type SessionRegistry struct {
	mu    sync.RWMutex
	users map[int64]map[*Session]struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		users: make(map[int64]map[*Session]struct{}),
	}
}

// Add регистрирует сессию и возвращает число сессий пользователя после добавления
func (m *SessionRegistry) Add(s *Session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.users[s.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		m.users[s.UserID] = set
	}
	if _, exists := set[s]; !exists {
		set[s] = struct{}{}
		liveSessions.Inc()
	}
	return len(set)
}

// Remove снимает сессию и возвращает число оставшихся сессий пользователя
func (m *SessionRegistry) Remove(s *Session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.users[s.UserID]
	if _, exists := set[s]; exists {
		delete(set, s)
		liveSessions.Dec()
	}
	if len(set) == 0 {
		delete(m.users, s.UserID)
		return 0
	}
	return len(set)
}

func (m *SessionRegistry) Count(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

// Sessions возвращает снимок сессий пользователя
func (m *SessionRegistry) Sessions(userID int64) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.users[userID]
	sessions := make([]*Session, 0, len(set))
	for s := range set {
		sessions = append(sessions, s)
	}
	return sessions
}

// CloseAll закрывает все сессии инстанса и возвращает их число.
// Сессии снимает с учета Disconnect в обработчике соединения.
func (m *SessionRegistry) CloseAll() int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.users))
	for _, set := range m.users {
		for s := range set {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			Debugf("session %s close failed: %v", s.ID, err)
		}
	}
	return len(sessions)
}

// Deliver пишет кадр во все сессии адресатов. Запись идет вне блокировки реестра,
// ошибки записи не повторяются. Возвращает число успешных записей.
func (m *SessionRegistry) Deliver(userIDs []int64, frame []byte) int {
	delivered := 0
	for _, userID := range userIDs {
		for _, s := range m.Sessions(userID) {
			if err := s.Send(frame); err != nil {
				eventsDropped.WithLabelValues("write_error").Inc()
				Debugf("session %s of user %d write failed: %v", s.ID, userID, err)
				continue
			}
			delivered++
		}
	}
	return delivered
}

var GlobalSessionRegistry = NewSessionRegistry()
