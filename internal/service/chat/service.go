package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/facechat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionMismatch = errors.New("message belongs to another session")
)

// Service holds the append-only message log of every open session.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewService bootstraps the in-memory log. Nothing survives a restart.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

// CreateSession provisions an anonymous session.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// Append adds messages to the session log atomically and in order, so a
// user/reply pair is never split by a concurrent append.
func (s *Service) Append(_ context.Context, sessionID string, messages ...chat.Message) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}

	now := time.Now().UTC()
	stored := make([]chat.Message, 0, len(messages))
	for _, message := range messages {
		if message.SessionID == "" {
			message.SessionID = sessionID
		}
		if message.SessionID != sessionID {
			return nil, ErrSessionMismatch
		}
		message.ID = uuid.NewString()
		if message.CreatedAt.IsZero() {
			message.CreatedAt = now
		}
		stored = append(stored, message)
	}

	s.messages[sessionID] = append(s.messages[sessionID], stored...)
	return stored, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Transcript returns a copy of the session log.
func (s *Service) Transcript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// CloseSession drops the session and its log.
func (s *Service) CloseSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	s.mu.Unlock()
}

// EvictIdle drops sessions created before cutoff unless keep reports them as
// in use. It returns the evicted IDs.
func (s *Service) EvictIdle(cutoff time.Time, keep func(sessionID string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, session := range s.sessions {
		if !session.CreatedAt.Before(cutoff) || (keep != nil && keep(id)) {
			continue
		}
		delete(s.sessions, id)
		delete(s.messages, id)
		evicted = append(evicted, id)
	}
	return evicted
}
