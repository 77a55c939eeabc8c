package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// IdleEvicter drops sessions that were created but never used.
type IdleEvicter interface {
	EvictIdle(cutoff time.Time, keep func(sessionID string) bool) []string
}

// Manager tracks the live session of every connected page. A session ID has
// at most one live connection: attaching a new one closes the old one.
type Manager struct {
	mu   sync.Mutex
	live map[string]*Session
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{live: make(map[string]*Session)}
}

// Attach registers s and supersedes whichever session held its ID before.
func (m *Manager) Attach(ctx context.Context, s *Session) {
	m.mu.Lock()
	previous := m.live[s.id]
	m.live[s.id] = s
	m.mu.Unlock()

	if previous != nil && previous != s {
		previous.Supersede(ctx)
	}
}

// Detach closes s and forgets it unless a newer connection replaced it.
func (m *Manager) Detach(ctx context.Context, s *Session) {
	m.mu.Lock()
	if m.live[s.id] == s {
		delete(m.live, s.id)
	}
	m.mu.Unlock()

	s.Close(ctx)
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CloseAll tears down every live session, for server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.live))
	for id, s := range m.live {
		sessions = append(sessions, s)
		delete(m.live, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}

// Live reports whether id has a connected page.
func (m *Manager) Live(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// EvictIdle runs one sweep: sessions older than ttl without a live
// connection are dropped from store.
func (m *Manager) EvictIdle(store IdleEvicter, ttl time.Duration, now time.Time) []string {
	evicted := store.EvictIdle(now.Add(-ttl), m.Live)
	if len(evicted) > 0 {
		log.Printf("[session] evicted %d idle sessions", len(evicted))
	}
	return evicted
}

// RunEviction sweeps store every interval until ctx is done. A non-positive
// ttl disables it.
func (m *Manager) RunEviction(ctx context.Context, store IdleEvicter, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.EvictIdle(store, ttl, now)
		}
	}
}
