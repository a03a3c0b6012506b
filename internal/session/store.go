// Package session defines the chat → wallet link store. Handlers take
// the Store interface; production wires the Postgres-backed repo and
// tests use the in-memory implementation.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/swapgram/backend/internal/models"
)

// ErrNotFound distinguishes "no wallet connected" from an empty wallet
// address. Callers must treat it as a user-facing condition, not a bug.
var ErrNotFound = errors.New("session: not found")

type Store interface {
	// Record overwrites any previous session for the chat.
	Record(ctx context.Context, s *models.ChatSession) error
	// Get returns ErrNotFound when the chat has never connected.
	Get(ctx context.Context, chatID string) (*models.ChatSession, error)
	// Touch updates last-activity; a missing session is a no-op.
	Touch(ctx context.Context, chatID string) error
	Delete(ctx context.Context, chatID string) error
}

// Memory is a mutex-guarded in-process Store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]models.ChatSession
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]models.ChatSession),
		now:      time.Now,
	}
}

func (m *Memory) Record(_ context.Context, s *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	if cp.ConnectedAt.IsZero() {
		cp.ConnectedAt = m.now()
	}
	cp.LastActivity = m.now()
	m.sessions[cp.ChatID] = cp
	return nil
}

func (m *Memory) Get(_ context.Context, chatID string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (m *Memory) Touch(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil
	}
	s.LastActivity = m.now()
	m.sessions[chatID] = s
	return nil
}

func (m *Memory) Delete(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}
