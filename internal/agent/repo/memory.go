package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
)

// MemorySessionRepository keeps sessions for the lifetime of the process.
// Sessions are stored as JSON snapshots so callers never share pointers.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string][]byte)}
}

func (r *MemorySessionRepository) Load(_ context.Context, sessionID string) (*model.Session, error) {
	r.mu.RLock()
	raw, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, errx.ErrSessionNotFound
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *MemorySessionRepository) Save(_ context.Context, s *model.Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	s.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	r.mu.Lock()
	r.sessions[s.ID] = b
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
