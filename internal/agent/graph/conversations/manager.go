package conversations

import (
	"context"
	"errors"
	"sync"

	"github.com/cinephile-gpt/server/internal/agent/model"
	errx "github.com/cinephile-gpt/server/internal/core/error"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

// SessionManager loads and saves sessions and serialises turns per session key.
type SessionManager struct {
	repo model.SessionRepository

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewSessionManager(repo model.SessionRepository) *SessionManager {
	return &SessionManager{
		repo:  repo,
		locks: make(map[string]*sessionLock),
	}
}

// Lock blocks until no other turn holds sessionID and returns the release func.
func (m *SessionManager) Lock(sessionID string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

// LoadOrCreate returns the stored session, or a fresh one with created=true.
func (m *SessionManager) LoadOrCreate(ctx context.Context, sessionID string) (s *model.Session, created bool, err error) {
	s, err = m.repo.Load(ctx, sessionID)
	if err == nil {
		return s, false, nil
	}
	if errors.Is(err, errx.ErrSessionNotFound) {
		logx.Debug().Str("session_id", sessionID).Msg("Creating new session")
		return model.NewSession(sessionID), true, nil
	}
	return nil, false, err
}

func (m *SessionManager) Save(ctx context.Context, s *model.Session) error {
	return m.repo.Save(ctx, s)
}

// Reset discards the session so the next turn starts fresh.
func (m *SessionManager) Reset(ctx context.Context, sessionID string) error {
	unlock := m.Lock(sessionID)
	defer unlock()
	return m.repo.Delete(ctx, sessionID)
}

type sessionCtxKey struct{}

// WithSession attaches the session a graph run operates on.
func WithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext returns the session attached by WithSession, or nil.
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*model.Session)
	return s
}
