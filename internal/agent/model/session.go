package model

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Classification labels a user task for tool-set selection.
type Classification int

const (
	Unknown Classification = iota
	Numeric
	Semantic
	Hybrid
)

func (c Classification) String() string {
	switch c {
	case Numeric:
		return "Numeric"
	case Semantic:
		return "Semantic"
	case Hybrid:
		return "Hybrid"
	default:
		return "Unknown"
	}
}

// MarshalText keeps sessions readable when serialised.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Classification) UnmarshalText(b []byte) error {
	if parsed, ok := ParseClassification(string(b)); ok {
		*c = parsed
		return nil
	}
	*c = Unknown
	return nil
}

// ParseClassification accepts exactly one of the three dispatch labels,
// ignoring case, surrounding whitespace, quotes and trailing punctuation.
func ParseClassification(s string) (Classification, bool) {
	s = strings.Trim(strings.TrimSpace(s), "\"'`.!")
	switch strings.ToLower(s) {
	case "numeric":
		return Numeric, true
	case "semantic":
		return Semantic, true
	case "hybrid":
		return Hybrid, true
	default:
		return Unknown, false
	}
}

// Session is the per-conversation state. It grows across turns and is owned
// by a single in-flight request at a time.
type Session struct {
	ID                 string            `json:"id"`
	Messages           []*schema.Message `json:"messages"`
	CurrentTask        string            `json:"current_task"`
	TaskClassification Classification    `json:"task_classification"`
	ToolIntent         bool              `json:"tool_intent"`
	LastSQLResults     []string          `json:"last_sql_result"`
	LastVectorResults  []string          `json:"last_qdrant_result"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Messages:  []*schema.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the history.
func (s *Session) Append(msgs ...*schema.Message) {
	for _, m := range msgs {
		if m != nil {
			s.Messages = append(s.Messages, m)
		}
	}
}

// LatestSQLResult returns the newest SQL-sourced tool output.
func (s *Session) LatestSQLResult() (string, bool) {
	if len(s.LastSQLResults) == 0 {
		return "", false
	}
	return s.LastSQLResults[len(s.LastSQLResults)-1], true
}

// LatestVectorResult returns the newest vector-sourced tool output.
func (s *Session) LatestVectorResult() (string, bool) {
	if len(s.LastVectorResults) == 0 {
		return "", false
	}
	return s.LastVectorResults[len(s.LastVectorResults)-1], true
}

// LastAssistant returns the most recent assistant message, if any.
func (s *Session) LastAssistant() *schema.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m != nil && m.Role == schema.Assistant {
			return m
		}
	}
	return nil
}

// SessionRepository persists sessions between turns.
type SessionRepository interface {
	// Load returns errx.ErrSessionNotFound when the key is unknown.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Save replaces the stored session.
	Save(ctx context.Context, session *Session) error

	// Delete removes the session; deleting an unknown key is not an error.
	Delete(ctx context.Context, sessionID string) error
}
