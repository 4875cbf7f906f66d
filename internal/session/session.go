// Package session keeps per-user chat history for the analyst.
package session

import (
	"context"
	"sync"
)

// DefaultCap is the number of turns retained per user.
const DefaultCap = 20

// Role of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Store holds bounded chat history keyed by user. Append keeps only the
// newest cap turns.
type Store interface {
	Append(ctx context.Context, user int64, turns ...Turn) error
	History(ctx context.Context, user int64) ([]Turn, error)
	Clear(ctx context.Context, user int64) error
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	cap   int
	turns map[int64][]Turn
}

// NewMemory returns a Memory store keeping up to limit turns per user.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Memory{cap: limit, turns: make(map[int64][]Turn)}
}

// Append adds turns and trims the oldest beyond the cap.
func (m *Memory) Append(_ context.Context, user int64, turns ...Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.turns[user], turns...)
	if len(h) > m.cap {
		h = append([]Turn(nil), h[len(h)-m.cap:]...)
	}
	m.turns[user] = h
	return nil
}

// History returns a copy of the user's turns, oldest first.
func (m *Memory) History(_ context.Context, user int64) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns[user]...), nil
}

// Clear drops the user's history.
func (m *Memory) Clear(_ context.Context, user int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, user)
	return nil
}
