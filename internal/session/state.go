// Package session holds the per-session conversation state: the thread id
// used for persistence, the chosen profile and the running transcript.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"gamiai/internal/models"
)

var ErrNotFound = errors.New("session not found")

// Entry is one role-tagged transcript line.
type Entry struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// State belongs to exactly one session. ThreadID and Profile are fixed when
// the session starts; Transcript only grows.
type State struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Profile    string    `json:"profile"`
	Transcript []Entry   `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

// New starts a session under an already resolved profile name.
func New(profile string) *State {
	return &State{
		ID:         uuid.NewString(),
		ThreadID:   uuid.NewString(),
		Profile:    profile,
		Transcript: []Entry{},
		CreatedAt:  time.Now().UTC(),
	}
}

// AppendExchange records a user utterance followed by the assistant reply.
func (s *State) AppendExchange(userText, assistantText string) {
	s.Transcript = append(s.Transcript,
		Entry{Role: models.RoleUser, Content: userText},
		Entry{Role: models.RoleAssistant, Content: assistantText},
	)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Transcript = make([]Entry, len(s.Transcript))
	copy(cp.Transcript, s.Transcript)
	return &cp
}

// Store keeps session state between turns.
type Store interface {
	Save(ctx context.Context, state *State) error
	// Update overwrites an existing state and returns ErrNotFound once the
	// session has been deleted, so a turn finishing late cannot revive it.
	Update(ctx context.Context, state *State) error
	Load(ctx context.Context, id string) (*State, error)
	Delete(ctx context.Context, id string) error
}
