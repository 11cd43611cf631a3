package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actor identifies the originator of a dialogue element.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
	ActorSystem    Actor = "system"
)

// DialogueElement is a single utterance in a session's dialogue log.
// Elements are append-only: once committed they are never edited or removed,
// and their order is significant for chat-history reconstruction.
type DialogueElement struct {
	ID        string    `json:"id"`
	Actor     Actor     `json:"actor"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a single stateful dialogue instance. It is owned exclusively by
// the transition engine and must only be mutated while the session's lock is
// held.
type Session struct {
	ID           string            `json:"id"`
	Machine      string            `json:"machine"`
	CurrentState string            `json:"current_state"`
	Actor        Actor             `json:"actor"`
	ActorInput   string            `json:"actor_input"`
	Dialogue     []DialogueElement `json:"dialogue"`

	// RunningTask holds the id of the invocation graph currently executing
	// for this session, or "" when the session is idle.
	RunningTask string `json:"running_task,omitempty"`

	// TaskError records the failure of the most recent invocation graph.
	// It is surfaced to the caller on the next poll.
	TaskError string `json:"task_error,omitempty"`

	// Attrs is a free-form attribute bag made available to templates.
	Attrs map[string]any `json:"attrs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session positioned at the machine's initial state.
func NewSession(id, machineKey, initialState string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Machine:      machineKey,
		CurrentState: initialState,
		Actor:        ActorUser,
		Attrs:        make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Append adds an element to the dialogue and returns it.
func (s *Session) Append(actor Actor, content string) DialogueElement {
	el := DialogueElement{
		ID:        uuid.NewString(),
		Actor:     actor,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.Dialogue = append(s.Dialogue, el)
	return el
}

// LastElement returns the most recent dialogue element, or nil when the
// dialogue is empty.
func (s *Session) LastElement() *DialogueElement {
	if len(s.Dialogue) == 0 {
		return nil
	}
	return &s.Dialogue[len(s.Dialogue)-1]
}

// ChatHistory serializes the dialogue for template consumption. Each element
// is rendered as "[ACTOR]: content", separated by blank lines.
func (s *Session) ChatHistory() string {
	if len(s.Dialogue) == 0 {
		return ""
	}
	parts := make([]string, len(s.Dialogue))
	for i, el := range s.Dialogue {
		parts[i] = fmt.Sprintf("[%s]: %s", strings.ToUpper(string(el.Actor)), el.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Clone returns a deep copy safe for mutation while the original remains
// visible to concurrent readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	next := *s
	next.Dialogue = make([]DialogueElement, len(s.Dialogue))
	copy(next.Dialogue, s.Dialogue)
	next.Attrs = make(map[string]any, len(s.Attrs))
	for k, v := range s.Attrs {
		next.Attrs[k] = v
	}
	return &next
}
