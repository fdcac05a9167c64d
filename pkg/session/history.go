package session

import (
	"strings"
	"sync"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is an append-only conversation log shared by every connection
// that uses the same session id. Exchange holds it for a whole turn, so
// turns from a replacement connection or the chat endpoint wait for the
// one in flight.
type History struct {
	mu    sync.Mutex
	turns []Turn

	exchange sync.Mutex
}

// Append adds a turn.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	h.turns = append(h.turns, Turn{Role: role, Content: content})
	h.mu.Unlock()
}

// Serialize renders the history as "role: content" lines.
func (h *History) Serialize() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines := make([]string, len(h.turns))
	for i, t := range h.turns {
		lines[i] = t.Role + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}

// Turns returns a copy of the turns.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
