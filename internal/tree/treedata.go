package tree

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is one entry in a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnError records a failure that occurred during a turn without ending it.
type TurnError struct {
	Tool    string    `json:"tool,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// TreeData is the mutable per-conversation state: history, environment,
// completed-task log and error log. It is owned by whichever turn is
// currently processing the conversation; the session manager serializes
// access per (user, conversation) key.
type TreeData struct {
	UserID         string       `json:"user_id"`
	ConversationID string       `json:"conversation_id"`
	History        []Message    `json:"history"`
	Env            *Environment `json:"environment"`
	TasksCompleted []string     `json:"tasks_completed"`
	Errors         []TurnError  `json:"errors,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	// Collections the current turn may retrieve from. Set per turn by the
	// caller, not persisted.
	Collections []string `json:"-"`
}

// NewTreeData creates fresh conversation state.
func NewTreeData(userID, conversationID string) *TreeData {
	now := time.Now()
	return &TreeData{
		UserID:         userID,
		ConversationID: conversationID,
		Env:            NewEnvironment(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendMessage adds a history entry.
func (td *TreeData) AppendMessage(role, content string) {
	td.History = append(td.History, Message{Role: role, Content: content})
	td.UpdatedAt = time.Now()
}

// RecentHistory returns the last n messages.
func (td *TreeData) RecentHistory(n int) []Message {
	if n <= 0 || len(td.History) <= n {
		return td.History
	}
	return td.History[len(td.History)-n:]
}

// RecordTask logs a completed tool invocation.
func (td *TreeData) RecordTask(tool string) {
	td.TasksCompleted = append(td.TasksCompleted, tool)
	td.UpdatedAt = time.Now()
}

// RecordError logs a non-fatal turn failure.
func (td *TreeData) RecordError(tool, message string) {
	td.Errors = append(td.Errors, TurnError{Tool: tool, Message: message, At: time.Now()})
	td.UpdatedAt = time.Now()
}

// Marshal serializes the conversation state for durable storage.
func (td *TreeData) Marshal() ([]byte, error) {
	return json.Marshal(td)
}

// UnmarshalTreeData restores conversation state from durable storage.
func UnmarshalTreeData(data []byte) (*TreeData, error) {
	var td TreeData
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	if td.Env == nil {
		td.Env = NewEnvironment()
	}
	return &td, nil
}

// RenderHistory formats history for LLM context.
func RenderHistory(history []Message) string {
	if len(history) == 0 {
		return "(no prior messages)"
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
