package session

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusGreetReady Status = "greet_ready"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
	StatusClosed     Status = "closed"
)

var ErrNotFound = errors.New("session not found")

// Session is the per-call record kept in a Redis hash.
type Session struct {
	ID          string                     `json:"session_id"`
	Status      Status                     `json:"status"`
	CreatedAt   time.Time                  `json:"created_at"`
	StartTime   float64                    `json:"start_time"`
	UserContact string                     `json:"user_contact"`
	UserID      int64                      `json:"user_id,omitempty"`
	UserName    string                     `json:"user_name,omitempty"`
	WSActive    bool                       `json:"ws_active"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRecord is an assistant-issued tool invocation as stored in history.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one conversation history entry.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}
