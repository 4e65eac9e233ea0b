package models

import "time"

// Author identifies who produced a history entry.
type Author string

const (
	AuthorHuman Author = "human"
	AuthorAgent Author = "agent"
	AuthorTool  Author = "tool"
)

// ToolCall is a structured request from the model to run a named tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the output of one tool call, fed back into history.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// Message is one immutable entry in a conversation history.
type Message struct {
	ID         int64      `json:"id,omitempty"`
	SessionKey string     `json:"session_key"`
	Author     Author     `json:"author"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Pending reports whether the message is an agent message still waiting on tool results.
func (m *Message) Pending() bool {
	return m != nil && m.Author == AuthorAgent && len(m.ToolCalls) > 0
}

func HumanMessage(key, content string) *Message {
	return &Message{SessionKey: key, Author: AuthorHuman, Content: content, CreatedAt: time.Now().UTC()}
}

func AgentMessage(key, content string, calls []ToolCall) *Message {
	return &Message{SessionKey: key, Author: AuthorAgent, Content: content, ToolCalls: calls, CreatedAt: time.Now().UTC()}
}

func ToolMessage(key string, res ToolResult) *Message {
	return &Message{
		SessionKey: key,
		Author:     AuthorTool,
		Content:    res.Output,
		ToolCallID: res.CallID,
		ToolName:   res.Name,
		CreatedAt:  time.Now().UTC(),
	}
}
