// Package llm abstracts chat-completion backends behind a single gateway
// with automatic failover between a primary and a secondary provider.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUpstreamUnavailable indicates that every configured backend failed.
var ErrUpstreamUnavailable = errors.New("llm: all backends unavailable")

// ChatMessage is a provider-neutral chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a function the model may request a call to.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a structured function-call request returned by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ResponseFormat selects the desired response shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Request carries one chat-completion call.
type Request struct {
	Messages       []ChatMessage
	Tools          []Tool
	ResponseFormat ResponseFormat
	Temperature    float32
	MaxTokens      int
}

// Result is the provider-neutral completion outcome. Provider identifies
// which backend answered; callers that do not care never look at it.
type Result struct {
	Content   string
	ToolCalls []ToolCall
	Provider  string
	LatencyMs int64
}

// Client is a single chat-completion backend.
type Client interface {
	Provider() string
	Complete(ctx context.Context, req Request) (Result, error)
}
