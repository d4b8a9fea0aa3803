// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package types contains shared types used across the abacus service.
// This package breaks import cycles by providing common types that both
// pkg/agent and pkg/llm packages depend on.
package types

import (
	"context"
	"sync"
	"time"

	"github.com/chalklabs/abacus/pkg/tool"
)

// Turn is one caller-supplied conversation turn. Each request carries its
// full turn history; nothing persists across requests.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string

	// Name is the tool name
	Name string

	// Input contains the tool parameters
	Input map[string]interface{}
}

// Message represents a single message in the model-facing transcript.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string

	// Content is the message text
	Content string

	// ToolCalls contains tool invocations (if role is assistant)
	ToolCalls []ToolCall

	// ToolUseID is the ID of the tool_use block this result corresponds
	// to (if role is tool)
	ToolUseID string

	// ToolResult contains the compressed tool execution result fed back
	// to the model (if role is tool)
	ToolResult *tool.Result

	// Timestamp when the message was created
	Timestamp time.Time
}

// Usage tracks model token usage.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another usage block into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// LLMResponse represents a response from the model.
type LLMResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the model stopped
	StopReason string

	// Usage tracks token usage
	Usage Usage
}

// LLMProvider defines the interface for hosted model providers.
type LLMProvider interface {
	// Chat sends a conversation to the model and returns the response
	Chat(ctx context.Context, messages []Message, tools []tool.Tool) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}

// TokenCallback is called for each token/chunk during streaming.
// Implementations should be lightweight and non-blocking.
type TokenCallback func(token string)

// StreamingLLMProvider extends LLMProvider with token streaming support.
// Providers implement this interface if they support real-time token
// streaming. Use the SupportsStreaming helper to check.
type StreamingLLMProvider interface {
	LLMProvider

	// ChatStream streams tokens as they're generated from the model.
	// Returns the complete LLMResponse after the stream finishes.
	// The callback is called synchronously and should not block.
	ChatStream(ctx context.Context, messages []Message, tools []tool.Tool,
		tokenCallback TokenCallback) (*LLMResponse, error)
}

// SupportsStreaming checks if a provider supports token streaming.
func SupportsStreaming(provider LLMProvider) bool {
	_, ok := provider.(StreamingLLMProvider)
	return ok
}

// Session holds one request's transcript and accumulated usage.
// Thread-safe: all methods can be called concurrently.
type Session struct {
	mu sync.RWMutex

	// ID is the unique session identifier
	ID string

	// Messages is the transcript (original turns plus appended tool
	// round-trips), append-only
	Messages []Message

	// CreatedAt is when the session was created
	CreatedAt time.Time

	// UpdatedAt is when the session was last updated
	UpdatedAt time.Time

	// TotalUsage is the accumulated token usage
	TotalUsage Usage
}

// AddMessage appends a message to the transcript.
func (s *Session) AddMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// AddUsage accumulates a model exchange's usage onto the session.
func (s *Session) AddUsage(u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalUsage.Add(u)
	s.UpdatedAt = time.Now()
}

// GetMessages returns a copy of the transcript.
func (s *Session) GetMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]Message, len(s.Messages))
	copy(messages, s.Messages)
	return messages
}

// GetUsage returns the accumulated usage.
func (s *Session) GetUsage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TotalUsage
}

// MessageCount returns the number of transcript messages.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}
