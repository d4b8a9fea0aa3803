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

// Package stream carries orchestrator progress to the client over
// Server-Sent Events. The orchestrator publishes typed events onto a
// buffered channel; the SSE writer drains it onto the wire.
package stream

import (
	"github.com/chalklabs/abacus/pkg/tool"
)

// Event types emitted during a conversation.
const (
	EventText       = "text"        // incremental answer text
	EventToolStart  = "tool_start"  // a tool execution began
	EventToolEnd    = "tool_end"    // a tool execution finished
	EventChart      = "chart"       // a render payload for the client
	EventDone       = "done"        // terminal: the answer is complete
	EventSuggestion = "suggestions" // post-processing: follow-up questions
	EventEvaluation = "evaluation"  // post-processing: answer quality score
	EventError      = "error"       // terminal: the request failed
)

// Event is one unit of progress on the wire. Type discriminates which
// optional fields are set.
type Event struct {
	Type string `json:"type"`

	// Text carries the delta for text events and the message for error
	// events.
	Text string `json:"text,omitempty"`

	// Tool fields, set for tool_start and tool_end
	ToolName   string `json:"tool_name,omitempty"`
	ToolOK     *bool  `json:"tool_ok,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Chart carries the render payload for chart events
	Chart *tool.RenderPayload `json:"chart,omitempty"`

	// Suggestions carries follow-up questions
	Suggestions []string `json:"suggestions,omitempty"`

	// Evaluation carries the answer quality verdict
	Evaluation *Evaluation `json:"evaluation,omitempty"`

	// Done carries the terminal summary for done events
	Done *Done `json:"done,omitempty"`

	// Code is a machine-readable error code for error events
	Code string `json:"code,omitempty"`
}

// Done is the terminal summary: token usage for the run plus flags
// telling the client which post-processing events may still follow.
type Done struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	Suggestions bool `json:"suggestions"`
	Evaluation  bool `json:"evaluation"`
}

// Evaluation is the answer quality verdict attached to evaluation
// events.
type Evaluation struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning,omitempty"`
}

// TextEvent builds an incremental text delta event.
func TextEvent(delta string) Event {
	return Event{Type: EventText, Text: delta}
}

// ToolStartEvent signals that a tool execution began.
func ToolStartEvent(name string) Event {
	return Event{Type: EventToolStart, ToolName: name}
}

// ToolEndEvent signals that a tool execution finished.
func ToolEndEvent(name string, ok bool, durationMs int64) Event {
	return Event{Type: EventToolEnd, ToolName: name, ToolOK: &ok, DurationMs: durationMs}
}

// ChartEvent delivers a render payload to the client.
func ChartEvent(payload *tool.RenderPayload) Event {
	return Event{Type: EventChart, Chart: payload}
}

// DoneEvent signals the answer is complete and reports the terminal
// summary.
func DoneEvent(done *Done) Event {
	return Event{Type: EventDone, Done: done}
}

// SuggestionsEvent delivers follow-up questions.
func SuggestionsEvent(suggestions []string) Event {
	return Event{Type: EventSuggestion, Suggestions: suggestions}
}

// EvaluationEvent delivers the answer quality verdict.
func EvaluationEvent(eval *Evaluation) Event {
	return Event{Type: EventEvaluation, Evaluation: eval}
}

// ErrorEvent signals a failed request.
func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Code: code, Text: message}
}
