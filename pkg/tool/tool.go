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
package tool

import (
	"context"
	"encoding/json"
)

// Tool defines the interface for the data-retrieval and visualization
// capabilities the model may invoke. Each tool encapsulates a single
// capability described by a name, a description shown to the model, and a
// JSON Schema for its parameters. Handlers must be side-effect-free toward
// conversation state: they may read the data layer but never mutate the
// transcript or session.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for model context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() *JSONSchema

	// Execute runs the tool with given parameters
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// Result represents the outcome of tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success"`

	// Data contains the result data (format varies by tool).
	// This is what compression operates on before the result re-enters
	// the model-facing transcript.
	Data interface{} `json:"data,omitempty"`

	// Error contains error information if execution failed
	Error *Error `json:"error,omitempty"`

	// Context carries the response-context the tool attaches to its data:
	// sample size, caveats, comparison baselines. Compression must
	// preserve it verbatim when summarizing.
	Context *ResponseContext `json:"context,omitempty"`

	// Render carries client-rendering payloads (full chart series) that
	// go straight to the event stream and never enter the model-facing
	// transcript.
	Render *RenderPayload `json:"render,omitempty"`

	// Metadata contains tool-specific metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ExecutionTime in milliseconds
	ExecutionTimeMs int64 `json:"execution_time_ms,omitempty"`
}

// ResponseContext qualifies a result for the model and downstream
// evaluators.
type ResponseContext struct {
	SampleSize int                `json:"sample_size"`
	Caveats    []string           `json:"caveats,omitempty"`
	Baselines  map[string]float64 `json:"baselines,omitempty"`
}

// RenderPayload is a chart or table intended purely for client rendering.
// The model only ever sees the compact summary produced by the compressor.
type RenderPayload struct {
	// Kind is the chart type ("bar", "line", "scatter", ...)
	Kind string `json:"kind"`

	// Title is the chart title
	Title string `json:"title"`

	// Labels are the series labels
	Labels []string `json:"labels,omitempty"`

	// Series holds the full data series
	Series []Series `json:"series"`
}

// Series is one named sequence of points in a render payload.
type Series struct {
	Name   string    `json:"name"`
	Points []float64 `json:"points"`
}

// PointCount returns the total number of points across all series.
func (p *RenderPayload) PointCount() int {
	n := 0
	for _, s := range p.Series {
		n += len(s.Points)
	}
	return n
}

// Error represents a tool execution error with structured information.
type Error struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details provides additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// Retryable indicates if the operation can be retried
	Retryable bool `json:"retryable,omitempty"`

	// Suggestion provides a suggestion for fixing the error
	Suggestion string `json:"suggestion,omitempty"`
}

// JSONSchema represents a JSON Schema for tool parameters.
// This follows the JSON Schema spec for type definitions.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToMap converts the schema to a generic map, the shape wire protocols
// expect for tool enumeration.
func (s *JSONSchema) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewObjectSchema creates a new object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "string",
		Description: description,
	}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "number",
		Description: description,
	}
}

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "integer",
		Description: description,
	}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{
		Type:        "boolean",
		Description: description,
	}
}

// NewArraySchema creates a new array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{
		Type:        "array",
		Description: description,
		Items:       items,
	}
}

// WithEnum adds enum values to the schema.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithRange adds min/max constraints to the schema.
func (s *JSONSchema) WithRange(min, max *float64) *JSONSchema {
	s.Minimum = min
	s.Maximum = max
	return s
}
