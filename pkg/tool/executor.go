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
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a tool name has no registered handler.
var ErrNotFound = errors.New("tool not found")

// Executor routes invocations to registered tools with parameter
// validation, default application, and per-call error capture. Handler
// failures never propagate as Go errors: they are converted into
// error-flagged results so a single tool failure stays local to the call.
type Executor struct {
	registry *Registry
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute executes a tool by name with the given parameters.
// Returns ErrNotFound (wrapped) when the name is not registered; every
// other failure mode is reported inside the Result.
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (*Result, error) {
	t, ok := e.registry.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, toolName)
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	// Fill documented defaults for unset optional parameters before
	// validation so schemas with required-by-default semantics pass.
	applySchemaDefaults(t.InputSchema(), params)

	if err := ValidateParams(t.InputSchema(), params); err != nil {
		return &Result{
			Success: false,
			Error: &Error{
				Code:      "invalid_params",
				Message:   err.Error(),
				Retryable: false,
				Suggestion: "Check the tool's parameter schema and retry with corrected arguments",
			},
		}, nil
	}

	start := time.Now()
	result, err := t.Execute(ctx, params)
	duration := time.Since(start)

	if err != nil {
		return &Result{
			Success:         false,
			Error:           &Error{Code: "execution_failed", Message: err.Error(), Retryable: false},
			ExecutionTimeMs: duration.Milliseconds(),
		}, nil
	}

	if result == nil {
		// Tool returned nil result, create one
		result = &Result{Success: true}
	}

	// Executor timing is authoritative, even if the tool set it
	result.ExecutionTimeMs = duration.Milliseconds()

	return result, nil
}

// applySchemaDefaults writes schema-declared defaults into params for any
// optional property the caller left unset. Only top-level properties carry
// defaults in this tool set.
func applySchemaDefaults(schema *JSONSchema, params map[string]interface{}) {
	if schema == nil || schema.Properties == nil {
		return
	}
	for name, prop := range schema.Properties {
		if prop.Default == nil {
			continue
		}
		if _, set := params[name]; !set {
			params[name] = prop.Default
		}
	}
}
