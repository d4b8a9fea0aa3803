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
	"sync"
)

var _ Tool = (*MockTool)(nil)

// MockTool is a scriptable Tool for tests. Zero value is usable: it
// reports a generic name and succeeds with a canned result. Set
// MockExecute to script behavior; ExecuteCount and LastParams record
// interactions. Safe for concurrent use.
type MockTool struct {
	MockName        string
	MockDescription string
	MockSchema      *JSONSchema
	MockExecute     func(ctx context.Context, params map[string]interface{}) (*Result, error)

	mu           sync.Mutex
	ExecuteCount int
	LastParams   map[string]interface{}
}

func (m *MockTool) Name() string {
	if m.MockName != "" {
		return m.MockName
	}
	return "mock_tool"
}

func (m *MockTool) Description() string {
	if m.MockDescription != "" {
		return m.MockDescription
	}
	return "scriptable tool for tests"
}

func (m *MockTool) InputSchema() *JSONSchema {
	if m.MockSchema != nil {
		return m.MockSchema
	}
	return NewObjectSchema("mock parameters", map[string]*JSONSchema{
		"input": NewStringSchema("free-form test input"),
	}, []string{})
}

func (m *MockTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	m.mu.Lock()
	m.ExecuteCount++
	m.LastParams = params
	m.mu.Unlock()

	if m.MockExecute != nil {
		return m.MockExecute(ctx, params)
	}
	return &Result{
		Success: true,
		Data:    map[string]interface{}{"schools": []string{"PS 1"}, "count": 1},
		Context: &ResponseContext{SampleSize: 1},
	}, nil
}
