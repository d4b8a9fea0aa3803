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
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64    { return &n }

func TestRequestID_MarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		id       *RequestID
		expected string
	}{
		{
			name:     "string ID",
			id:       NewStringRequestID("req-7"),
			expected: `"req-7"`,
		},
		{
			name:     "number ID",
			id:       NewNumericRequestID(42),
			expected: `42`,
		},
		{
			name:     "nil ID",
			id:       nil,
			expected: `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.id)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestRequestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantStr *string
		wantNum *int64
		wantErr bool
	}{
		{
			name:    "string ID",
			input:   `"req-7"`,
			wantStr: stringPtr("req-7"),
		},
		{
			name:    "number ID",
			input:   `42`,
			wantNum: int64Ptr(42),
		},
		{
			name:  "null ID",
			input: `null`,
			// JSON null unmarshals to the empty string branch
			wantStr: stringPtr(""),
		},
		{
			name:    "invalid type",
			input:   `true`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RequestID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			if tt.wantStr != nil {
				require.NotNil(t, id.Str)
				assert.Equal(t, *tt.wantStr, *id.Str)
			} else {
				assert.Nil(t, id.Str)
			}
			if tt.wantNum != nil {
				require.NotNil(t, id.Num)
				assert.Equal(t, *tt.wantNum, *id.Num)
			} else {
				assert.Nil(t, id.Num)
			}
		})
	}
}

func TestRequest_IsNotification(t *testing.T) {
	withID := &Request{JSONRPC: JSONRPCVersion, ID: NewNumericRequestID(1), Method: "ping"}
	assert.False(t, withID.IsNotification())

	notification := &Request{JSONRPC: JSONRPCVersion, Method: "notifications/initialized"}
	assert.True(t, notification.IsNotification())
}

func TestNewAdmissionError(t *testing.T) {
	e := NewAdmissionError(17)
	assert.Equal(t, AdmissionDenied, e.Code)
	assert.Equal(t, "rate limit exceeded", e.Message)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(e.Data, &data))
	assert.Equal(t, float64(17), data["retryAfter"])
}

func TestError_Error(t *testing.T) {
	e := NewError(MethodNotFound, "method not found", nil)
	assert.Contains(t, e.Error(), "-32601")
	assert.Contains(t, e.Error(), "method not found")

	withData := NewError(InvalidParams, "bad params", map[string]string{"field": "name"})
	assert.Contains(t, withData.Error(), "data:")
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
	}{
		{
			name: "valid request",
			req:  &Request{JSONRPC: "2.0", ID: NewNumericRequestID(1), Method: "tools/list"},
		},
		{
			name: "valid notification",
			req:  &Request{JSONRPC: "2.0", Method: "notifications/initialized"},
		},
		{
			name:    "wrong version",
			req:     &Request{JSONRPC: "1.0", Method: "ping"},
			wantErr: true,
		},
		{
			name:    "missing method",
			req:     &Request{JSONRPC: "2.0", ID: NewNumericRequestID(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResponse(t *testing.T) {
	id := NewNumericRequestID(1)

	valid := &Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`{}`)}
	assert.NoError(t, ValidateResponse(valid))

	withError := &Response{JSONRPC: "2.0", ID: id, Error: NewError(InternalError, "boom", nil)}
	assert.NoError(t, ValidateResponse(withError))

	both := &Response{JSONRPC: "2.0", ID: id,
		Result: json.RawMessage(`{}`), Error: NewError(InternalError, "boom", nil)}
	assert.Error(t, ValidateResponse(both))

	neither := &Response{JSONRPC: "2.0", ID: id}
	assert.Error(t, ValidateResponse(neither))

	noID := &Response{JSONRPC: "2.0", Result: json.RawMessage(`{}`)}
	assert.Error(t, ValidateResponse(noID))
}

func TestValidateToolArguments(t *testing.T) {
	tool := Tool{
		Name:        "search_schools",
		Description: "search the dataset",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"borough": map[string]interface{}{"type": "string"},
				"limit":   map[string]interface{}{"type": "integer"},
			},
			"required": []interface{}{"borough"},
		},
	}

	assert.NoError(t, ValidateToolArguments(tool, map[string]interface{}{
		"borough": "Brooklyn", "limit": 10,
	}))

	err := ValidateToolArguments(tool, map[string]interface{}{"limit": 10})
	assert.Error(t, err, "missing required field")

	err = ValidateToolArguments(tool, map[string]interface{}{
		"borough": "Brooklyn", "limit": "ten",
	})
	assert.Error(t, err, "wrong type")

	// no schema means no validation
	assert.NoError(t, ValidateToolArguments(Tool{Name: "anything"}, nil))
}
