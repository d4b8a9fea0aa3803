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

// Package protocol implements the JSON-RPC 2.0 layer of the agent
// tool endpoint.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only accepted version string.
const JSONRPCVersion = "2.0"

// Error codes. The -327xx codes come from the JSON-RPC 2.0 spec;
// AdmissionDenied is server-defined for rate-limited callers.
const (
	ParseError      = -32700
	InvalidRequest  = -32600
	MethodNotFound  = -32601
	InvalidParams   = -32602
	InternalError   = -32603
	AdmissionDenied = -32029
)

// Request is an incoming JSON-RPC 2.0 call. A nil ID marks a
// notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response body.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is an outgoing JSON-RPC 2.0 reply. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// RequestID holds a string or numeric request ID. Both fields nil
// means the ID was JSON null.
type RequestID struct {
	Str *string
	Num *int64
}

// NewStringRequestID builds a string-valued ID.
func NewStringRequestID(s string) *RequestID {
	return &RequestID{Str: &s}
}

// NewNumericRequestID builds a number-valued ID.
func NewNumericRequestID(n int64) *RequestID {
	return &RequestID{Num: &n}
}

func (r *RequestID) MarshalJSON() ([]byte, error) {
	switch {
	case r == nil:
		return []byte("null"), nil
	case r.Str != nil:
		return json.Marshal(r.Str)
	case r.Num != nil:
		return json.Marshal(r.Num)
	}
	return []byte("null"), nil
}

func (r *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Str = &s
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		r.Num = &n
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return fmt.Errorf("invalid request ID: %s", data)
}

func (r *RequestID) String() string {
	switch {
	case r == nil:
		return "null"
	case r.Str != nil:
		return *r.Str
	case r.Num != nil:
		return strconv.FormatInt(*r.Num, 10)
	}
	return "null"
}

// Error is a JSON-RPC 2.0 error object. It implements the error
// interface so handlers can return it directly.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewError builds an error object. A non-nil data value is marshaled
// into the Data field; marshal failures leave Data empty rather than
// failing the error path.
func NewError(code int, message string, data interface{}) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// NewAdmissionError builds the denial error; retryAfter is whole
// seconds until the caller's window resets.
func NewAdmissionError(retryAfter int) *Error {
	return NewError(AdmissionDenied, "rate limit exceeded",
		map[string]interface{}{"retryAfter": retryAfter})
}
