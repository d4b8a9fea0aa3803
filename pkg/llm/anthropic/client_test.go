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
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chalklabs/abacus/pkg/tool"
	"github.com/chalklabs/abacus/pkg/types"
)

func TestNewClient(t *testing.T) {
	client := NewClient(Config{
		APIKey: "test-key",
	})

	if client == nil {
		t.Fatal("Expected non-nil client")
	}

	if client.Name() != "anthropic" {
		t.Errorf("Expected name 'anthropic', got %s", client.Name())
	}

	if client.Model() != DefaultModel {
		t.Errorf("Expected default model, got %s", client.Model())
	}
}

func TestClient_Chat_SimpleText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected API key 'test-key', got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("Expected anthropic-version header")
		}

		resp := MessagesResponse{
			ID:         "msg_123",
			Type:       "message",
			Role:       "assistant",
			Model:      DefaultModel,
			StopReason: "end_turn",
			Content: []ContentBlock{
				{Type: "text", Text: "Hello! How can I help you?"},
			},
			Usage: Usage{
				InputTokens:  10,
				OutputTokens: 20,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:   "test-key",
		Endpoint: server.URL,
	})

	messages := []types.Message{
		{Role: "user", Content: "Hello"},
	}

	resp, err := client.Chat(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if resp.Content != "Hello! How can I help you?" {
		t.Errorf("Expected response content, got %s", resp.Content)
	}
	if resp.Usage.InputTokens != 10 {
		t.Errorf("Expected 10 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("Expected 30 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestClient_Chat_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "mock_tool" {
			t.Errorf("Expected mock_tool in request, got %+v", req.Tools)
		}

		resp := MessagesResponse{
			ID:         "msg_456",
			StopReason: "tool_use",
			Content: []ContentBlock{
				{Type: "text", Text: "Let me check."},
				{
					Type:  "tool_use",
					ID:    "toolu_1",
					Name:  "mock_tool",
					Input: map[string]interface{}{"query": "growth"},
				},
			},
			Usage: Usage{InputTokens: 50, OutputTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	mockTool := &tool.MockTool{MockName: "mock_tool", MockDescription: "a test tool"}
	resp, err := client.Chat(context.Background(),
		[]types.Message{{Role: "user", Content: "check growth"}},
		[]tool.Tool{mockTool})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "mock_tool" || tc.ID != "toolu_1" {
		t.Errorf("Unexpected tool call: %+v", tc)
	}
	if tc.Input["query"] != "growth" {
		t.Errorf("Unexpected tool input: %+v", tc.Input)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("Expected stop_reason tool_use, got %s", resp.StopReason)
	}
}

func TestClient_Chat_SystemAndToolResult(t *testing.T) {
	var captured MessagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := MessagesResponse{
			StopReason: "end_turn",
			Content:    []ContentBlock{{Type: "text", Text: "done"}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	messages := []types.Message{
		{Role: "system", Content: "You are an analyst."},
		{Role: "user", Content: "how many schools?"},
		{Role: "assistant", ToolCalls: []types.ToolCall{
			{ID: "toolu_9", Name: "search_schools", Input: map[string]interface{}{}},
		}},
		{Role: "tool", ToolUseID: "toolu_9", ToolResult: &tool.Result{
			Success: true,
			Data:    map[string]interface{}{"count": 10},
		}},
	}

	if _, err := client.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if captured.System != "You are an analyst." {
		t.Errorf("System prompt not extracted: %q", captured.System)
	}
	// system message must not appear in the messages array
	if len(captured.Messages) != 3 {
		t.Fatalf("Expected 3 API messages, got %d", len(captured.Messages))
	}
	last := captured.Messages[2]
	if last.Role != "user" || last.Content[0].Type != "tool_result" {
		t.Errorf("Expected tool_result as user message, got %+v", last)
	}
	if last.Content[0].ToolUseID != "toolu_9" {
		t.Errorf("Tool result not linked to tool_use: %+v", last.Content[0])
	}
	if !strings.Contains(last.Content[0].Content, `"count":10`) {
		t.Errorf("Tool result payload missing: %q", last.Content[0].Content)
	}
}

func TestClient_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	_, err := client.Chat(context.Background(),
		[]types.Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Error should carry status code: %v", err)
	}
}

func TestClient_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"role":"assistant","content":[],"usage":{"input_tokens":25}}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	var tokens []string
	resp, err := client.ChatStream(context.Background(),
		[]types.Message{{Role: "user", Content: "hi"}}, nil,
		func(token string) { tokens = append(tokens, token) })
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got %q", resp.Content)
	}
	if len(tokens) != 2 {
		t.Errorf("Expected 2 token callbacks, got %d", len(tokens))
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("Expected end_turn, got %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 25 || resp.Usage.OutputTokens != 2 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
}

func TestClient_ChatStream_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"role":"assistant","content":[],"usage":{"input_tokens":40}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_7","name":"search_schools"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"borough\":"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Bronx\"}"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})

	resp, err := client.ChatStream(context.Background(),
		[]types.Message{{Role: "user", Content: "bronx schools"}}, nil, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_7" || tc.Name != "search_schools" {
		t.Errorf("Unexpected tool call: %+v", tc)
	}
	if tc.Input["borough"] != "Bronx" {
		t.Errorf("Streamed tool input not assembled: %+v", tc.Input)
	}
}

func TestSupportsStreaming(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key"})
	if !types.SupportsStreaming(client) {
		t.Error("Anthropic client should support streaming")
	}
}
