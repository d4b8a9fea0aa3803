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
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalklabs/abacus/pkg/admission"
	"github.com/chalklabs/abacus/pkg/agent"
	"github.com/chalklabs/abacus/pkg/stream"
	"github.com/chalklabs/abacus/pkg/tool"
	"github.com/chalklabs/abacus/pkg/types"
)

// cannedProvider answers every chat with a fixed text response.
type cannedProvider struct {
	content string
	usage   types.Usage
}

func (p *cannedProvider) Chat(ctx context.Context, messages []types.Message, tools []tool.Tool) (*types.LLMResponse, error) {
	return &types.LLMResponse{Content: p.content, StopReason: "end_turn", Usage: p.usage}, nil
}
func (p *cannedProvider) Name() string  { return "canned" }
func (p *cannedProvider) Model() string { return "canned-model" }

func newTestHTTPServer(t *testing.T, opts ...Option) *HTTPServer {
	t.Helper()
	registry, err := tool.NewRegistry(&tool.MockTool{MockName: "mock_tool"})
	require.NoError(t, err)
	provider := &cannedProvider{
		content: "The answer.",
		usage:   types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
	orch, err := agent.New(provider, registry, agent.Config{})
	require.NoError(t, err)
	return NewHTTPServer(orch, ":0", nil, opts...)
}

func postChat(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat:stream", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:41000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func sseEvents(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e stream.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	return events
}

func TestHealthz(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestChatStream_Success(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	rec := postChat(t, handler, `{"turns":[{"role":"user","text":"how many schools?"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := sseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, stream.EventText, events[0].Type)
	assert.Equal(t, "The answer.", events[0].Text)
	done := events[len(events)-1]
	assert.Equal(t, stream.EventDone, done.Type)
	require.NotNil(t, done.Done)
	assert.Equal(t, 15, done.Done.TotalTokens)
}

func TestChatStream_EmptyTurns(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	rec := postChat(t, handler, `{"turns":[]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_turns", body.Code)
}

func TestChatStream_NewestTurnNotUser(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	rec := postChat(t, handler, `{"turns":[{"role":"user","text":"hi"},{"role":"assistant","text":"hello"}]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStream_InvalidJSON(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	rec := postChat(t, handler, `{not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body.Code)
}

func TestChatStream_RateLimited(t *testing.T) {
	gate := admission.NewGate(admission.GateConfig{MaxRequests: 1, Window: time.Minute}, nil)
	handler := newTestHTTPServer(t, WithAdmissionGate(gate)).Handler()

	first := postChat(t, handler, `{"turns":[{"role":"user","text":"q"}]}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := postChat(t, handler, `{"turns":[{"role":"user","text":"q"}]}`)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	var body errorBody
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Code)
}

func TestChatStream_BudgetExhausted(t *testing.T) {
	budget := admission.NewBudgetGate(admission.BudgetConfig{DailyTokens: 1}, nil)
	require.NoError(t, budget.Reserve(1))

	handler := newTestHTTPServer(t, WithBudgetGate(budget)).Handler()
	rec := postChat(t, handler, `{"turns":[{"role":"user","text":"q"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "budget_exhausted", body.Code)
}

func TestChatStream_BudgetSettles(t *testing.T) {
	budget := admission.NewBudgetGate(admission.BudgetConfig{DailyTokens: 100_000}, nil)
	handler := newTestHTTPServer(t, WithBudgetGate(budget)).Handler()

	rec := postChat(t, handler, `{"turns":[{"role":"user","text":"q"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// after settlement only the actual usage stays charged
	assert.Equal(t, 15, budget.Spent())
}

func TestFeedback(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback",
		strings.NewReader(`{"session_id":"sess-1","feedback":"great answer"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"queued"}`, rec.Body.String())
}

func TestFeedback_MissingSessionID(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback",
		strings.NewReader(`{"feedback":"no session"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHTTPServer(t).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/v1/chat:stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := newTestHTTPServer(t, WithRPCHandler(panicky)).Handler()

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body.Code)
}
