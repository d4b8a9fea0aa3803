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
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/admission"
	"github.com/chalklabs/abacus/pkg/agent"
	"github.com/chalklabs/abacus/pkg/compress"
	"github.com/chalklabs/abacus/pkg/stream"
	"github.com/chalklabs/abacus/pkg/types"
)

// perTurnOverhead pads the token estimate reserved against the daily
// budget before the actual usage is known.
const perTurnOverhead = 500

// ChatRequest is the streaming endpoint's request body.
type ChatRequest struct {
	Turns []types.Turn `json:"turns"`
}

// FeedbackRequest is the feedback endpoint's request body.
type FeedbackRequest struct {
	SessionID string `json:"session_id"`
	Feedback  string `json:"feedback"`
}

// errorBody is the flat error shape for non-stream failures.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

// handleChatStream runs one conversation and streams its events as SSE.
func (s *HTTPServer) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := agent.ValidateTurns(req.Turns); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_turns", err.Error())
		return
	}

	if s.gate != nil {
		if err := s.gate.Admit(callerAddress(r)); err != nil {
			var denied *admission.DeniedError
			if errors.As(err, &denied) {
				retry := admission.RetryAfterSeconds(denied.RetryAfter)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
				writeError(w, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("rate limit exceeded, retry in %ds", retry))
				return
			}
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}

	// Pre-charge the budget; the reservation settles against actual
	// usage after the run.
	estimate := estimateTurnTokens(req.Turns)
	if s.budget != nil {
		if err := s.budget.Reserve(estimate); err != nil {
			if errors.Is(err, admission.ErrBudgetExhausted) {
				writeError(w, http.StatusServiceUnavailable, "budget_exhausted",
					"daily usage budget exhausted, try again tomorrow")
				return
			}
			writeError(w, http.StatusServiceUnavailable, "budget_unavailable", err.Error())
			return
		}
	}

	writer, err := stream.NewSSEWriter(r.Context(), w, s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}

	events := make(chan stream.Event, stream.DefaultChannelBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writer.Drain(events)
	}()

	resp, runErr := s.orchestrator.Run(r.Context(), req.Turns, events)
	<-done

	actual := 0
	if resp != nil {
		actual = resp.Usage.TotalTokens
	}
	if s.budget != nil {
		s.budget.Settle(estimate, actual)
	}

	if runErr != nil {
		// The stream already carried the error event; nothing else can
		// be written on an SSE response.
		s.logger.Error("conversation run failed", zap.Error(runErr))
		return
	}

	s.logger.Info("conversation completed",
		zap.String("session_id", resp.SessionID),
		zap.Int("tool_rounds", resp.ToolRounds),
		zap.Bool("synthesized", resp.Synthesized),
		zap.Int("total_tokens", actual))
}

// handleFeedback accepts user feedback for a session. Writes are
// fire-and-forget: the caller always gets an acknowledgement once the
// request is decoded.
func (s *HTTPServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	if s.auditStore != nil {
		s.auditStore.AttachFeedback(r.Context(), req.SessionID, req.Feedback)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"queued"}`))
}

// estimateTurnTokens sizes a budget reservation from the request turns.
func estimateTurnTokens(turns []types.Turn) int {
	counter := compress.GetTokenCounter()
	total := perTurnOverhead
	for _, turn := range turns {
		total += counter.CountTokens(turn.Text)
	}
	return total
}

// callerAddress extracts the caller's host for admission scoping.
func callerAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
