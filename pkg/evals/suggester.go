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
package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/compress"
	"github.com/chalklabs/abacus/pkg/types"
)

const (
	// DefaultSuggesterTimeout bounds the suggestion model call.
	DefaultSuggesterTimeout = 5 * time.Second

	// maxSuggestions caps the follow-up list.
	maxSuggestions = 3
)

// heuristicSuggestions is the fallback used when the model call fails
// or times out: follow-ups derived from which tools ran and what the
// answer discussed, with no further model calls.
func heuristicSuggestions(trace []compress.RawEntry, response string) []string {
	invoked := make(map[string]bool, len(trace))
	for _, entry := range trace {
		invoked[entry.ToolName] = true
	}
	answer := strings.ToLower(response)

	var out []string
	if invoked["search_schools"] {
		out = append(out, "How do these schools compare across boroughs?")
	}
	if invoked["school_profile"] {
		out = append(out, "How does this school compare to its district average?")
	}
	if invoked["correlate_metrics"] || strings.Contains(answer, "correlation") {
		out = append(out, "Is the relationship consistent across boroughs?")
	}
	if invoked["district_summary"] {
		out = append(out, "Which schools drive this district's numbers?")
	}
	if !invoked["render_chart"] {
		out = append(out, "Show this as a chart.")
	}
	if len(out) == 0 {
		out = append(out, "Is there a correlation with per-pupil spending?")
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// Suggester proposes follow-up questions after an answer completes.
type Suggester struct {
	provider types.LLMProvider
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSuggester creates a suggester. A nil provider always yields the
// heuristic fallback.
func NewSuggester(provider types.LLMProvider, timeout time.Duration, logger *zap.Logger) *Suggester {
	if timeout <= 0 {
		timeout = DefaultSuggesterTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suggester{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

// Suggest returns up to three follow-up questions. Never returns an
// error: failures degrade to heuristics over the tool trace and answer
// text.
func (s *Suggester) Suggest(ctx context.Context, query, response string, trace []compress.RawEntry) []string {
	if s.provider == nil {
		return heuristicSuggestions(trace, response)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf(`A user asked an analytics assistant about school performance data.

Question: %s

Answer: %s

Propose up to 3 natural follow-up questions the user might ask next.
Return ONLY a JSON array of strings.`, query, response)

	resp, err := s.provider.Chat(ctx, []types.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		s.logger.Debug("suggester call failed, using heuristics", zap.Error(err))
		return heuristicSuggestions(trace, response)
	}

	suggestions, err := parseSuggestions(resp.Content)
	if err != nil || len(suggestions) == 0 {
		s.logger.Debug("suggester output unparseable, using heuristics", zap.Error(err))
		return heuristicSuggestions(trace, response)
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

func parseSuggestions(response string) ([]string, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var out []string
	if err := json.Unmarshal([]byte(response[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return out, nil
}
