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

// Package evals grades finished answers and proposes follow-up
// questions. Both run as post-processing against the raw tool results,
// never on the request path: a slow or failing model call degrades to a
// fallback verdict instead of delaying the answer.
package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/compress"
	"github.com/chalklabs/abacus/pkg/types"
)

const (
	// DefaultEvaluatorTimeout bounds the judge model call.
	DefaultEvaluatorTimeout = 8 * time.Second

	// AuditThreshold is the score below which an exchange is flagged
	// for audit.
	AuditThreshold = 60

	// fallbackScore is the neutral verdict used when the judge cannot
	// be reached. Sits above the audit threshold so infrastructure
	// failures do not flood the audit log.
	fallbackScore = 70
)

// Verdict is the judge's assessment of one answer.
type Verdict struct {
	ID        string
	Score     int // 0-100
	Reasoning string
	Issues    []string
	// Fallback is true when the judge could not run and a neutral
	// verdict was substituted.
	Fallback bool
	JudgeModel string
	CreatedAt  time.Time
}

// NeedsAudit reports whether the exchange should be written to the
// audit log.
func (v *Verdict) NeedsAudit() bool {
	return !v.Fallback && v.Score < AuditThreshold
}

// Evidence is everything the judge sees about one exchange.
type Evidence struct {
	Query      string
	Response   string
	ToolTrace  []compress.RawEntry
	Usage      types.Usage
	DurationMs int64
}

// Evaluator grades answers with an LLM judge.
type Evaluator struct {
	provider types.LLMProvider
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator. A nil provider yields an evaluator
// that always returns fallback verdicts, which keeps post-processing
// uniform when judging is disabled.
func NewEvaluator(provider types.LLMProvider, timeout time.Duration, logger *zap.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultEvaluatorTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

// Evaluate grades one exchange. Never returns an error: judge failures
// and timeouts produce a fallback verdict.
func (e *Evaluator) Evaluate(ctx context.Context, evidence *Evidence) *Verdict {
	if e.provider == nil {
		return e.fallback("evaluation disabled")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := []types.Message{
		{Role: "user", Content: buildJudgePrompt(evidence)},
	}
	response, err := e.provider.Chat(ctx, messages, nil)
	if err != nil {
		e.logger.Warn("judge call failed, using fallback verdict", zap.Error(err))
		return e.fallback(fmt.Sprintf("judge unavailable: %v", err))
	}

	verdict, err := parseVerdict(response.Content)
	if err != nil {
		e.logger.Warn("judge verdict unparseable, using fallback", zap.Error(err))
		return e.fallback(fmt.Sprintf("unparseable verdict: %v", err))
	}

	verdict.ID = uuid.New().String()
	verdict.JudgeModel = e.provider.Model()
	verdict.CreatedAt = time.Now()
	return verdict
}

func (e *Evaluator) fallback(reason string) *Verdict {
	return &Verdict{
		ID:        uuid.New().String(),
		Score:     fallbackScore,
		Reasoning: reason,
		Fallback:  true,
		CreatedAt: time.Now(),
	}
}

// buildJudgePrompt constructs the grading prompt from the exchange and
// the raw (uncompressed) tool trace.
func buildJudgePrompt(evidence *Evidence) string {
	var sb strings.Builder

	sb.WriteString("Evaluate this analytics assistant's answer for accuracy and grounding.\n\n")

	sb.WriteString("## USER QUESTION\n")
	sb.WriteString(evidence.Query)
	sb.WriteString("\n\n")

	sb.WriteString("## TOOL TRACE\n")
	if len(evidence.ToolTrace) == 0 {
		sb.WriteString("(no tools executed)\n")
	}
	for i, entry := range evidence.ToolTrace {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, entry.ToolName))
		if entry.Result != nil && !entry.Result.Success {
			sb.WriteString(" (failed)")
		}
		sb.WriteString("\n")
		if entry.Result != nil && entry.Result.Data != nil {
			if data, err := json.Marshal(entry.Result.Data); err == nil {
				sb.Write(data)
				sb.WriteString("\n")
			}
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## ASSISTANT'S ANSWER\n")
	if evidence.Response != "" {
		sb.WriteString(evidence.Response)
	} else {
		sb.WriteString("(no answer produced)")
	}
	sb.WriteString("\n\n")

	sb.WriteString(`## EVALUATION TASK

Score the answer 0-100:
- 100 = every claim is grounded in the tool trace and the question is fully answered
- 60 = mostly grounded but incomplete or imprecise
- 0 = claims contradict or invent data not present in the trace

Return ONLY a JSON object with this structure:
{
  "score": <0-100>,
  "reasoning": "<2-3 sentence explanation>",
  "issues": ["<specific problem 1>", "<specific problem 2>"]
}`)

	return sb.String()
}

// parseVerdict extracts the JSON verdict from the judge response.
func parseVerdict(response string) (*Verdict, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var raw struct {
		Score     int      `json:"score"`
		Reasoning string   `json:"reasoning"`
		Issues    []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if raw.Score < 0 || raw.Score > 100 {
		return nil, fmt.Errorf("score out of range: %d", raw.Score)
	}

	verdict := &Verdict{
		Score:     raw.Score,
		Reasoning: raw.Reasoning,
		Issues:    raw.Issues,
	}
	if verdict.Issues == nil {
		verdict.Issues = []string{}
	}
	return verdict, nil
}
