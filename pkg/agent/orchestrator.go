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

// Package agent runs the conversation loop: model calls, tool rounds,
// forced synthesis, and post-processing. One Orchestrator serves many
// concurrent requests; all per-request state lives in the Run call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/audit"
	"github.com/chalklabs/abacus/pkg/compress"
	"github.com/chalklabs/abacus/pkg/evals"
	"github.com/chalklabs/abacus/pkg/stream"
	"github.com/chalklabs/abacus/pkg/tool"
	"github.com/chalklabs/abacus/pkg/types"
)

const (
	// DefaultMaxToolRounds caps model/tool iterations before synthesis
	// is forced.
	DefaultMaxToolRounds = 5

	// synthesisPrompt is appended when the round ceiling is reached;
	// the final call carries no tools so the model must answer.
	synthesisPrompt = "Based on all the tool executions and data you've gathered above, provide your complete answer now."

	// refusalText is the canned reply for blocked queries.
	refusalText = "I can't help with requests for personally identifying information about students or staff. I can answer questions about school-level performance data."
)

// ErrEmptyConversation is returned when the request carries no turns.
var ErrEmptyConversation = errors.New("conversation has no turns")

// ErrLastTurnNotUser is returned when the newest turn is not from the
// user.
var ErrLastTurnNotUser = errors.New("newest turn must be from the user")

// defaultBlocklist trips the safety pre-filter. Matched case-insensitively
// against the newest user turn.
var defaultBlocklist = []string{
	"social security",
	"ssn",
	"home address",
	"phone number",
	"date of birth",
}

// Config controls orchestrator behavior.
type Config struct {
	// MaxToolRounds is the iteration ceiling per request
	MaxToolRounds int

	// SystemPrompt is prepended to every transcript
	SystemPrompt string

	// Blocklist overrides the default safety pre-filter terms
	Blocklist []string
}

// Response is the final outcome of one conversation run.
type Response struct {
	SessionID  string
	Content    string
	Usage      types.Usage
	ToolRounds int
	// Synthesized is true when the round ceiling forced the answer
	Synthesized bool
	// Blocked is true when the safety pre-filter answered without a
	// model call
	Blocked bool
}

// Orchestrator drives conversations. Safe for concurrent use.
type Orchestrator struct {
	provider   types.LLMProvider
	executor   *tool.Executor
	registry   *tool.Registry
	compressor *compress.Compressor
	evaluator  *evals.Evaluator
	suggester  *evals.Suggester
	auditStore *audit.Store
	logger     *zap.Logger
	config     Config
}

// New creates an orchestrator. Evaluator, suggester, and audit store
// may be nil; the corresponding post-processing steps degrade to
// fallbacks or no-ops.
func New(provider types.LLMProvider, registry *tool.Registry, config Config, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("LLM provider is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = DefaultMaxToolRounds
	}
	if len(config.Blocklist) == 0 {
		config.Blocklist = defaultBlocklist
	}

	o := &Orchestrator{
		provider:   provider,
		executor:   tool.NewExecutor(registry),
		registry:   registry,
		compressor: compress.NewCompressor(nil),
		logger:     zap.NewNop(),
		config:     config,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
			o.compressor = compress.NewCompressor(logger)
		}
	}
}

// WithEvaluator enables answer grading in post-processing.
func WithEvaluator(evaluator *evals.Evaluator) Option {
	return func(o *Orchestrator) { o.evaluator = evaluator }
}

// WithSuggester enables follow-up suggestions in post-processing.
func WithSuggester(suggester *evals.Suggester) Option {
	return func(o *Orchestrator) { o.suggester = suggester }
}

// WithAuditStore enables auditing of low-scoring exchanges.
func WithAuditStore(store *audit.Store) Option {
	return func(o *Orchestrator) { o.auditStore = store }
}

// ValidateTurns checks the incoming turn list: it must be non-empty and
// end with a user turn.
func ValidateTurns(turns []types.Turn) error {
	if len(turns) == 0 {
		return ErrEmptyConversation
	}
	if turns[len(turns)-1].Role != "user" {
		return ErrLastTurnNotUser
	}
	return nil
}

// Run executes one conversation. Events are published to the events
// channel throughout; the channel is closed only after post-processing
// has resolved. Run owns closing events.
func (o *Orchestrator) Run(ctx context.Context, turns []types.Turn, events chan<- stream.Event) (*Response, error) {
	defer func() {
		// events is closed in postProcess for successful runs; this
		// covers validation and model failures.
		if events != nil {
			close(events)
		}
	}()

	if err := ValidateTurns(turns); err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	query := turns[len(turns)-1].Text

	// Safety pre-filter: blocked queries get a canned reply, no model
	// call, no post-processing.
	if o.blocked(query) {
		o.logger.Info("query blocked by safety pre-filter",
			zap.String("session_id", session.ID))
		events <- stream.TextEvent(refusalText)
		// No post-processing follows a blocked reply.
		events <- stream.DoneEvent(&stream.Done{})
		return &Response{
			SessionID: session.ID,
			Content:   refusalText,
			Blocked:   true,
		}, nil
	}

	o.seedTranscript(session, turns)
	rawBuffer := compress.NewRawBuffer()
	start := time.Now()

	content, rounds, synthesized, err := o.conversationLoop(ctx, session, rawBuffer, events)
	if err != nil {
		events <- stream.ErrorEvent("model_failed", "the model could not be reached")
		return nil, err
	}

	events <- stream.DoneEvent(o.doneSummary(session.GetUsage()))

	// Hand the channel to post-processing; it closes events once both
	// the evaluator and the suggester have resolved.
	o.postProcess(session, query, content, rawBuffer, start, events)
	events = nil

	return &Response{
		SessionID:   session.ID,
		Content:     content,
		Usage:       session.GetUsage(),
		ToolRounds:  rounds,
		Synthesized: synthesized,
	}, nil
}

// doneSummary builds the terminal summary: token counters plus flags
// telling the client which post-processing events may still follow.
func (o *Orchestrator) doneSummary(usage types.Usage) *stream.Done {
	return &stream.Done{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		Suggestions:  o.suggester != nil,
		Evaluation:   o.evaluator != nil,
	}
}

func (o *Orchestrator) blocked(query string) bool {
	q := strings.ToLower(query)
	for _, term := range o.config.Blocklist {
		if strings.Contains(q, term) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) seedTranscript(session *types.Session, turns []types.Turn) {
	if o.config.SystemPrompt != "" {
		session.AddMessage(types.Message{
			Role:      "system",
			Content:   o.config.SystemPrompt,
			Timestamp: time.Now(),
		})
	}
	for _, turn := range turns {
		session.AddMessage(types.Message{
			Role:      turn.Role,
			Content:   turn.Text,
			Timestamp: time.Now(),
		})
	}
}

// conversationLoop runs model/tool rounds up to the ceiling, then forces
// a tool-less synthesis call.
func (o *Orchestrator) conversationLoop(ctx context.Context, session *types.Session,
	rawBuffer *compress.RawBuffer, events chan<- stream.Event) (string, int, bool, error) {

	tools := o.registry.ListTools()

	for round := 1; round <= o.config.MaxToolRounds; round++ {
		llmResp, err := o.chat(ctx, session.GetMessages(), tools, events)
		if err != nil {
			return "", round, false, fmt.Errorf("model call failed: %w", err)
		}
		session.AddUsage(llmResp.Usage)

		// Text-only response ends the loop.
		if len(llmResp.ToolCalls) == 0 {
			return llmResp.Content, round, false, nil
		}

		// The assistant message with tool calls must precede the tool
		// results in the transcript.
		session.AddMessage(types.Message{
			Role:      "assistant",
			Content:   llmResp.Content,
			ToolCalls: llmResp.ToolCalls,
			Timestamp: time.Now(),
		})

		// Every requested tool in the round executes, even after one
		// fails; the model sees each outcome.
		for _, toolCall := range llmResp.ToolCalls {
			o.executeToolCall(ctx, session, rawBuffer, toolCall, events)
		}
	}

	// Round ceiling reached: force a final answer with no tools.
	o.logger.Info("round ceiling reached, forcing synthesis",
		zap.String("session_id", session.ID),
		zap.Int("max_rounds", o.config.MaxToolRounds))
	session.AddMessage(types.Message{
		Role:      "user",
		Content:   synthesisPrompt,
		Timestamp: time.Now(),
	})

	finalResp, err := o.chat(ctx, session.GetMessages(), nil, events)
	if err != nil {
		return "", o.config.MaxToolRounds, true, fmt.Errorf("synthesis call failed: %w", err)
	}
	session.AddUsage(finalResp.Usage)
	return finalResp.Content, o.config.MaxToolRounds + 1, true, nil
}

// chat calls the provider, streaming text deltas onto the event channel
// when the provider supports it.
func (o *Orchestrator) chat(ctx context.Context, messages []types.Message,
	tools []tool.Tool, events chan<- stream.Event) (*types.LLMResponse, error) {

	if streamer, ok := o.provider.(types.StreamingLLMProvider); ok {
		return streamer.ChatStream(ctx, messages, tools, func(token string) {
			events <- stream.TextEvent(token)
		})
	}

	resp, err := o.provider.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		events <- stream.TextEvent(resp.Content)
	}
	return resp, nil
}

// executeToolCall runs one tool, captures failure as an error-flagged
// result, and appends the compressed outcome to the transcript. The raw
// result lands in the side buffer before compression.
func (o *Orchestrator) executeToolCall(ctx context.Context, session *types.Session,
	rawBuffer *compress.RawBuffer, toolCall types.ToolCall, events chan<- stream.Event) {

	events <- stream.ToolStartEvent(toolCall.Name)
	start := time.Now()

	result, err := o.executor.Execute(ctx, toolCall.Name, toolCall.Input)
	if err != nil {
		// Unknown tool or executor failure: the model gets an
		// error-flagged result and the conversation continues.
		result = &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:    "execution_failed",
				Message: err.Error(),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
		o.logger.Warn("tool execution failed",
			zap.String("session_id", session.ID),
			zap.String("tool", toolCall.Name),
			zap.Error(err))
	}

	rawBuffer.Append(toolCall.Name, toolCall.Input, result)

	compressed, render := o.compressor.Compress(toolCall.Name, result)
	if render != nil {
		events <- stream.ChartEvent(render)
	}
	events <- stream.ToolEndEvent(toolCall.Name, result.Success, result.ExecutionTimeMs)

	session.AddMessage(types.Message{
		Role:       "tool",
		Content:    compress.Summary(toolCall.Name, compressed),
		ToolUseID:  toolCall.ID,
		ToolResult: compressed,
		Timestamp:  time.Now(),
	})
}

// postProcess runs evaluation and suggestion concurrently, emits their
// events, audits low scores, and closes the event channel. Runs in the
// background; uses its own context so a finished request does not cancel
// it.
func (o *Orchestrator) postProcess(session *types.Session, query, content string,
	rawBuffer *compress.RawBuffer, start time.Time, events chan<- stream.Event) {

	go func() {
		defer close(events)
		ctx := context.Background()

		var wg sync.WaitGroup
		var verdict *evals.Verdict
		var suggestions []string

		wg.Add(2)
		go func() {
			defer wg.Done()
			if o.evaluator == nil {
				return
			}
			verdict = o.evaluator.Evaluate(ctx, &evals.Evidence{
				Query:      query,
				Response:   content,
				ToolTrace:  rawBuffer.Entries(),
				Usage:      session.GetUsage(),
				DurationMs: time.Since(start).Milliseconds(),
			})
		}()
		go func() {
			defer wg.Done()
			if o.suggester == nil {
				return
			}
			suggestions = o.suggester.Suggest(ctx, query, content, rawBuffer.Entries())
		}()
		wg.Wait()

		if len(suggestions) > 0 {
			events <- stream.SuggestionsEvent(suggestions)
		}
		if verdict != nil {
			// A fallback verdict (judge unavailable or timed out) is not
			// emitted; the client only sees real evaluations.
			if !verdict.Fallback {
				events <- stream.EvaluationEvent(&stream.Evaluation{
					Score:     verdict.Score,
					Reasoning: verdict.Reasoning,
				})
			}
			if verdict.NeedsAudit() && o.auditStore != nil {
				o.auditStore.Write(ctx, audit.Record{
					SessionID:  session.ID,
					Query:      query,
					Response:   content,
					// The final answer is not appended to the session, so
					// complete the transcript here.
					Transcript: append(transcriptEntries(session.GetMessages()),
						audit.TranscriptEntry{Role: "assistant", Content: content}),
					ToolCalls:  toolCallRecords(rawBuffer),
					Score:      verdict.Score,
					Reasoning:  verdict.Reasoning,
				})
			}
		}
	}()
}

// toolCallRecords snapshots the side buffer for the audit sink. The
// raw, pre-compression result data goes with each call so reviewers
// see more than the projected transcript.
func toolCallRecords(rawBuffer *compress.RawBuffer) []audit.ToolCallRecord {
	entries := rawBuffer.Entries()
	out := make([]audit.ToolCallRecord, 0, len(entries))
	for _, e := range entries {
		rec := audit.ToolCallRecord{Name: e.ToolName, Params: e.Params}
		if e.Result != nil {
			rec.Result = e.Result.Data
			rec.Success = e.Result.Success
			rec.DurationMs = e.Result.ExecutionTimeMs
		}
		out = append(out, rec)
	}
	return out
}

func transcriptEntries(messages []types.Message) []audit.TranscriptEntry {
	out := make([]audit.TranscriptEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, audit.TranscriptEntry{Role: m.Role, Content: m.Content})
	}
	return out
}
