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
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chalklabs/abacus/pkg/evals"
	"github.com/chalklabs/abacus/pkg/stream"
	"github.com/chalklabs/abacus/pkg/tool"
	"github.com/chalklabs/abacus/pkg/types"
)

// scriptedProvider returns queued responses in order and records the
// tool list passed on each call.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*types.LLMResponse
	calls     int
	toolsSeen [][]tool.Tool
	err       error
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []types.Message, tools []tool.Tool) (*types.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.toolsSeen = append(p.toolsSeen, tools)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &types.LLMResponse{Content: "default answer", StopReason: "end_turn"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-model" }

func toolCallResponse(n int) *types.LLMResponse {
	return &types.LLMResponse{
		StopReason: "tool_use",
		ToolCalls: []types.ToolCall{
			{ID: fmt.Sprintf("toolu_%d", n), Name: "mock_tool", Input: map[string]interface{}{}},
		},
		Usage: types.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func newTestOrchestrator(t *testing.T, provider types.LLMProvider, mock *tool.MockTool, opts ...Option) *Orchestrator {
	t.Helper()
	if mock == nil {
		mock = &tool.MockTool{MockName: "mock_tool"}
	}
	registry, err := tool.NewRegistry(mock)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	o, err := New(provider, registry, Config{}, opts...)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return o
}

func collect(events chan stream.Event) func() []stream.Event {
	var out []stream.Event
	done := make(chan struct{})
	go func() {
		for e := range events {
			out = append(out, e)
		}
		close(done)
	}()
	return func() []stream.Event {
		<-done
		return out
	}
}

func userTurns(text string) []types.Turn {
	return []types.Turn{{Role: "user", Text: text}}
}

func TestRun_DirectAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: "There are 10 schools.", StopReason: "end_turn",
			Usage: types.Usage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28}},
	}}
	o := newTestOrchestrator(t, provider, nil)

	events := make(chan stream.Event, 64)
	wait := collect(events)

	resp, err := o.Run(context.Background(), userTurns("how many schools?"), events)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Content != "There are 10 schools." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ToolRounds != 1 || resp.Synthesized {
		t.Errorf("unexpected rounds: %+v", resp)
	}
	if resp.Usage.TotalTokens != 28 {
		t.Errorf("usage not accumulated: %+v", resp.Usage)
	}

	got := wait()
	last := got[len(got)-1]
	if last.Type != stream.EventDone {
		t.Errorf("last event should be done, got %+v", last)
	}
	if last.Done == nil || last.Done.TotalTokens != 28 {
		t.Errorf("done should carry session usage: %+v", last.Done)
	}
	if last.Done != nil && (last.Done.Suggestions || last.Done.Evaluation) {
		t.Errorf("post-processing flags should be off: %+v", last.Done)
	}
}

func TestRun_ToolRoundThenAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		toolCallResponse(1),
		{Content: "Found 2 schools.", StopReason: "end_turn"},
	}}
	mock := &tool.MockTool{MockName: "mock_tool"}
	o := newTestOrchestrator(t, provider, mock)

	events := make(chan stream.Event, 64)
	wait := collect(events)

	resp, err := o.Run(context.Background(), userTurns("find schools"), events)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Content != "Found 2 schools." {
		t.Errorf("content = %q", resp.Content)
	}
	if mock.ExecuteCount != 1 {
		t.Errorf("tool executed %d times, want 1", mock.ExecuteCount)
	}

	got := wait()
	var sawStart, sawEnd bool
	for _, e := range got {
		if e.Type == stream.EventToolStart && e.ToolName == "mock_tool" {
			sawStart = true
		}
		if e.Type == stream.EventToolEnd && e.ToolName == "mock_tool" {
			sawEnd = true
			if e.ToolOK == nil || !*e.ToolOK {
				t.Error("tool_end should report success")
			}
		}
	}
	if !sawStart || !sawEnd {
		t.Errorf("missing tool events: start=%v end=%v", sawStart, sawEnd)
	}
}

func TestRun_ForcedSynthesisAtCeiling(t *testing.T) {
	// The model asks for a tool on every round. After the ceiling the
	// orchestrator must force a final tool-less call.
	var responses []*types.LLMResponse
	for i := 0; i < DefaultMaxToolRounds; i++ {
		responses = append(responses, toolCallResponse(i))
	}
	responses = append(responses, &types.LLMResponse{
		Content: "Synthesized summary.", StopReason: "end_turn"})
	provider := &scriptedProvider{responses: responses}
	mock := &tool.MockTool{MockName: "mock_tool"}
	o := newTestOrchestrator(t, provider, mock)

	events := make(chan stream.Event, 256)
	wait := collect(events)

	resp, err := o.Run(context.Background(), userTurns("keep digging"), events)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wait()

	if !resp.Synthesized {
		t.Error("expected forced synthesis")
	}
	if resp.Content != "Synthesized summary." {
		t.Errorf("content = %q", resp.Content)
	}
	if provider.calls != DefaultMaxToolRounds+1 {
		t.Errorf("model calls = %d, want %d", provider.calls, DefaultMaxToolRounds+1)
	}
	// the synthesis call must carry no tools
	lastTools := provider.toolsSeen[len(provider.toolsSeen)-1]
	if len(lastTools) != 0 {
		t.Errorf("synthesis call carried %d tools", len(lastTools))
	}
	for i := 0; i < DefaultMaxToolRounds; i++ {
		if len(provider.toolsSeen[i]) == 0 {
			t.Errorf("round %d should carry tools", i+1)
		}
	}
}

func TestRun_ToolFailureContinues(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		toolCallResponse(1),
		{Content: "Could not retrieve the data.", StopReason: "end_turn"},
	}}
	mock := &tool.MockTool{
		MockName: "mock_tool",
		MockExecute: func(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
			return nil, errors.New("backend down")
		},
	}
	o := newTestOrchestrator(t, provider, mock)

	events := make(chan stream.Event, 64)
	wait := collect(events)

	resp, err := o.Run(context.Background(), userTurns("find schools"), events)
	if err != nil {
		t.Fatalf("tool failure must not fail the run: %v", err)
	}
	if resp.Content != "Could not retrieve the data." {
		t.Errorf("content = %q", resp.Content)
	}

	got := wait()
	for _, e := range got {
		if e.Type == stream.EventToolEnd {
			if e.ToolOK == nil || *e.ToolOK {
				t.Error("tool_end should report failure")
			}
		}
		if e.Type == stream.EventError {
			t.Error("tool failure must not emit a stream error")
		}
	}
}

func TestRun_UnknownToolContinues(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{StopReason: "tool_use", ToolCalls: []types.ToolCall{
			{ID: "toolu_x", Name: "no_such_tool", Input: map[string]interface{}{}},
		}},
		{Content: "That tool does not exist.", StopReason: "end_turn"},
	}}
	o := newTestOrchestrator(t, provider, nil)

	events := make(chan stream.Event, 64)
	wait := collect(events)

	resp, err := o.Run(context.Background(), userTurns("use a fake tool"), events)
	if err != nil {
		t.Fatalf("unknown tool must not fail the run: %v", err)
	}
	wait()
	if resp.Content == "" {
		t.Error("expected an answer after unknown tool")
	}
	if provider.calls != 2 {
		t.Errorf("model calls = %d, want 2", provider.calls)
	}
}

func TestRun_BlockedQuery(t *testing.T) {
	provider := &scriptedProvider{}
	o := newTestOrchestrator(t, provider, nil)

	events := make(chan stream.Event, 64)
	wait := collect(events)

	resp, err := o.Run(context.Background(),
		userTurns("what is the principal's home address?"), events)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !resp.Blocked {
		t.Error("expected blocked response")
	}
	if provider.calls != 0 {
		t.Errorf("blocked query must not reach the model, got %d calls", provider.calls)
	}

	got := wait()
	if len(got) != 2 || got[0].Type != stream.EventText || got[1].Type != stream.EventDone {
		t.Errorf("expected canned text then done, got %+v", got)
	}
}

func TestRun_ValidatesTurns(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{}, nil)

	events := make(chan stream.Event, 8)
	wait := collect(events)
	_, err := o.Run(context.Background(), nil, events)
	wait()
	if !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("expected ErrEmptyConversation, got %v", err)
	}

	events = make(chan stream.Event, 8)
	wait = collect(events)
	_, err = o.Run(context.Background(),
		[]types.Turn{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hello"}}, events)
	wait()
	if !errors.Is(err, ErrLastTurnNotUser) {
		t.Errorf("expected ErrLastTurnNotUser, got %v", err)
	}
}

func TestRun_ModelFailureEmitsError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	o := newTestOrchestrator(t, provider, nil)

	events := make(chan stream.Event, 64)
	wait := collect(events)

	_, err := o.Run(context.Background(), userTurns("hello"), events)
	if err == nil {
		t.Fatal("expected error when model is unreachable")
	}

	got := wait()
	if len(got) == 0 || got[len(got)-1].Type != stream.EventError {
		t.Errorf("expected terminal error event, got %+v", got)
	}
}

func TestRun_PostProcessingEvents(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: "answer", StopReason: "end_turn"},
	}}
	judge := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `{"score": 85, "reasoning": "grounded"}`},
	}}
	suggest := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `["follow up?"]`},
	}}

	o := newTestOrchestrator(t, provider, nil,
		WithEvaluator(evals.NewEvaluator(judge, 0, nil)),
		WithSuggester(evals.NewSuggester(suggest, 0, nil)))

	events := make(chan stream.Event, 64)
	wait := collect(events)

	if _, err := o.Run(context.Background(), userTurns("q"), events); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := wait()
	var sawDone, sawEval, sawSuggestions bool
	doneIdx, evalIdx := -1, -1
	for i, e := range got {
		switch e.Type {
		case stream.EventDone:
			sawDone = true
			doneIdx = i
			if e.Done == nil || !e.Done.Suggestions || !e.Done.Evaluation {
				t.Errorf("done should flag enabled post-processing: %+v", e.Done)
			}
		case stream.EventEvaluation:
			sawEval = true
			evalIdx = i
			if e.Evaluation == nil || e.Evaluation.Score != 85 {
				t.Errorf("unexpected evaluation: %+v", e.Evaluation)
			}
		case stream.EventSuggestion:
			sawSuggestions = true
		}
	}
	if !sawDone || !sawEval || !sawSuggestions {
		t.Fatalf("missing events: done=%v eval=%v suggestions=%v", sawDone, sawEval, sawSuggestions)
	}
	// post-processing events arrive after done
	if evalIdx < doneIdx {
		t.Error("evaluation arrived before done")
	}
}

// stalledProvider blocks every call until its context is canceled.
type stalledProvider struct{}

func (p *stalledProvider) Chat(ctx context.Context, messages []types.Message, tools []tool.Tool) (*types.LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (p *stalledProvider) Name() string  { return "stalled" }
func (p *stalledProvider) Model() string { return "stalled-model" }

func TestRun_EvaluatorTimeoutOmitsEvaluation(t *testing.T) {
	provider := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: "answer", StopReason: "end_turn"},
	}}
	suggest := &scriptedProvider{responses: []*types.LLMResponse{
		{Content: `["follow up?"]`},
	}}

	o := newTestOrchestrator(t, provider, nil,
		WithEvaluator(evals.NewEvaluator(&stalledProvider{}, 100*time.Millisecond, nil)),
		WithSuggester(evals.NewSuggester(suggest, 0, nil)))

	events := make(chan stream.Event, 64)
	wait := collect(events)

	start := time.Now()
	if _, err := o.Run(context.Background(), userTurns("q"), events); err != nil {
		t.Fatalf("run: %v", err)
	}

	// wait returns only once the channel closes; a hanging judge must
	// not hold it open past its timeout.
	got := wait()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stream took %v to close with a 100ms judge timeout", elapsed)
	}

	var sawSuggestions bool
	for _, e := range got {
		if e.Type == stream.EventEvaluation {
			t.Errorf("evaluation emitted despite judge timeout: %+v", e)
		}
		if e.Type == stream.EventSuggestion {
			sawSuggestions = true
		}
	}
	if !sawSuggestions {
		t.Error("judge timeout must not block suggestions")
	}
}

func TestValidateTurns(t *testing.T) {
	if err := ValidateTurns([]types.Turn{{Role: "user", Text: "hi"}}); err != nil {
		t.Errorf("valid turns rejected: %v", err)
	}
	if err := ValidateTurns(nil); !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("expected ErrEmptyConversation, got %v", err)
	}
	if err := ValidateTurns([]types.Turn{{Role: "assistant", Text: "hi"}}); !errors.Is(err, ErrLastTurnNotUser) {
		t.Errorf("expected ErrLastTurnNotUser, got %v", err)
	}
}
