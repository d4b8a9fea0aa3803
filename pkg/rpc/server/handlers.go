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
	"errors"
	"fmt"

	"github.com/chalklabs/abacus/pkg/rpc/protocol"
	"github.com/chalklabs/abacus/pkg/tool"
)

// handleToolsList reshapes registry descriptors into wire-level tool
// definitions.
func (s *RPCServer) handleToolsList(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	registered := s.registry.ListTools()
	tools := make([]protocol.Tool, 0, len(registered))
	for _, t := range registered {
		wire, err := wireTool(t)
		if err != nil {
			return nil, fmt.Errorf("convert tool %q: %w", t.Name(), err)
		}
		tools = append(tools, wire)
	}
	return protocol.ToolListResult{Tools: tools}, nil
}

// handleToolsCall validates existence and arguments, dispatches through
// the shared executor, and wraps the result in the protocol's content
// envelope. Tool-level failure is a result with isError, not a JSON-RPC
// error.
func (s *RPCServer) handleToolsCall(ctx context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var callParams protocol.CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid tool call params: %v", err), nil)
	}

	if callParams.Name == "" {
		return nil, protocol.NewError(protocol.InvalidParams, "tool name is required", nil)
	}
	if callParams.Arguments == nil {
		callParams.Arguments = map[string]interface{}{}
	}

	registered, ok := s.registry.Get(callParams.Name)
	if !ok {
		return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("unknown tool: %s", callParams.Name), nil)
	}

	wire, err := wireTool(registered)
	if err != nil {
		return nil, fmt.Errorf("convert tool %q: %w", callParams.Name, err)
	}
	if err := protocol.ValidateToolArguments(wire, callParams.Arguments); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}

	result, err := s.executor.Execute(ctx, callParams.Name, callParams.Arguments)
	if err != nil {
		if errors.Is(err, tool.ErrNotFound) {
			return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
		}
		return &protocol.CallToolResult{
			Content: []protocol.Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	return wrapResult(result)
}

// wrapResult serializes a tool result into the content envelope.
func wrapResult(result *tool.Result) (*protocol.CallToolResult, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: string(body)}},
		IsError: !result.Success,
	}, nil
}

// wireTool converts a registered tool to its wire descriptor.
func wireTool(t tool.Tool) (protocol.Tool, error) {
	schema, err := t.InputSchema().ToMap()
	if err != nil {
		return protocol.Tool{}, err
	}
	return protocol.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: schema,
	}, nil
}
