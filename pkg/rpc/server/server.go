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

// Package server exposes the tool registry to external agent clients
// over a JSON-RPC 2.0 endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/rpc/protocol"
	"github.com/chalklabs/abacus/pkg/tool"
)

// MethodHandler processes a JSON-RPC method call.
// id is the request ID (nil for notifications).
// params is the raw JSON params from the request.
type MethodHandler func(ctx context.Context, id json.RawMessage, params json.RawMessage) (interface{}, error)

// RPCServer dispatches JSON-RPC method calls to registered handlers.
// The tool surface is the same registry the conversation orchestrator
// uses; descriptors are reshaped into wire-level tool definitions.
type RPCServer struct {
	info         protocol.Implementation
	capabilities protocol.ServerCapabilities
	handlers     map[string]MethodHandler
	registry     *tool.Registry
	executor     *tool.Executor
	logger       *zap.Logger
	mu           sync.RWMutex
	clientInfo   *protocol.Implementation // Stored after initialize
}

// NewRPCServer creates a server exposing the given registry.
func NewRPCServer(name, version string, registry *tool.Registry, logger *zap.Logger) *RPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &RPCServer{
		info: protocol.Implementation{
			Name:    name,
			Version: version,
		},
		capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolsCapability{},
		},
		handlers: make(map[string]MethodHandler),
		registry: registry,
		executor: tool.NewExecutor(registry),
		logger:   logger,
	}

	s.RegisterHandler("initialize", s.handleInitialize)
	s.RegisterHandler("notifications/initialized", s.handleNotificationsInitialized)
	s.RegisterHandler("ping", s.handlePing)
	s.RegisterHandler("tools/list", s.handleToolsList)
	s.RegisterHandler("tools/call", s.handleToolsCall)

	return s
}

// RegisterHandler registers a handler for a JSON-RPC method.
func (s *RPCServer) RegisterHandler(method string, handler MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// HandleMessage processes a single JSON-RPC message and returns the response bytes.
// For notifications (no id), returns nil.
func (s *RPCServer) HandleMessage(ctx context.Context, msg []byte) ([]byte, error) {
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return marshalResponse(nil, nil, protocol.NewError(protocol.ParseError, "invalid JSON", nil))
	}

	if err := protocol.ValidateRequest(&req); err != nil {
		return marshalResponse(nil, nil, protocol.NewError(protocol.InvalidRequest, err.Error(), nil))
	}

	s.logger.Debug("handling request", zap.String("method", req.Method), zap.Any("id", req.ID))
	start := time.Now()

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		// Unknown notification methods are ignored silently for forward
		// compatibility.
		if req.IsNotification() {
			return nil, nil
		}
		return marshalResponse(req.ID, nil, protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil))
	}

	var rawID json.RawMessage
	if req.ID != nil {
		idBytes, err := json.Marshal(req.ID)
		if err != nil {
			return marshalResponse(nil, nil, protocol.NewError(protocol.InternalError, "failed to marshal request ID", nil))
		}
		rawID = idBytes
	}

	result, err := handler(ctx, rawID, req.Params)
	duration := time.Since(start)

	if err != nil {
		s.logger.Warn("handler error",
			zap.String("method", req.Method),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if req.IsNotification() {
			return nil, nil
		}
		// Preserve original JSON-RPC error code if the handler returned a *protocol.Error
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			return marshalResponse(req.ID, nil, rpcErr)
		}
		return marshalResponse(req.ID, nil, protocol.NewError(protocol.InternalError, err.Error(), nil))
	}

	s.logger.Debug("request handled",
		zap.String("method", req.Method),
		zap.Duration("duration", duration),
	)

	if req.IsNotification() {
		return nil, nil
	}

	return marshalResponse(req.ID, result, nil)
}

// handleInitialize processes the initialize request.
func (s *RPCServer) handleInitialize(_ context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	if initParams.ProtocolVersion != "" && initParams.ProtocolVersion != protocol.ProtocolVersion {
		s.logger.Warn("client protocol version mismatch",
			zap.String("client_version", initParams.ProtocolVersion),
			zap.String("server_version", protocol.ProtocolVersion),
		)
	}

	if initParams.ClientInfo.Name != "" {
		s.mu.Lock()
		info := initParams.ClientInfo
		s.clientInfo = &info
		s.mu.Unlock()
		s.logger.Info("client connected",
			zap.String("client_name", initParams.ClientInfo.Name),
			zap.String("client_version", initParams.ClientInfo.Version),
		)
	}

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
	}, nil
}

// handleNotificationsInitialized handles the initialized notification (no-op).
func (s *RPCServer) handleNotificationsInitialized(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	s.logger.Debug("client initialized")
	return nil, nil
}

// handlePing handles the ping request.
func (s *RPCServer) handlePing(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

// ClientInfo returns the connected client's information, or nil if not yet initialized.
func (s *RPCServer) ClientInfo() *protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// marshalResponse creates a JSON-RPC response.
func marshalResponse(id *protocol.RequestID, result interface{}, rpcErr *protocol.Error) ([]byte, error) {
	resp := protocol.Response{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	}

	if result != nil {
		resultBytes, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resp.Result = resultBytes
	}

	return json.Marshal(resp)
}
