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
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/admission"
	"github.com/chalklabs/abacus/pkg/rpc/protocol"
)

// maxRequestBody caps the JSON-RPC request body at 1 MiB.
const maxRequestBody = 1 << 20

// Handler serves the JSON-RPC endpoint over HTTP. POST carries one
// request per call; GET is a liveness probe. Admission is scoped per
// caller address, separate from the conversation endpoint's gate.
type Handler struct {
	rpc    *RPCServer
	gate   *admission.Gate
	logger *zap.Logger
}

// NewHandler wraps an RPCServer in an HTTP handler. A nil gate disables
// admission.
func NewHandler(rpc *RPCServer, gate *admission.Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rpc: rpc, gate: gate, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleLiveness(w)
	case http.MethodPost:
		h.handleRPC(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLiveness returns a static status document.
func (h *Handler) handleLiveness(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"name":     h.rpc.info.Name,
		"version":  h.rpc.info.Version,
		"protocol": protocol.ProtocolVersion,
	})
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeRPCError(w, nil, protocol.NewError(protocol.ParseError, "failed to read body", nil))
		return
	}

	// The request ID, if present, is echoed on admission denial.
	var probe protocol.Request
	_ = json.Unmarshal(body, &probe)

	if h.gate != nil {
		if err := h.gate.Admit(callerAddress(r)); err != nil {
			var denied *admission.DeniedError
			retryAfter := 0
			if errors.As(err, &denied) {
				retryAfter = admission.RetryAfterSeconds(denied.RetryAfter)
			}
			if probe.IsNotification() {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			writeRPCError(w, probe.ID, protocol.NewAdmissionError(retryAfter))
			return
		}
	}

	resp, err := h.rpc.HandleMessage(r.Context(), body)
	if err != nil {
		h.logger.Error("rpc handling failed", zap.Error(err))
		writeRPCError(w, probe.ID, protocol.NewError(protocol.InternalError, "internal error", nil))
		return
	}

	// Notifications are acknowledged with an empty body.
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// callerAddress extracts the caller's host for admission scoping.
func callerAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRPCError(w http.ResponseWriter, id *protocol.RequestID, rpcErr *protocol.Error) {
	body, err := marshalResponse(id, nil, rpcErr)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
