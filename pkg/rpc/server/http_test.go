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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalklabs/abacus/pkg/admission"
	"github.com/chalklabs/abacus/pkg/rpc/protocol"
)

func postRPC(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:52001"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Liveness(t *testing.T) {
	h := NewHandler(newTestServer(t), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "abacus", status["name"])
}

func TestHandler_Post(t *testing.T) {
	h := NewHandler(newTestServer(t), nil, nil)
	rec := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandler_NotificationGets202(t *testing.T) {
	h := NewHandler(newTestServer(t), nil, nil)
	rec := postRPC(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(newTestServer(t), nil, nil)
	req := httptest.NewRequest(http.MethodDelete, "/rpc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_AdmissionDenied(t *testing.T) {
	gate := admission.NewGate(admission.GateConfig{MaxRequests: 1, Window: time.Minute}, nil)
	h := NewHandler(newTestServer(t), gate, nil)

	rec := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postRPC(t, h, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.AdmissionDenied, resp.Error.Code)
	assert.Equal(t, "2", resp.ID.String())

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Error.Data, &data))
	assert.Greater(t, data["retryAfter"], float64(0))
}

func TestHandler_AdmissionScopedByAddress(t *testing.T) {
	gate := admission.NewGate(admission.GateConfig{MaxRequests: 1, Window: time.Minute}, nil)
	h := NewHandler(newTestServer(t), gate, nil)

	first := postRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusOK, first.Code)

	// a different address gets its own window
	req := httptest.NewRequest(http.MethodPost, "/rpc",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.RemoteAddr = "10.0.0.2:52002"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}
