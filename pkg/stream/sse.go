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
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultChannelBuffer is the event channel capacity. Sized so tool
// rounds never block on a slow client before the writer drains.
const DefaultChannelBuffer = 64

// SSEWriter writes events to an HTTP response as Server-Sent Events.
// Writes are best-effort: once the client is gone, further events are
// dropped and logged, never surfaced as orchestrator failures.
type SSEWriter struct {
	ctx     context.Context
	writer  http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
	dead    bool
}

// NewSSEWriter prepares the response for SSE and returns the writer.
// Fails when the ResponseWriter does not support flushing.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter, logger *zap.Logger) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()

	return &SSEWriter{
		ctx:     ctx,
		writer:  w,
		flusher: flusher,
		logger:  logger,
	}, nil
}

// Send writes one event and flushes. Returns false once the client has
// disconnected; the caller may keep sending, subsequent events are
// silently dropped.
func (s *SSEWriter) Send(event Event) bool {
	if s.dead {
		return false
	}
	select {
	case <-s.ctx.Done():
		s.dead = true
		s.logger.Debug("client disconnected, dropping events")
		return false
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal stream event",
			zap.String("type", event.Type), zap.Error(err))
		return true
	}

	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		s.dead = true
		s.logger.Debug("stream write failed, client likely gone", zap.Error(err))
		return false
	}
	s.flusher.Flush()
	return true
}

// Drain consumes the event channel until it closes, writing each event.
// Keeps draining after client disconnect so the producer never blocks.
func (s *SSEWriter) Drain(events <-chan Event) {
	for event := range events {
		s.Send(event)
	}
}
