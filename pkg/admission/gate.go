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

// Package admission gates incoming requests before any model or tool work
// is scheduled. It combines a per-caller fixed-window request gate with a
// service-wide daily token budget.
package admission

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDenied is returned when a request fails admission. Callers use
// errors.As with *DeniedError to recover the retry hint.
var ErrDenied = errors.New("admission denied")

// DeniedError carries the retry hint for a denied request.
type DeniedError struct {
	// Caller is the identity the denial applies to
	Caller string

	// RetryAfter is how long the caller should wait before retrying
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("admission denied for %s, retry after %s", e.Caller, e.RetryAfter)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// GateConfig configures the request gate.
type GateConfig struct {
	// MaxRequests is the request ceiling per window per caller
	MaxRequests int

	// Window is the fixed window length
	Window time.Duration
}

// DefaultGateConfig returns the production defaults: 60 requests per
// 60 second window per caller.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxRequests: 60,
		Window:      60 * time.Second,
	}
}

type window struct {
	count   int
	resetAt time.Time
}

// Gate admits requests per caller using a fixed window counter. The
// check and increment happen atomically under the gate's lock, so
// concurrent requests from the same caller cannot both observe count
// ceiling-1 and both pass.
type Gate struct {
	mu      sync.Mutex
	windows map[string]*window
	config  GateConfig
	logger  *zap.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewGate creates a request gate with the given config.
func NewGate(config GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultGateConfig().MaxRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultGateConfig().Window
	}
	return &Gate{
		windows: make(map[string]*window),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Admit checks and records one request for the caller. On denial the
// returned error wraps ErrDenied and carries the retry hint; the counter
// is not incremented for denied requests.
func (g *Gate) Admit(caller string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.windows[caller]
	if !ok || !now.Before(w.resetAt) {
		g.windows[caller] = &window{count: 1, resetAt: now.Add(g.config.Window)}
		return nil
	}

	if w.count < g.config.MaxRequests {
		w.count++
		return nil
	}

	retryAfter := w.resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	g.logger.Warn("request denied by rate gate",
		zap.String("caller", caller),
		zap.Int("count", w.count),
		zap.Duration("retry_after", retryAfter))
	return &DeniedError{Caller: caller, RetryAfter: retryAfter}
}

// RetryAfterSeconds rounds a retry hint up to whole seconds for wire
// payloads. Never returns less than 1 for a positive duration.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
