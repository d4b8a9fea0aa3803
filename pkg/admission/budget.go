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

package admission

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBudgetExhausted is returned when the daily token budget has been
// spent. Resets at local midnight.
var ErrBudgetExhausted = errors.New("daily token budget exhausted")

// BudgetConfig configures the daily token budget.
type BudgetConfig struct {
	// DailyTokens is the service-wide token ceiling per calendar day.
	// Counts total model tokens (input plus output).
	DailyTokens int
}

// DefaultBudgetConfig returns the production default of 200k tokens/day.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{DailyTokens: 200_000}
}

// BudgetGate enforces a service-wide daily token ceiling. Admission
// pre-charges an estimate; Settle reconciles against actual usage once
// the model reports it. Pre-charging means concurrent requests cannot
// collectively overshoot the ceiling by more than one reconciliation.
type BudgetGate struct {
	mu     sync.Mutex
	spent  int
	day    time.Time
	config BudgetConfig
	logger *zap.Logger

	now func() time.Time
}

// NewBudgetGate creates a daily budget gate.
func NewBudgetGate(config BudgetConfig, logger *zap.Logger) *BudgetGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DailyTokens <= 0 {
		config.DailyTokens = DefaultBudgetConfig().DailyTokens
	}
	return &BudgetGate{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// rollover resets spend at midnight in the server's local calendar
// day, not the UTC one.
func (b *BudgetGate) rollover(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !day.Equal(b.day) {
		b.day = day
		b.spent = 0
	}
}

// Reserve pre-charges estimate tokens against today's budget. Returns
// ErrBudgetExhausted when the budget cannot cover the estimate.
func (b *BudgetGate) Reserve(estimate int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(b.now())
	if b.spent+estimate > b.config.DailyTokens {
		b.logger.Warn("request denied by token budget",
			zap.Int("spent", b.spent),
			zap.Int("estimate", estimate),
			zap.Int("ceiling", b.config.DailyTokens))
		return ErrBudgetExhausted
	}
	b.spent += estimate
	return nil
}

// Settle reconciles a reservation against the actual token usage the
// model reported. A negative delta refunds unused budget.
func (b *BudgetGate) Settle(estimate, actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(b.now())
	b.spent += actual - estimate
	if b.spent < 0 {
		b.spent = 0
	}
}

// Spent returns today's spend so far.
func (b *BudgetGate) Spent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover(b.now())
	return b.spent
}
