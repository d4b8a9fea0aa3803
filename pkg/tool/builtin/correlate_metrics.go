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

package builtin

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chalklabs/abacus/pkg/tool"
)

// minCorrelationSample is the sample size below which the correlation
// result carries a small-sample caveat.
const minCorrelationSample = 10

// CorrelateMetricsTool computes the Pearson correlation between two
// dataset metrics, optionally scoped to a borough.
type CorrelateMetricsTool struct {
	store *Store
}

// NewCorrelateMetricsTool creates the correlation tool over the store.
func NewCorrelateMetricsTool(store *Store) *CorrelateMetricsTool {
	return &CorrelateMetricsTool{store: store}
}

func (t *CorrelateMetricsTool) Name() string {
	return "correlate_metrics"
}

func (t *CorrelateMetricsTool) Description() string {
	return `Computes the Pearson correlation coefficient between two school
metrics, across the city or within one borough.

Use to answer questions like "does spending track achievement?" The
result includes the sample size; treat small samples with caution.`
}

func (t *CorrelateMetricsTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema(
		"Parameters for correlating two metrics",
		map[string]*tool.JSONSchema{
			"metric_x": tool.NewStringSchema("First metric").WithEnum(metricEnum()...),
			"metric_y": tool.NewStringSchema("Second metric").WithEnum(metricEnum()...),
			"borough":  tool.NewStringSchema("Borough to restrict to (optional)"),
		},
		[]string{"metric_x", "metric_y"},
	)
}

func (t *CorrelateMetricsTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()

	metricX, _ := params["metric_x"].(string)
	metricY, _ := params["metric_y"].(string)
	borough, _ := params["borough"].(string)

	pairs, err := t.store.MetricPairs(ctx, metricX, metricY, borough)
	if err != nil {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "dataset_query_failed",
				Message:    fmt.Sprintf("metric query failed: %v", err),
				Suggestion: fmt.Sprintf("valid metrics are %v", MetricNames()),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	if len(pairs) < 2 {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:    "insufficient_data",
				Message: fmt.Sprintf("need at least 2 schools, got %d", len(pairs)),
			},
			Context:         &tool.ResponseContext{SampleSize: len(pairs)},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	r := pearson(pairs)
	respCtx := &tool.ResponseContext{SampleSize: len(pairs)}
	if len(pairs) < minCorrelationSample {
		respCtx.Caveats = append(respCtx.Caveats,
			fmt.Sprintf("small sample (%d schools); correlation may be unstable", len(pairs)))
	}

	return &tool.Result{
		Success: true,
		Data: map[string]interface{}{
			"metric_x":    metricX,
			"metric_y":    metricY,
			"borough":     borough,
			"correlation": r,
			"n":           len(pairs),
		},
		Context:         respCtx,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// pearson computes the Pearson correlation coefficient. Returns 0 when
// either metric has zero variance.
func pearson(pairs []MetricPair) float64 {
	n := float64(len(pairs))
	var sumX, sumY float64
	for _, p := range pairs {
		sumX += p.X
		sumY += p.Y
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for _, p := range pairs {
		dx, dy := p.X-meanX, p.Y-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
