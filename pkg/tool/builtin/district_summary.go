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
	"time"

	"github.com/chalklabs/abacus/pkg/tool"
)

// DistrictSummaryTool aggregates one metric per school district.
type DistrictSummaryTool struct {
	store *Store
}

// NewDistrictSummaryTool creates the district rollup tool.
func NewDistrictSummaryTool(store *Store) *DistrictSummaryTool {
	return &DistrictSummaryTool{store: store}
}

func (t *DistrictSummaryTool) Name() string {
	return "district_summary"
}

func (t *DistrictSummaryTool) Description() string {
	return `Aggregates one metric per school district: mean, min, max, and
school count. Optionally scoped to one borough.

Use to compare districts before drilling into individual schools.`
}

func (t *DistrictSummaryTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema(
		"Parameters for the district rollup",
		map[string]*tool.JSONSchema{
			"metric":  tool.NewStringSchema("Metric to aggregate").WithEnum(metricEnum()...),
			"borough": tool.NewStringSchema("Borough to restrict to (optional)"),
		},
		[]string{"metric"},
	)
}

func (t *DistrictSummaryTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()

	metric, _ := params["metric"].(string)
	borough, _ := params["borough"].(string)

	aggregates, err := t.store.DistrictSummary(ctx, metric, borough)
	if err != nil {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "dataset_query_failed",
				Message:    fmt.Sprintf("district summary failed: %v", err),
				Suggestion: fmt.Sprintf("valid metrics are %v", MetricNames()),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	total := 0
	for _, a := range aggregates {
		total += a.SchoolCount
	}

	return &tool.Result{
		Success: true,
		Data: map[string]interface{}{
			"metric":    metric,
			"borough":   borough,
			"districts": aggregates,
		},
		Context:         &tool.ResponseContext{SampleSize: total},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
