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

// maxChartPoints bounds a single series so the render payload stays
// client-friendly.
const maxChartPoints = 500

var chartKinds = []interface{}{"bar", "line", "scatter", "pie"}

// RenderChartTool turns tabular values into a chart payload. The payload
// is delivered to the client verbatim; only a compact summary reaches
// the model.
type RenderChartTool struct{}

// NewRenderChartTool creates the chart tool.
func NewRenderChartTool() *RenderChartTool {
	return &RenderChartTool{}
}

func (t *RenderChartTool) Name() string {
	return "render_chart"
}

func (t *RenderChartTool) Description() string {
	return `Renders a chart for the user from labels and numeric series.

Use after gathering data with the other tools. The chart is displayed
directly; you will see only a short summary of what was rendered, so
narrate the takeaway rather than the raw values.`
}

func (t *RenderChartTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema(
		"Parameters for rendering a chart",
		map[string]*tool.JSONSchema{
			"kind": tool.NewStringSchema("Chart type").
				WithEnum(chartKinds...).
				WithDefault("bar"),
			"title":  tool.NewStringSchema("Chart title"),
			"labels": tool.NewArraySchema("X-axis labels, one per point", tool.NewStringSchema("label")),
			"series": tool.NewArraySchema("Numeric series to plot",
				tool.NewObjectSchema("one series", map[string]*tool.JSONSchema{
					"name":   tool.NewStringSchema("Series name"),
					"points": tool.NewArraySchema("Values, one per label", tool.NewNumberSchema("value")),
				}, []string{"name", "points"})),
		},
		[]string{"title", "labels", "series"},
	)
}

func (t *RenderChartTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()

	fail := func(msg, suggestion string) (*tool.Result, error) {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "invalid_params",
				Message:    msg,
				Suggestion: suggestion,
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	kind, _ := params["kind"].(string)
	if kind == "" {
		kind = "bar"
	}
	title, _ := params["title"].(string)

	rawLabels, ok := params["labels"].([]interface{})
	if !ok || len(rawLabels) == 0 {
		return fail("labels must be a non-empty array of strings", "")
	}
	labels := make([]string, 0, len(rawLabels))
	for _, l := range rawLabels {
		s, ok := l.(string)
		if !ok {
			return fail(fmt.Sprintf("label %v is not a string", l), "")
		}
		labels = append(labels, s)
	}
	if len(labels) > maxChartPoints {
		return fail(fmt.Sprintf("too many points (%d, max %d)", len(labels), maxChartPoints),
			"aggregate the data first, e.g. with district_summary")
	}

	rawSeries, ok := params["series"].([]interface{})
	if !ok || len(rawSeries) == 0 {
		return fail("series must be a non-empty array", "")
	}
	series := make([]tool.Series, 0, len(rawSeries))
	for i, rs := range rawSeries {
		obj, ok := rs.(map[string]interface{})
		if !ok {
			return fail(fmt.Sprintf("series %d is not an object", i), "")
		}
		name, _ := obj["name"].(string)
		rawPoints, ok := obj["points"].([]interface{})
		if !ok {
			return fail(fmt.Sprintf("series %d has no points array", i), "")
		}
		if len(rawPoints) != len(labels) {
			return fail(fmt.Sprintf("series %d has %d points for %d labels", i, len(rawPoints), len(labels)), "")
		}
		points := make([]float64, 0, len(rawPoints))
		for _, rp := range rawPoints {
			v, ok := rp.(float64)
			if !ok {
				return fail(fmt.Sprintf("series %d contains a non-numeric point", i), "")
			}
			points = append(points, v)
		}
		series = append(series, tool.Series{Name: name, Points: points})
	}

	render := &tool.RenderPayload{
		Kind:   kind,
		Title:  title,
		Labels: labels,
		Series: series,
	}

	return &tool.Result{
		Success: true,
		Data: map[string]interface{}{
			"rendered": true,
			"kind":     kind,
			"title":    title,
			"points":   render.PointCount(),
		},
		Render:          render,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
