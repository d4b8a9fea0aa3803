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

// Package compress shrinks tool results before they re-enter the
// model-facing transcript. Two layers: render separation peels chart
// payloads off for the client, field projection drops verbose columns
// from tabular data. Raw results are preserved untouched in a side
// buffer for post-processing.
package compress

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/tool"
)

// schoolProjection is the allow-list of per-school fields that survive
// compression in list-shaped results. Single-school profiles pass
// through untouched.
var schoolProjection = []string{
	"dbn", "name", "borough", "district",
	"poverty_pct", "growth_score", "achievement_score",
}

// maxProjectedRows caps list-shaped results after projection.
const maxProjectedRows = 50

// Compressor applies both compression layers to tool results. Stateless
// and safe for concurrent use.
type Compressor struct {
	logger *zap.Logger
}

// NewCompressor creates a compressor.
func NewCompressor(logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{logger: logger}
}

// Compress returns the model-facing version of a tool result and the
// render payload (if any) destined for the client stream. The input is
// never mutated; ResponseContext is carried over verbatim. Compressing
// an already-compressed result is a no-op.
func (c *Compressor) Compress(toolName string, res *tool.Result) (*tool.Result, *tool.RenderPayload) {
	if res == nil {
		return nil, nil
	}

	out := *res
	render := c.separateRender(&out)
	out.Data = c.projectData(toolName, out.Data)
	return &out, render
}

// separateRender implements the first layer: the full chart payload goes
// to the client, the model sees only a compact summary.
func (c *Compressor) separateRender(res *tool.Result) *tool.RenderPayload {
	if res.Render == nil {
		return nil
	}
	render := res.Render
	res.Render = nil
	res.Data = map[string]interface{}{
		"rendered": true,
		"kind":     render.Kind,
		"title":    render.Title,
		"points":   render.PointCount(),
		"series":   len(render.Series),
	}
	c.logger.Debug("separated render payload",
		zap.String("kind", render.Kind),
		zap.Int("points", render.PointCount()))
	return render
}

// projectData implements the second layer: per-shape field projection.
// Shapes it does not recognize pass through unchanged.
func (c *Compressor) projectData(toolName string, data interface{}) interface{} {
	m, ok := asMap(data)
	if !ok {
		return data
	}

	rawSchools, ok := m["schools"]
	if !ok {
		return data
	}
	rows, ok := asRows(rawSchools)
	if !ok {
		return data
	}

	truncated := false
	if len(rows) > maxProjectedRows {
		rows = rows[:maxProjectedRows]
		truncated = true
	}

	projected := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		slim := make(map[string]interface{}, len(schoolProjection))
		for _, field := range schoolProjection {
			if v, ok := row[field]; ok {
				slim[field] = v
			}
		}
		projected = append(projected, slim)
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["schools"] = projected
	if truncated {
		out["truncated_to"] = maxProjectedRows
	}

	c.logger.Debug("projected tool result",
		zap.String("tool", toolName),
		zap.Int("rows", len(projected)))
	return out
}

// asMap coerces Data into a generic map, round-tripping structs through
// JSON so tools can return typed payloads.
func asMap(data interface{}) (map[string]interface{}, bool) {
	switch v := data.(type) {
	case map[string]interface{}:
		return v, true
	case nil:
		return nil, false
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return m, true
	}
}

// asRows coerces a list of records into generic maps.
func asRows(v interface{}) ([]map[string]interface{}, bool) {
	switch rows := v.(type) {
	case []map[string]interface{}:
		return rows, true
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(rows))
		for _, r := range rows {
			m, ok := r.(map[string]interface{})
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	case nil:
		return nil, false
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var out []map[string]interface{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, false
		}
		return out, true
	}
}

// Summary renders a short human-readable line describing a compressed
// result, used in logs.
func Summary(toolName string, res *tool.Result) string {
	if res == nil {
		return toolName + ": no result"
	}
	status := "ok"
	if !res.Success {
		status = "error"
	}
	sample := 0
	if res.Context != nil {
		sample = res.Context.SampleSize
	}
	return fmt.Sprintf("%s: %s (sample=%d)", toolName, status, sample)
}
