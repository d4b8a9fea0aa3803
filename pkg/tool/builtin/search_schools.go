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
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/chalklabs/abacus/pkg/tool"
)

const defaultSearchLimit = 25

// SearchSchoolsTool finds schools by name, borough, and metric floors.
// Name matching is fuzzy so partial or misspelled queries still land.
type SearchSchoolsTool struct {
	store *Store
}

// NewSearchSchoolsTool creates the search tool over the given store.
func NewSearchSchoolsTool(store *Store) *SearchSchoolsTool {
	return &SearchSchoolsTool{store: store}
}

func (t *SearchSchoolsTool) Name() string {
	return "search_schools"
}

func (t *SearchSchoolsTool) Description() string {
	return `Searches the school performance dataset.

Use this tool to find schools matching a name fragment, borough,
poverty floor, or growth floor. Results are sorted by growth score
descending. Combine filters to answer questions like "high-poverty
schools in Brooklyn with growth above 0.55".`
}

func (t *SearchSchoolsTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema(
		"Parameters for searching schools",
		map[string]*tool.JSONSchema{
			"name":            tool.NewStringSchema("School name fragment, matched fuzzily (optional)"),
			"borough":         tool.NewStringSchema("Borough to restrict to (optional)"),
			"min_poverty_pct": tool.NewNumberSchema("Minimum poverty percentage, 0-100 (optional)"),
			"min_growth":      tool.NewNumberSchema("Minimum growth score, 0-1 (optional)"),
			"limit": tool.NewIntegerSchema("Maximum results to return").
				WithDefault(float64(defaultSearchLimit)).
				WithRange(floatPtr(1), floatPtr(200)),
		},
		nil,
	)
}

func (t *SearchSchoolsTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()

	filter := SchoolFilter{Limit: defaultSearchLimit}
	if b, ok := params["borough"].(string); ok {
		filter.Borough = b
	}
	if p, ok := params["min_poverty_pct"].(float64); ok {
		filter.MinPovertyPct = p
	}
	if g, ok := params["min_growth"].(float64); ok {
		filter.MinGrowth = g
	}
	if l, ok := params["limit"].(float64); ok && l > 0 {
		filter.Limit = int(l)
	}

	nameQuery, _ := params["name"].(string)

	var schools []School
	var err error
	if nameQuery != "" {
		schools, err = t.searchByName(ctx, nameQuery, filter)
	} else {
		schools, err = t.store.Query(ctx, filter)
	}
	if err != nil {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:    "dataset_query_failed",
				Message: fmt.Sprintf("school search failed: %v", err),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	baselines, err := t.store.Baselines(ctx)
	if err != nil {
		baselines = nil
	}

	respCtx := &tool.ResponseContext{
		SampleSize: len(schools),
		Baselines:  baselines,
	}
	if len(schools) == 0 {
		respCtx.Caveats = append(respCtx.Caveats, "no schools matched the filters")
	} else if len(schools) == filter.Limit {
		respCtx.Caveats = append(respCtx.Caveats,
			fmt.Sprintf("results truncated to %d matches", filter.Limit))
	}

	return &tool.Result{
		Success:         true,
		Data:            map[string]interface{}{"schools": schools},
		Context:         respCtx,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// searchByName fuzzy-matches the name fragment against all school names,
// then applies the remaining filters to the matched rows.
func (t *SearchSchoolsTool) searchByName(ctx context.Context, query string, filter SchoolFilter) ([]School, error) {
	dbns, names, err := t.store.AllNames(ctx)
	if err != nil {
		return nil, err
	}

	matches := fuzzy.Find(query, names)
	var out []School
	for _, m := range matches {
		sc, err := t.store.Get(ctx, dbns[m.Index])
		if err != nil {
			return nil, err
		}
		if !matchesFilter(sc, filter) {
			continue
		}
		out = append(out, sc)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(sc School, f SchoolFilter) bool {
	if f.Borough != "" && !strings.EqualFold(sc.Borough, f.Borough) {
		return false
	}
	if f.District > 0 && sc.District != f.District {
		return false
	}
	if sc.PovertyPct < f.MinPovertyPct {
		return false
	}
	if sc.GrowthScore < f.MinGrowth {
		return false
	}
	return true
}
