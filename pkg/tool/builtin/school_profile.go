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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chalklabs/abacus/pkg/tool"
)

// SchoolProfileTool returns the full record for a single school by DBN.
type SchoolProfileTool struct {
	store *Store
}

// NewSchoolProfileTool creates the profile tool over the given store.
func NewSchoolProfileTool(store *Store) *SchoolProfileTool {
	return &SchoolProfileTool{store: store}
}

func (t *SchoolProfileTool) Name() string {
	return "school_profile"
}

func (t *SchoolProfileTool) Description() string {
	return `Returns the complete record for one school, identified by its DBN.

Use after search_schools to drill into a specific school. Includes
citywide baselines so individual values can be put in context.`
}

func (t *SchoolProfileTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema(
		"Parameters for fetching a school profile",
		map[string]*tool.JSONSchema{
			"dbn": tool.NewStringSchema("District Borough Number identifying the school (e.g. '13K430')"),
		},
		[]string{"dbn"},
	)
}

func (t *SchoolProfileTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	start := time.Now()

	dbn, ok := params["dbn"].(string)
	if !ok || dbn == "" {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "invalid_params",
				Message:    "dbn is required",
				Suggestion: "Use search_schools first to find the school's DBN",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	sc, err := t.store.Get(ctx, dbn)
	if errors.Is(err, sql.ErrNoRows) {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:       "not_found",
				Message:    fmt.Sprintf("no school with DBN %q", dbn),
				Suggestion: "Use search_schools to find valid DBNs",
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}
	if err != nil {
		return &tool.Result{
			Success: false,
			Error: &tool.Error{
				Code:    "dataset_query_failed",
				Message: fmt.Sprintf("profile lookup failed: %v", err),
			},
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	baselines, err := t.store.Baselines(ctx)
	if err != nil {
		baselines = nil
	}

	return &tool.Result{
		Success: true,
		Data:    map[string]interface{}{"school": sc},
		Context: &tool.ResponseContext{
			SampleSize: 1,
			Baselines:  baselines,
		},
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
