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
	"github.com/chalklabs/abacus/pkg/tool"
)

// Tools returns the full builtin tool set over the given store, in the
// order they are presented to the model.
func Tools(store *Store) []tool.Tool {
	return []tool.Tool{
		NewSearchSchoolsTool(store),
		NewSchoolProfileTool(store),
		NewCorrelateMetricsTool(store),
		NewDistrictSummaryTool(store),
		NewRenderChartTool(),
	}
}

// NewRegistry builds a sealed registry holding the builtin tool set.
func NewRegistry(store *Store) (*tool.Registry, error) {
	return tool.NewRegistry(Tools(store)...)
}
