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
package tool

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateParams validates invocation parameters against a tool's JSON
// Schema. A nil schema means no validation.
func ValidateParams(schema *JSONSchema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	schemaMap, err := schema.ToMap()
	if err != nil {
		return fmt.Errorf("schema conversion failed: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	paramsLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, paramsLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			errs[i] = verr.String()
		}
		return fmt.Errorf("invalid parameters: %v", errs)
	}

	return nil
}
