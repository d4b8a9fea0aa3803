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
package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateToolArguments checks arguments against the tool's declared
// input schema. Tools without a schema accept anything.
func ValidateToolArguments(tool Tool, arguments map[string]interface{}) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(tool.InputSchema),
		gojsonschema.NewGoLoader(arguments))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
}

// ValidateRequest checks the structural requirements of an incoming
// request before dispatch.
func ValidateRequest(req *Request) error {
	if req.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %s (expected %s)", req.JSONRPC, JSONRPCVersion)
	}
	if req.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// ValidateResponse checks an outgoing response: it must carry an ID and
// exactly one of result or error.
func ValidateResponse(resp *Response) error {
	if resp.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %s (expected %s)", resp.JSONRPC, JSONRPCVersion)
	}
	if resp.ID == nil {
		return fmt.Errorf("response ID is required")
	}
	if hasResult, hasError := len(resp.Result) > 0, resp.Error != nil; hasResult == hasError {
		return fmt.Errorf("response must have exactly one of result or error")
	}
	return nil
}
