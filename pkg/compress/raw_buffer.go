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
package compress

import (
	"sync"
	"time"

	"github.com/chalklabs/abacus/pkg/tool"
)

// RawEntry is one uncompressed tool result captured before compression.
type RawEntry struct {
	ToolName string
	Params   map[string]interface{}
	Result   *tool.Result
	At       time.Time
}

// RawBuffer is the append-only side buffer of raw tool results for one
// request. Post-processing (evaluation, audit) reads from here so it
// sees full data even when the model-facing transcript was compressed.
// Thread-safe; entries are kept in call order.
type RawBuffer struct {
	mu      sync.Mutex
	entries []RawEntry
}

// NewRawBuffer creates an empty buffer.
func NewRawBuffer() *RawBuffer {
	return &RawBuffer{}
}

// Append records a raw result. The result is stored as-is; callers must
// not mutate it afterwards.
func (b *RawBuffer) Append(toolName string, params map[string]interface{}, res *tool.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, RawEntry{
		ToolName: toolName,
		Params:   params,
		Result:   res,
		At:       time.Now(),
	})
}

// Entries returns a snapshot of the buffer in call order.
func (b *RawBuffer) Entries() []RawEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RawEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of captured results.
func (b *RawBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
