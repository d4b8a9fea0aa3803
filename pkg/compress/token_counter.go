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
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/chalklabs/abacus/pkg/types"
)

// TokenCounter provides token counting for context accounting.
// Uses tiktoken with cl100k_base encoding (Claude-compatible approximation).
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns a singleton token counter instance.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fallback: approximate counting when the encoding files
			// cannot be loaded
			globalTokenCounter = &TokenCounter{encoder: nil}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count for a given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	tokens := tc.encoder.Encode(text, nil, nil)
	return len(tokens)
}

// EstimateMessagesTokens estimates token count for a transcript.
// Includes formatting overhead for message structure.
func (tc *TokenCounter) EstimateMessagesTokens(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		// role + formatting overhead, roughly 10 tokens per message
		total += 10
		total += tc.CountTokens(msg.Content)
		if len(msg.ToolCalls) > 0 {
			total += tc.CountTokens(fmt.Sprintf("%v", msg.ToolCalls))
		}
		if msg.ToolResult != nil {
			total += tc.CountTokens(fmt.Sprintf("%v", *msg.ToolResult))
		}
	}
	return total
}
