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

// Package anthropic implements the hosted model provider over the
// Anthropic Messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chalklabs/abacus/pkg/tool"
	"github.com/chalklabs/abacus/pkg/types"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Anthropic API endpoint
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default model temperature
	DefaultTemperature = 1.0
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 60 * time.Second
)

// Client implements the LLMProvider interface for Anthropic's Claude API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string // Default: claude-sonnet-4-5-20250929
	Endpoint    string // Default: https://api.anthropic.com/v1/messages
	Timeout     time.Duration
	MaxTokens   int     // Default: 4096
	Temperature float64 // Default: 1.0
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends a conversation to Claude and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []tool.Tool) (*types.LLMResponse, error) {
	systemPrompt, apiMessages := convertMessages(messages)
	apiTools := convertTools(tools)

	req := &MessagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	// Anthropic Messages API requires system prompts as a separate field
	if systemPrompt != "" {
		req.System = systemPrompt
	}
	if len(apiTools) > 0 {
		req.Tools = apiTools
	}

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}

	return convertResponse(resp), nil
}

// convertMessages converts transcript messages to Anthropic format.
// System messages are extracted and combined, as the Messages API
// requires them in a separate "system" field, not in the messages array.
func convertMessages(messages []types.Message) (string, []Message) {
	var systemPrompts []string
	var apiMessages []Message

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}

		case "user":
			apiMessages = append(apiMessages, Message{
				Role: "user",
				Content: []ContentBlock{
					{Type: "text", Text: msg.Content},
				},
			})

		case "assistant":
			var content []ContentBlock
			if msg.Content != "" {
				content = append(content, ContentBlock{
					Type: "text",
					Text: msg.Content,
				})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, Message{
					Role:    "assistant",
					Content: content,
				})
			}

		case "tool":
			apiMessages = append(apiMessages, Message{
				Role: "user",
				Content: []ContentBlock{
					{
						Type:      "tool_result",
						ToolUseID: msg.ToolUseID,
						Content:   toolResultContent(msg),
						IsError:   msg.ToolResult != nil && !msg.ToolResult.Success,
					},
				},
			})
		}
	}

	return strings.Join(systemPrompts, "\n\n"), apiMessages
}

// toolResultContent serializes the compressed tool result for the model.
// Falls back to the plain message content when no structured result is
// attached.
func toolResultContent(msg types.Message) string {
	if msg.ToolResult == nil {
		return msg.Content
	}
	data, err := json.Marshal(msg.ToolResult)
	if err != nil {
		return msg.Content
	}
	return string(data)
}

// convertTools converts registry tools to Anthropic format.
func convertTools(tools []tool.Tool) []Tool {
	var apiTools []Tool
	for _, t := range tools {
		apiTool := Tool{
			Name:        t.Name(),
			Description: t.Description(),
		}
		schema := t.InputSchema()
		if schema != nil {
			apiTool.InputSchema = InputSchema{
				Type:       schema.Type,
				Properties: convertSchemaProperties(schema.Properties),
				Required:   schema.Required,
			}
		}
		apiTools = append(apiTools, apiTool)
	}
	return apiTools
}

// convertSchemaProperties converts JSONSchema properties to Anthropic format.
func convertSchemaProperties(props map[string]*tool.JSONSchema) map[string]map[string]interface{} {
	if props == nil {
		return nil
	}

	result := make(map[string]map[string]interface{})
	for key, schema := range props {
		propMap := make(map[string]interface{})
		propMap["type"] = schema.Type

		if schema.Description != "" {
			propMap["description"] = schema.Description
		}
		if schema.Enum != nil {
			propMap["enum"] = schema.Enum
		}
		if schema.Default != nil {
			propMap["default"] = schema.Default
		}
		if schema.Minimum != nil {
			propMap["minimum"] = *schema.Minimum
		}
		if schema.Maximum != nil {
			propMap["maximum"] = *schema.Maximum
		}
		if schema.Properties != nil {
			propMap["properties"] = convertSchemaProperties(schema.Properties)
		}
		if schema.Items != nil {
			propMap["items"] = map[string]interface{}{
				"type": schema.Items.Type,
			}
		}

		result[key] = propMap
	}
	return result
}

// convertResponse converts an Anthropic response to transcript format.
func convertResponse(resp *MessagesResponse) *types.LLMResponse {
	llmResp := &types.LLMResponse{
		StopReason: resp.StopReason,
		Usage: types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			llmResp.Content += block.Text

		case "tool_use":
			llmResp.ToolCalls = append(llmResp.ToolCalls, types.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	return llmResp
}

// ChatStream implements token-by-token streaming for Anthropic.
// Uses the Messages API with stream=true; tokenCallback is called for
// each text delta received.
func (c *Client) ChatStream(ctx context.Context, messages []types.Message,
	tools []tool.Tool, tokenCallback types.TokenCallback) (*types.LLMResponse, error) {

	systemPrompt, apiMessages := convertMessages(messages)
	apiTools := convertTools(tools)

	req := &MessagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
	}
	if systemPrompt != "" {
		req.System = systemPrompt
	}
	if len(apiTools) > 0 {
		req.Tools = apiTools
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.buildRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var contentBuffer strings.Builder
	usage := types.Usage{}
	var stopReason string
	tokenCount := 0
	var toolCalls []types.ToolCall
	// Track tool input JSON as it streams in (indexed by content block index)
	toolInputBuffers := make(map[int]*strings.Builder)
	// Map content block index to toolCalls slice index for tool_use blocks
	toolCallIndex := make(map[int]int)

	scanner := bufio.NewScanner(httpResp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <event_type>" or "data: <json>"
		if strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		jsonData := strings.TrimPrefix(line, "data: ")
		var event StreamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					token := event.Delta.Text
					contentBuffer.WriteString(token)
					tokenCount++
					if tokenCallback != nil {
						tokenCallback(token)
					}
				}
			case "input_json_delta":
				if buf, exists := toolInputBuffers[event.Index]; exists {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				idx := len(toolCalls)
				toolCalls = append(toolCalls, types.ToolCall{
					ID:    event.ContentBlock.ID,
					Name:  event.ContentBlock.Name,
					Input: make(map[string]interface{}),
				})
				toolInputBuffers[event.Index] = &strings.Builder{}
				toolCallIndex[event.Index] = idx
			}

		case "content_block_stop":
			// Finalize tool input: parse accumulated JSON
			if buf, exists := toolInputBuffers[event.Index]; exists && buf.Len() > 0 {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
					if idx, ok := toolCallIndex[event.Index]; ok && idx < len(toolCalls) {
						toolCalls[idx].Input = input
					}
				}
			}
			delete(toolInputBuffers, event.Index)
			delete(toolCallIndex, event.Index)

		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if event.Usage != nil {
				if event.Usage.InputTokens > 0 {
					usage.InputTokens = event.Usage.InputTokens
				}
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading stream: %w", err)
	}

	if usage.OutputTokens == 0 {
		usage.OutputTokens = tokenCount
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &types.LLMResponse{
		Content:    contentBuffer.String(),
		StopReason: stopReason,
		Usage:      usage,
		ToolCalls:  toolCalls,
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, body []byte) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", "2023-06-01")
	return r, nil
}

// callAPI makes the HTTP request to Anthropic's API.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.buildRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// Ensure Client implements LLMProvider interface.
var _ types.LLMProvider = (*Client)(nil)

// Ensure Client implements StreamingLLMProvider interface.
var _ types.StreamingLLMProvider = (*Client)(nil)
