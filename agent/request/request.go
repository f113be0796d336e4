// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package request defines the closed, typed shape of a Bedrock call that the
// gate evaluates, and decodes inbound JSON into it.
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultActionType is used when a request carries no type label
const DefaultActionType = "chat"

// Roles accepted in a conversation
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrMalformed marks a payload whose JSON shape does not match Request
var ErrMalformed = errors.New("malformed request")

// Request is a candidate Bedrock call
type Request struct {
	ModelID         string           `json:"model_id"`
	Messages        []Message        `json:"messages"`
	System          string           `json:"system,omitempty"`
	InferenceConfig *InferenceConfig `json:"inferenceConfig,omitempty"`
	Type            string           `json:"type,omitempty"`
}

// Message is one conversation turn
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one content item. Text is nil for non-text items.
type ContentBlock struct {
	Text *string `json:"text,omitempty"`
}

// InferenceConfig carries the optional generation settings
type InferenceConfig struct {
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

// ActionType returns the request's type label, defaulting to "chat"
func (r *Request) ActionType() string {
	if r.Type == "" {
		return DefaultActionType
	}
	return r.Type
}

// RequestedTokens returns inferenceConfig.maxTokens, or 0 when absent
func (r *Request) RequestedTokens() int {
	if r.InferenceConfig == nil || r.InferenceConfig.MaxTokens == nil {
		return 0
	}
	return *r.InferenceConfig.MaxTokens
}

// Text builds a text content block
func Text(s string) ContentBlock {
	return ContentBlock{Text: &s}
}

// UserMessage builds a single-block user turn
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{Text(text)}}
}

// MaxTokens returns an InferenceConfig with only maxTokens set
func MaxTokens(n int) *InferenceConfig {
	return &InferenceConfig{MaxTokens: &n}
}

// ShapeError reports a payload that cannot be represented as a Request.
// Reason is suitable for display to the caller.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string { return e.Reason }

func (e *ShapeError) Unwrap() error { return ErrMalformed }

func shapeErr(format string, args ...interface{}) error {
	return &ShapeError{Reason: fmt.Sprintf(format, args...)}
}

// Decode parses a JSON payload into a Request, rejecting shapes the typed
// model cannot hold (non-list messages, non-object items, non-string text,
// non-integer maxTokens) with a ShapeError.
func Decode(data []byte) (*Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ShapeError{Reason: "Action must be a dictionary"}
	}

	req := &Request{}

	if v, ok := raw["model_id"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &req.ModelID); err != nil {
			return nil, shapeErr("model_id must be a string")
		}
	}

	if v, ok := raw["messages"]; ok {
		var items []json.RawMessage
		if isNull(v) || json.Unmarshal(v, &items) != nil {
			return nil, shapeErr("messages must be a list")
		}
		req.Messages = make([]Message, 0, len(items))
		for i, item := range items {
			msg, err := decodeMessage(item, i)
			if err != nil {
				return nil, err
			}
			req.Messages = append(req.Messages, msg)
		}
	}

	if v, ok := raw["system"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &req.System); err != nil {
			return nil, shapeErr("system must be a string")
		}
	}

	if v, ok := raw["inferenceConfig"]; ok && !isNull(v) {
		cfg, err := decodeInferenceConfig(v)
		if err != nil {
			return nil, err
		}
		req.InferenceConfig = cfg
	}

	if v, ok := raw["type"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &req.Type); err != nil {
			return nil, shapeErr("Action 'type' must be a string")
		}
	}

	return req, nil
}

func decodeMessage(data json.RawMessage, index int) (Message, error) {
	var fields map[string]json.RawMessage
	if isNull(data) || json.Unmarshal(data, &fields) != nil {
		return Message{}, shapeErr("Message %d must be a dictionary", index)
	}

	var msg Message
	if v, ok := fields["role"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &msg.Role); err != nil {
			return Message{}, shapeErr("Message %d has invalid role: %s", index, string(v))
		}
	}

	v, ok := fields["content"]
	if !ok {
		return msg, nil
	}
	var items []json.RawMessage
	if isNull(v) || json.Unmarshal(v, &items) != nil {
		return Message{}, shapeErr("Message %d content must be a list", index)
	}
	msg.Content = make([]ContentBlock, 0, len(items))
	for j, item := range items {
		var block map[string]json.RawMessage
		if isNull(item) || json.Unmarshal(item, &block) != nil {
			return Message{}, shapeErr("Message %d content item %d must be a dictionary", index, j)
		}
		var cb ContentBlock
		if t, ok := block["text"]; ok {
			var text string
			if json.Unmarshal(t, &text) != nil || isNull(t) {
				return Message{}, shapeErr("Message %d text must be a string", index)
			}
			cb.Text = &text
		}
		msg.Content = append(msg.Content, cb)
	}
	return msg, nil
}

func decodeInferenceConfig(data json.RawMessage) (*InferenceConfig, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, shapeErr("inferenceConfig must be a dictionary")
	}
	cfg := &InferenceConfig{}
	if v, ok := fields["maxTokens"]; ok {
		var n int
		if isNull(v) || json.Unmarshal(v, &n) != nil {
			return nil, shapeErr("maxTokens must be a positive integer")
		}
		cfg.MaxTokens = &n
	}
	if v, ok := fields["temperature"]; ok && !isNull(v) {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, shapeErr("temperature must be a number")
		}
		cfg.Temperature = &f
	}
	if v, ok := fields["topP"]; ok && !isNull(v) {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, shapeErr("topP must be a number")
		}
		cfg.TopP = &f
	}
	return cfg, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
