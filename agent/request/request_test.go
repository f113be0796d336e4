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

package request

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Valid(t *testing.T) {
	payload := `{
		"model_id": "global.amazon.nova-2-lite-v1:0",
		"messages": [{"role": "user", "content": [{"text": "Hello"}, {"image": {}}]}],
		"system": "be brief",
		"inferenceConfig": {"maxTokens": 500, "temperature": 0.2},
		"type": "research"
	}`

	req, err := Decode([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "global.amazon.nova-2-lite-v1:0", req.ModelID)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	require.NotNil(t, req.Messages[0].Content[0].Text)
	assert.Equal(t, "Hello", *req.Messages[0].Content[0].Text)
	assert.Nil(t, req.Messages[0].Content[1].Text)
	assert.Equal(t, "be brief", req.System)
	assert.Equal(t, 500, req.RequestedTokens())
	assert.Equal(t, "research", req.ActionType())
}

func TestDecode_Defaults(t *testing.T) {
	req, err := Decode([]byte(`{"model_id": "m"}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultActionType, req.ActionType())
	assert.Equal(t, 0, req.RequestedTokens())
	assert.Empty(t, req.Messages)
}

func TestDecode_ShapeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"not an object", `[1,2]`, "Action must be a dictionary"},
		{"invalid json", `{`, "Action must be a dictionary"},
		{"messages not list", `{"model_id":"m","messages":"hi"}`, "messages must be a list"},
		{"messages null", `{"model_id":"m","messages":null}`, "messages must be a list"},
		{"message not object", `{"model_id":"m","messages":["hi"]}`, "Message 0 must be a dictionary"},
		{"content not list", `{"model_id":"m","messages":[{"role":"user","content":"hi"}]}`, "Message 0 content must be a list"},
		{"content item not object", `{"model_id":"m","messages":[{"role":"user","content":[1]}]}`, "Message 0 content item 0 must be a dictionary"},
		{"text not string", `{"model_id":"m","messages":[{"role":"user","content":[{"text":"ok"}]},{"role":"user","content":[{"text":7}]}]}`, "Message 1 text must be a string"},
		{"maxTokens fractional", `{"model_id":"m","inferenceConfig":{"maxTokens":1.5}}`, "maxTokens must be a positive integer"},
		{"maxTokens string", `{"model_id":"m","inferenceConfig":{"maxTokens":"10"}}`, "maxTokens must be a positive integer"},
		{"type not string", `{"model_id":"m","type":5}`, "Action 'type' must be a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.Nil(t, req)
			assert.True(t, errors.Is(err, ErrMalformed))

			var shape *ShapeError
			require.True(t, errors.As(err, &shape))
			assert.Equal(t, tt.reason, shape.Reason)
		})
	}
}

func TestDecode_NegativeMaxTokensIsLeftToValidation(t *testing.T) {
	req, err := Decode([]byte(`{"model_id":"m","inferenceConfig":{"maxTokens":-1}}`))
	require.NoError(t, err)
	assert.Equal(t, -1, req.RequestedTokens())
}

func TestModelFamily(t *testing.T) {
	tests := []struct {
		modelID string
		want    string
	}{
		{"anthropic.claude-haiku-4-5-20251001-v1:0", "anthropic"},
		{"global.anthropic.claude-sonnet-4-5-20250929-v1:0", "anthropic"},
		{"global.amazon.nova-2-lite-v1:0", "amazon"},
		{"us.amazon.nova-pro-v1:0", "amazon"},
		{"us.deepseek.r1-v1:0", "deepseek"},
		{"us.meta.llama3-3-70b-instruct-v1:0", "meta"},
		{"openai.gpt-4", ""},
		{"nodots", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			assert.Equal(t, tt.want, ModelFamily(tt.modelID))
		})
	}
}

func TestInvokeModelInput_Nova(t *testing.T) {
	req := &Request{
		ModelID:         "global.amazon.nova-2-lite-v1:0",
		Messages:        []Message{UserMessage("Hello")},
		System:          "be brief",
		InferenceConfig: MaxTokens(200),
	}

	in, err := req.InvokeModelInput()
	require.NoError(t, err)
	assert.Equal(t, "global.amazon.nova-2-lite-v1:0", *in.ModelId)
	assert.Equal(t, "application/json", *in.ContentType)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(in.Body, &body))
	assert.Equal(t, "messages-v1", body["schemaVersion"])
	assert.Equal(t, float64(200), body["inferenceConfig"].(map[string]interface{})["maxTokens"])
	system := body["system"].([]interface{})
	assert.Equal(t, "be brief", system[0].(map[string]interface{})["text"])
}

func TestInvokeModelInput_Anthropic(t *testing.T) {
	req := &Request{
		ModelID:  "global.anthropic.claude-haiku-4-5-20251001-v1:0",
		Messages: []Message{UserMessage("Hi")},
	}

	in, err := req.InvokeModelInput()
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(in.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.Equal(t, float64(defaultMaxTokens), body["max_tokens"])
	_, hasSystem := body["system"]
	assert.False(t, hasSystem)
}

func TestInvokeModelInput_PromptFamilies(t *testing.T) {
	req := &Request{
		ModelID:  "us.meta.llama3-3-70b-instruct-v1:0",
		Messages: []Message{UserMessage("Hi")},
	}
	in, err := req.InvokeModelInput()
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(in.Body, &body))
	assert.Equal(t, "user: Hi\nassistant:", body["prompt"])
	assert.Contains(t, body, "max_gen_len")
}

func TestInvokeModelInput_UnsupportedFamily(t *testing.T) {
	req := &Request{ModelID: "openai.gpt-4"}
	_, err := req.InvokeModelInput()
	assert.Error(t, err)
}
