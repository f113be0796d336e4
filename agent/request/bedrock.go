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
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// defaultMaxTokens is sent to model families that require max_tokens when
// the request leaves it unset.
const defaultMaxTokens = 4096

var inferenceProfilePrefixes = []string{"global", "us", "eu", "apac"}

var supportedFamilies = []string{"anthropic", "amazon", "meta", "mistral", "deepseek"}

// ModelFamily returns the provider segment of a Bedrock model id, skipping
// a regional inference-profile prefix. Unknown providers yield "".
//
//	anthropic.claude-haiku-4-5-20251001-v1:0    -> anthropic
//	global.amazon.nova-2-lite-v1:0              -> amazon
//	us.deepseek.r1-v1:0                         -> deepseek
func ModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	family := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if family == prefix {
			family = segments[1]
			break
		}
	}
	for _, supported := range supportedFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}

// InvokeModelInput converts an approved request into the Bedrock runtime
// call a forwarding caller would make. The gate itself never sends it.
func (r *Request) InvokeModelInput() (*bedrockruntime.InvokeModelInput, error) {
	body, err := r.bedrockBody()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.ModelID),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	}, nil
}

func (r *Request) bedrockBody() (map[string]interface{}, error) {
	maxTokens := r.RequestedTokens()
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	switch family := ModelFamily(r.ModelID); family {
	case "anthropic":
		messages := make([]map[string]interface{}, 0, len(r.Messages))
		for _, m := range r.Messages {
			blocks := make([]map[string]string, 0, len(m.Content))
			for _, c := range m.Content {
				if c.Text != nil {
					blocks = append(blocks, map[string]string{"type": "text", "text": *c.Text})
				}
			}
			messages = append(messages, map[string]interface{}{"role": m.Role, "content": blocks})
		}
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"messages":          messages,
		}
		if r.System != "" {
			body["system"] = r.System
		}
		r.applySampling(body, "temperature", "top_p")
		return body, nil

	case "amazon":
		messages := make([]map[string]interface{}, 0, len(r.Messages))
		for _, m := range r.Messages {
			blocks := make([]map[string]string, 0, len(m.Content))
			for _, c := range m.Content {
				if c.Text != nil {
					blocks = append(blocks, map[string]string{"text": *c.Text})
				}
			}
			messages = append(messages, map[string]interface{}{"role": m.Role, "content": blocks})
		}
		inference := map[string]interface{}{"maxTokens": maxTokens}
		r.applySampling(inference, "temperature", "topP")
		body := map[string]interface{}{
			"schemaVersion":   "messages-v1",
			"messages":        messages,
			"inferenceConfig": inference,
		}
		if r.System != "" {
			body["system"] = []map[string]string{{"text": r.System}}
		}
		return body, nil

	case "meta":
		body := map[string]interface{}{
			"prompt":      r.flatPrompt(),
			"max_gen_len": maxTokens,
		}
		r.applySampling(body, "temperature", "top_p")
		return body, nil

	case "mistral", "deepseek":
		body := map[string]interface{}{
			"prompt":     r.flatPrompt(),
			"max_tokens": maxTokens,
		}
		r.applySampling(body, "temperature", "top_p")
		return body, nil

	default:
		return nil, fmt.Errorf("unsupported model family for %q", r.ModelID)
	}
}

func (r *Request) applySampling(dst map[string]interface{}, temperatureKey, topPKey string) {
	if r.InferenceConfig == nil {
		return
	}
	if r.InferenceConfig.Temperature != nil {
		dst[temperatureKey] = *r.InferenceConfig.Temperature
	}
	if r.InferenceConfig.TopP != nil {
		dst[topPKey] = *r.InferenceConfig.TopP
	}
}

// flatPrompt renders the conversation as plain text for prompt-style models
func (r *Request) flatPrompt() string {
	var b strings.Builder
	if r.System != "" {
		b.WriteString(r.System)
		b.WriteString("\n\n")
	}
	for _, m := range r.Messages {
		for _, c := range m.Content {
			if c.Text == nil {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", m.Role, *c.Text)
		}
	}
	b.WriteString("assistant:")
	return b.String()
}
