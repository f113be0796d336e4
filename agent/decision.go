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

package agent

import (
	"encoding/json"
	"time"
)

// Stage names the pipeline step that produced a decision
type Stage string

const (
	StageValidate  Stage = "validate"
	StagePermit    Stage = "permit"
	StageRateLimit Stage = "rate_limit"
	StageCommit    Stage = "commit"
)

// DecisionMetadata describes how a decision was reached
type DecisionMetadata struct {
	Validated        bool    `json:"validated"`
	AgentID          string  `json:"agent_id"`
	ModelID          string  `json:"model_id,omitempty"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Decision is the gate's answer to one request. On allow it carries a
// decision token that must accompany the usage report.
type Decision struct {
	Allowed  bool             `json:"allowed"`
	Reason   string           `json:"reason"`
	Stage    Stage            `json:"stage"`
	Metadata DecisionMetadata `json:"metadata"`

	DecisionToken     string     `json:"decision_token,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	RetryAfterSeconds float64    `json:"retry_after_seconds,omitempty"`
	AuditID           string     `json:"audit_id,omitempty"`

	// BedrockBody is the model-native InvokeModel body for an allowed
	// request. Omitted for model families without a body adapter.
	BedrockBody json.RawMessage `json:"bedrock_body,omitempty"`
}

// MaxReportedTokens caps each token count in a UsageReport. No Bedrock model
// produces or accepts anywhere near this many tokens in one call.
const MaxReportedTokens = 10_000_000

// UsageReport is what a caller sends after completing an approved call
type UsageReport struct {
	DecisionToken string   `json:"decision_token"`
	AgentID       string   `json:"agent_id"`
	ModelID       string   `json:"model_id"`
	InputTokens   int      `json:"input_tokens"`
	OutputTokens  int      `json:"output_tokens"`
	LatencyMs     *float64 `json:"latency_ms,omitempty"`
}

// UsageReceipt acknowledges a recorded usage report
type UsageReceipt struct {
	Success         bool    `json:"success"`
	AuditID         string  `json:"audit_id"`
	TotalTokens     int     `json:"total_tokens"`
	CostEstimateUSD float64 `json:"cost_estimate_usd"`
}
