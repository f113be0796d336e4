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

package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryType discriminates audit entries
type EntryType string

const (
	TypeAction        EntryType = "action"
	TypeBedrockCall   EntryType = "bedrock_call"
	TypeSecurityEvent EntryType = "security_event"
	TypeRateLimit     EntryType = "rate_limit"
)

// Severity of a security event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Entry is one audit record. Only the fields belonging to Type are
// serialized.
type Entry struct {
	ID        string
	Timestamp time.Time
	Type      EntryType
	AgentID   string

	// action
	Action  interface{}
	Allowed bool
	Reason  string

	// bedrock_call
	ModelID         string
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	CostEstimateUSD float64
	LatencyMs       *float64

	// security_event
	EventType string
	Severity  Severity
	Details   map[string]interface{}

	// rate_limit
	LimitType string
	Current   int
	Limit     int
}

func newEntry(typ EntryType, agentID string, now time.Time) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Timestamp: now.UTC(),
		Type:      typ,
		AgentID:   agentID,
	}
}

// Epoch returns the entry time as fractional Unix seconds
func (e Entry) Epoch() float64 {
	return float64(e.Timestamp.UnixNano()) / 1e9
}

type entryHeader struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Epoch     float64   `json:"epoch"`
	Type      EntryType `json:"type"`
	AgentID   string    `json:"agent_id"`
}

// MarshalJSON emits the common header plus the fields of the entry's type
func (e Entry) MarshalJSON() ([]byte, error) {
	h := entryHeader{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Epoch:     e.Epoch(),
		Type:      e.Type,
		AgentID:   e.AgentID,
	}

	switch e.Type {
	case TypeAction:
		return json.Marshal(struct {
			entryHeader
			Action  interface{} `json:"action"`
			Allowed bool        `json:"allowed"`
			Reason  string      `json:"reason"`
		}{h, e.Action, e.Allowed, e.Reason})
	case TypeBedrockCall:
		return json.Marshal(struct {
			entryHeader
			ModelID         string   `json:"model_id"`
			InputTokens     int      `json:"input_tokens"`
			OutputTokens    int      `json:"output_tokens"`
			TotalTokens     int      `json:"total_tokens"`
			CostEstimateUSD float64  `json:"cost_estimate_usd"`
			LatencyMs       *float64 `json:"latency_ms"`
		}{h, e.ModelID, e.InputTokens, e.OutputTokens, e.TotalTokens, e.CostEstimateUSD, e.LatencyMs})
	case TypeSecurityEvent:
		return json.Marshal(struct {
			entryHeader
			EventType string                 `json:"event_type"`
			Severity  Severity               `json:"severity"`
			Details   map[string]interface{} `json:"details"`
		}{h, e.EventType, e.Severity, e.Details})
	case TypeRateLimit:
		return json.Marshal(struct {
			entryHeader
			LimitType string `json:"limit_type"`
			Current   int    `json:"current"`
			Limit     int    `json:"limit"`
		}{h, e.LimitType, e.Current, e.Limit})
	default:
		return nil, fmt.Errorf("unknown audit entry type %q", e.Type)
	}
}

type wireEntry struct {
	ID              string                 `json:"id"`
	Timestamp       string                 `json:"timestamp"`
	Epoch           float64                `json:"epoch"`
	Type            EntryType              `json:"type"`
	AgentID         string                 `json:"agent_id"`
	Action          json.RawMessage        `json:"action"`
	Allowed         bool                   `json:"allowed"`
	Reason          string                 `json:"reason"`
	ModelID         string                 `json:"model_id"`
	InputTokens     int                    `json:"input_tokens"`
	OutputTokens    int                    `json:"output_tokens"`
	TotalTokens     int                    `json:"total_tokens"`
	CostEstimateUSD float64                `json:"cost_estimate_usd"`
	LatencyMs       *float64               `json:"latency_ms"`
	EventType       string                 `json:"event_type"`
	Severity        Severity               `json:"severity"`
	Details         map[string]interface{} `json:"details"`
	LimitType       string                 `json:"limit_type"`
	Current         int                    `json:"current"`
	Limit           int                    `json:"limit"`
}

// UnmarshalJSON restores an entry written by MarshalJSON. The action payload
// comes back as json.RawMessage.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		if w.Epoch == 0 {
			return fmt.Errorf("audit entry has no usable timestamp: %w", err)
		}
		sec := int64(w.Epoch)
		ts = time.Unix(sec, int64((w.Epoch-float64(sec))*1e9)).UTC()
	}

	*e = Entry{
		ID:              w.ID,
		Timestamp:       ts,
		Type:            w.Type,
		AgentID:         w.AgentID,
		Allowed:         w.Allowed,
		Reason:          w.Reason,
		ModelID:         w.ModelID,
		InputTokens:     w.InputTokens,
		OutputTokens:    w.OutputTokens,
		TotalTokens:     w.TotalTokens,
		CostEstimateUSD: w.CostEstimateUSD,
		LatencyMs:       w.LatencyMs,
		EventType:       w.EventType,
		Severity:        w.Severity,
		Details:         w.Details,
		LimitType:       w.LimitType,
		Current:         w.Current,
		Limit:           w.Limit,
	}
	if len(w.Action) > 0 && string(w.Action) != "null" {
		e.Action = w.Action
	}
	return nil
}
