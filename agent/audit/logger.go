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
	"context"
	"math"
	"sync/atomic"
	"time"

	"bedrockgate/shared/logger"
)

// UsageStats aggregates an agent's audit history over a window
type UsageStats struct {
	TotalRequests   int     `json:"total_requests"`
	AllowedRequests int     `json:"allowed_requests"`
	DeniedRequests  int     `json:"denied_requests"`
	TotalTokens     int     `json:"total_tokens"`
	TotalCost       float64 `json:"total_cost"`
}

// Logger writes typed entries to a Sink. Writers never fail: sink errors are
// counted, passed to the fault hook and logged at ERROR.
type Logger struct {
	sink    Sink
	now     func() time.Time
	onFault func(error)
	faults  atomic.Uint64
	log     *logger.Logger
}

// LoggerOption configures a Logger
type LoggerOption func(*Logger)

// WithClock replaces time.Now
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// WithFaultHook registers fn to be called after every failed append
func WithFaultHook(fn func(error)) LoggerOption {
	return func(l *Logger) { l.onFault = fn }
}

// NewLogger returns a Logger writing to sink
func NewLogger(sink Sink, opts ...LoggerOption) *Logger {
	l := &Logger{
		sink: sink,
		now:  time.Now,
		log:  logger.New("audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Sink returns the underlying sink
func (l *Logger) Sink() Sink { return l.sink }

// Faults returns the number of failed appends so far
func (l *Logger) Faults() uint64 { return l.faults.Load() }

func (l *Logger) write(ctx context.Context, e Entry) Entry {
	if err := l.sink.Append(ctx, e); err != nil {
		l.faults.Add(1)
		if l.onFault != nil {
			l.onFault(err)
		}
		l.log.ErrorWithErr(e.AgentID, e.ID, "Audit write failed", err, map[string]interface{}{
			"entry_type": string(e.Type),
		})
	}
	return e
}

// LogAction records a gate decision. action is the request as received.
func (l *Logger) LogAction(ctx context.Context, agentID string, action interface{}, allowed bool, reason string) Entry {
	e := newEntry(TypeAction, agentID, l.now())
	e.Action = action
	e.Allowed = allowed
	e.Reason = reason
	return l.write(ctx, e)
}

// LogBedrockCall records reported model usage. latencyMs may be nil.
func (l *Logger) LogBedrockCall(ctx context.Context, agentID, modelID string, inputTokens, outputTokens int, cost float64, latencyMs *float64) Entry {
	e := newEntry(TypeBedrockCall, agentID, l.now())
	e.ModelID = modelID
	e.InputTokens = inputTokens
	e.OutputTokens = outputTokens
	e.TotalTokens = inputTokens + outputTokens
	e.CostEstimateUSD = cost
	e.LatencyMs = latencyMs
	return l.write(ctx, e)
}

// LogSecurityEvent records a security-relevant event
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType, agentID string, details map[string]interface{}, severity Severity) Entry {
	if severity == "" {
		severity = SeverityWarning
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	e := newEntry(TypeSecurityEvent, agentID, l.now())
	e.EventType = eventType
	e.Severity = severity
	e.Details = details
	return l.write(ctx, e)
}

// LogRateLimit records a request refused by the rate limiter
func (l *Logger) LogRateLimit(ctx context.Context, agentID, limitType string, current, limit int) Entry {
	e := newEntry(TypeRateLimit, agentID, l.now())
	e.LimitType = limitType
	e.Current = current
	e.Limit = limit
	return l.write(ctx, e)
}

func (l *Logger) since(hours float64) time.Time {
	return l.now().Add(-time.Duration(hours * float64(time.Hour)))
}

// AgentUsage aggregates the agent's action and bedrock_call entries from
// the last hours.
func (l *Logger) AgentUsage(ctx context.Context, agentID string, hours float64) (UsageStats, error) {
	entries, err := l.sink.Query(ctx, Query{
		AgentID: agentID,
		Types:   []EntryType{TypeAction, TypeBedrockCall},
		Since:   l.since(hours),
	})
	if err != nil {
		return UsageStats{}, err
	}

	var stats UsageStats
	for _, e := range entries {
		switch e.Type {
		case TypeAction:
			stats.TotalRequests++
			if e.Allowed {
				stats.AllowedRequests++
			} else {
				stats.DeniedRequests++
			}
		case TypeBedrockCall:
			stats.TotalTokens += e.TotalTokens
			stats.TotalCost += e.CostEstimateUSD
		}
	}
	stats.TotalCost = math.Round(stats.TotalCost*1e6) / 1e6
	return stats, nil
}

// DeniedActions returns denied action entries from the last hours, oldest
// first.
func (l *Logger) DeniedActions(ctx context.Context, hours float64) ([]Entry, error) {
	entries, err := l.sink.Query(ctx, Query{
		Types: []EntryType{TypeAction},
		Since: l.since(hours),
	})
	if err != nil {
		return nil, err
	}
	denied := make([]Entry, 0)
	for _, e := range entries {
		if !e.Allowed {
			denied = append(denied, e)
		}
	}
	return denied, nil
}

// Recent returns up to count entries, newest first
func (l *Logger) Recent(ctx context.Context, count int) ([]Entry, error) {
	if count <= 0 {
		count = 100
	}
	entries, err := l.sink.Query(ctx, Query{Limit: count})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
