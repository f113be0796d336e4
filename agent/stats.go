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
	"context"
	"fmt"

	"bedrockgate/agent/audit"
	"bedrockgate/agent/permissions"
)

// recentDeniedLimit caps SecuritySummary.RecentDenied
const recentDeniedLimit = 10

// LimitUsage is live consumption against one configured limit
type LimitUsage struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
}

// RateLimitStatus pairs both windows
type RateLimitStatus struct {
	Requests LimitUsage `json:"requests"`
	Tokens   LimitUsage `json:"tokens"`
}

// AgentStats is an agent's audited usage plus its live limiter state
type AgentStats struct {
	AgentID     string              `json:"agent_id"`
	PeriodHours float64             `json:"period_hours"`
	Usage       audit.UsageStats    `json:"usage"`
	RateLimits  RateLimitStatus     `json:"rate_limits"`
	Permissions permissions.Profile `json:"permissions"`
}

// SecuritySummary reports denied actions across all agents
type SecuritySummary struct {
	PeriodHours        float64        `json:"period_hours"`
	TotalDeniedActions int            `json:"total_denied_actions"`
	DeniedByAgent      map[string]int `json:"denied_by_agent"`
	RecentDenied       []audit.Entry  `json:"recent_denied"`
}

// AgentStats aggregates the agent's audit history over the last hours
func (g *Gate) AgentStats(ctx context.Context, agentID string, hours float64) (*AgentStats, error) {
	hours = normalizeHours(hours)
	stats, err := g.audit.AgentUsage(ctx, agentID, hours)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent usage: %w", err)
	}

	live := g.limiter.Usage(agentID)
	cfg := g.permissions.RateLimit(agentID)
	return &AgentStats{
		AgentID:     agentID,
		PeriodHours: hours,
		Usage:       stats,
		RateLimits: RateLimitStatus{
			Requests: LimitUsage{Current: live.RequestsLastMinute, Limit: cfg.RequestsPerMinute},
			Tokens:   LimitUsage{Current: live.TokensLastHour, Limit: cfg.TokensPerHour},
		},
		Permissions: g.permissions.Resolve(agentID),
	}, nil
}

// SecuritySummary counts denied actions over the last hours. RecentDenied
// holds the newest denials first.
func (g *Gate) SecuritySummary(ctx context.Context, hours float64) (*SecuritySummary, error) {
	hours = normalizeHours(hours)
	denied, err := g.audit.DeniedActions(ctx, hours)
	if err != nil {
		return nil, fmt.Errorf("failed to read denied actions: %w", err)
	}

	byAgent := make(map[string]int)
	for _, e := range denied {
		byAgent[e.AgentID]++
	}

	n := len(denied)
	if n > recentDeniedLimit {
		n = recentDeniedLimit
	}
	recent := make([]audit.Entry, 0, n)
	for i := len(denied) - 1; i >= 0 && len(recent) < n; i-- {
		recent = append(recent, denied[i])
	}

	return &SecuritySummary{
		PeriodHours:        hours,
		TotalDeniedActions: len(denied),
		DeniedByAgent:      byAgent,
		RecentDenied:       recent,
	}, nil
}

func normalizeHours(hours float64) float64 {
	if hours <= 0 {
		return 24
	}
	return hours
}
