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
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedrockgate/agent/audit"
	"bedrockgate/agent/permissions"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.observeSinkFailure(errors.New("x"))
	m.observeDecision(&Decision{Allowed: true, Stage: StageCommit})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "bedrockgate_decisions_total")
	assert.Contains(t, names, "bedrockgate_decision_duration_milliseconds")
	assert.Contains(t, names, "bedrockgate_audit_sink_failures_total")

	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration")
}

func TestMetrics_GateObservations(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	sink := audit.NewMemorySink()
	g, err := NewGate(GateConfig{RequireDecisionToken: true, TokenSecret: testSecret}, Dependencies{
		Permissions: permissions.NewStore(context.Background(), permissions.NewMemorySource(scenarioProfiles())),
		Audit:       audit.NewLogger(sink, audit.WithFaultHook(m.observeSinkFailure)),
		Metrics:     m,
	})
	require.NoError(t, err)
	ctx := context.Background()

	d := g.ProcessRequest(ctx, "agent-1", chatRequest(novaLite, "hi", 100))
	require.True(t, d.Allowed)
	g.ProcessRequest(ctx, "agent-1", chatRequest("nope", "hi", 100))
	g.ProcessRequest(ctx, "agent-1", chatRequest(novaLite, "hi", 100))
	g.ProcessRequest(ctx, "agent-1", chatRequest(novaLite, "hi", 100))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("commit", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("permit", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("rate_limit", "false")))

	_, err = g.RecordUsage(ctx, UsageReport{
		DecisionToken: d.DecisionToken,
		AgentID:       "agent-1",
		ModelID:       novaLite,
		InputTokens:   100,
		OutputTokens:  500,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, testutil.ToFloat64(m.tokens.WithLabelValues(novaLite, "input")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.tokens.WithLabelValues(novaLite, "output")))
	assert.InDelta(t, 0.00128, testutil.ToFloat64(m.cost.WithLabelValues(novaLite)), 1e-9)

	_, err = g.RecordUsage(ctx, UsageReport{
		DecisionToken: d.DecisionToken,
		AgentID:       "agent-1",
		ModelID:       novaLite,
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.usageRejections.WithLabelValues("reused")))

	_, err = g.RecordUsage(ctx, UsageReport{
		AgentID:      "agent-1",
		ModelID:      novaLite,
		InputTokens:  math.MaxInt,
		OutputTokens: 1,
	})
	require.ErrorIs(t, err, ErrInvalidUsage)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.usageRejections.WithLabelValues("tokens_out_of_range")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sinkFailures))
}

func TestMetrics_SinkFailureHook(t *testing.T) {
	m := NewMetrics(nil)
	logger := audit.NewLogger(failingSink{}, audit.WithFaultHook(m.observeSinkFailure))
	logger.LogAction(context.Background(), "agent-1", nil, true, "Allowed")
	logger.LogRateLimit(context.Background(), "agent-1", "requests", 1, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sinkFailures))
}

func TestMetrics_QueueFaultHook(t *testing.T) {
	m := NewMetrics(nil)
	q, err := audit.NewQueue(failingSink{}, audit.QueueConfig{
		Workers:      1,
		FallbackPath: filepath.Join(t.TempDir(), "fallback.jsonl"),
		RetryDelay:   time.Millisecond,
		OnFault:      m.observeSinkFailure,
	})
	require.NoError(t, err)
	logger := audit.NewLogger(q, audit.WithFaultHook(m.observeSinkFailure))

	logger.LogAction(context.Background(), "agent-1", nil, true, "Allowed")
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkFailures))
	assert.Equal(t, uint64(1), q.Stats().Fallback)
}
