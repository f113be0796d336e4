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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenSink struct{}

func (brokenSink) Append(ctx context.Context, e Entry) error { return errors.New("disk full") }

func (brokenSink) Query(ctx context.Context, q Query) ([]Entry, error) {
	return nil, errors.New("disk full")
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestLogger_TypedWriters(t *testing.T) {
	sink := NewMemorySink()
	c := &clock{t: testTime}
	l := NewLogger(sink, WithClock(c.now))
	ctx := context.Background()

	a := l.LogAction(ctx, "agent-1", map[string]interface{}{"model_id": "m"}, false, "Permission denied: x")
	latency := 12.0
	b := l.LogBedrockCall(ctx, "agent-1", "m", 100, 50, 0.001, &latency)
	s := l.LogSecurityEvent(ctx, "permission_denied", "agent-1", nil, "")
	r := l.LogRateLimit(ctx, "agent-1", "requests", 10, 10)

	entries := sink.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, []string{a.ID, b.ID, s.ID, r.ID}, []string{entries[0].ID, entries[1].ID, entries[2].ID, entries[3].ID})

	assert.Equal(t, TypeAction, entries[0].Type)
	assert.False(t, entries[0].Allowed)
	assert.Equal(t, 150, entries[1].TotalTokens)
	assert.Equal(t, SeverityWarning, entries[2].Severity)
	assert.NotNil(t, entries[2].Details)
	assert.Equal(t, 10, entries[3].Limit)
	assert.True(t, entries[0].Timestamp.Equal(testTime))
	assert.Equal(t, uint64(0), l.Faults())
}

func TestLogger_SinkFaultIsCountedNotReturned(t *testing.T) {
	var hooked []error
	l := NewLogger(brokenSink{}, WithFaultHook(func(err error) { hooked = append(hooked, err) }))

	e := l.LogAction(context.Background(), "a", nil, true, "Allowed")
	assert.NotEmpty(t, e.ID)
	l.LogSecurityEvent(context.Background(), "x", "a", nil, SeverityError)

	assert.Equal(t, uint64(2), l.Faults())
	assert.Len(t, hooked, 2)
}

func TestLogger_AgentUsage(t *testing.T) {
	sink := NewMemorySink()
	c := &clock{t: testTime.Add(-30 * time.Hour)}
	l := NewLogger(sink, WithClock(c.now))
	ctx := context.Background()

	// Outside the 24h window.
	l.LogAction(ctx, "a", nil, true, "Allowed")
	l.LogBedrockCall(ctx, "a", "m", 1000, 1000, 1, nil)

	c.t = testTime
	l.LogAction(ctx, "a", nil, true, "Allowed")
	l.LogAction(ctx, "a", nil, false, "Rate limit: x")
	l.LogAction(ctx, "b", nil, true, "Allowed")
	l.LogBedrockCall(ctx, "a", "m", 100, 500, 0.00128, nil)
	l.LogBedrockCall(ctx, "a", "m", 10, 10, 0.000001, nil)
	l.LogSecurityEvent(ctx, "x", "a", nil, SeverityInfo)

	stats, err := l.AgentUsage(ctx, "a", 24)
	require.NoError(t, err)
	assert.Equal(t, UsageStats{
		TotalRequests:   2,
		AllowedRequests: 1,
		DeniedRequests:  1,
		TotalTokens:     620,
		TotalCost:       0.001281,
	}, stats)

	stats, err = l.AgentUsage(ctx, "nobody", 24)
	require.NoError(t, err)
	assert.Equal(t, UsageStats{}, stats)
}

func TestLogger_DeniedActionsAndRecent(t *testing.T) {
	sink := NewMemorySink()
	c := &clock{t: testTime}
	l := NewLogger(sink, WithClock(c.now))
	ctx := context.Background()

	first := l.LogAction(ctx, "a", nil, false, "Validation failed: x")
	l.LogAction(ctx, "b", nil, true, "Allowed")
	c.t = c.t.Add(time.Second)
	second := l.LogAction(ctx, "b", nil, false, "Permission denied: y")
	last := l.LogRateLimit(ctx, "b", "requests", 1, 1)

	denied, err := l.DeniedActions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, denied, 2)
	assert.Equal(t, first.ID, denied[0].ID)
	assert.Equal(t, second.ID, denied[1].ID)

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, last.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)
}

func TestLogger_QueryErrors(t *testing.T) {
	l := NewLogger(brokenSink{})
	_, err := l.AgentUsage(context.Background(), "a", 24)
	assert.Error(t, err)
	_, err = l.DeniedActions(context.Background(), 24)
	assert.Error(t, err)
	_, err = l.Recent(context.Background(), 0)
	assert.Error(t, err)
}
