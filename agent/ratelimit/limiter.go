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

// Package ratelimit tracks per-agent request and token throughput over
// exact sliding windows, plus a standalone burst-tolerant token bucket.
//
// All state is process-local.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"bedrockgate/agent/permissions"
)

// Window sizes
const (
	RequestWindow = time.Minute
	TokenWindow   = time.Hour
)

// Limit types reported in Result.LimitType
const (
	LimitRequests = "requests"
	LimitTokens   = "tokens"
)

// Result is the outcome of a rate-limit check
type Result struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	LimitType string `json:"limit_type,omitempty"`
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
}

// Usage is an agent's live consumption inside each window
type Usage struct {
	RequestsLastMinute int `json:"requests_last_minute"`
	TokensLastHour     int `json:"tokens_last_hour"`
}

type tokenRecord struct {
	at    time.Time
	count int
}

// agentEntry holds one agent's windows. Timestamps are appended in
// non-decreasing order, so pruning only ever drops a prefix.
type agentEntry struct {
	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenRecord
}

func (e *agentEntry) prune(now time.Time) {
	reqCutoff := now.Add(-RequestWindow)
	i := 0
	for i < len(e.requests) && !e.requests[i].After(reqCutoff) {
		i++
	}
	e.requests = e.requests[i:]

	tokCutoff := now.Add(-TokenWindow)
	j := 0
	for j < len(e.tokens) && !e.tokens[j].at.After(tokCutoff) {
		j++
	}
	e.tokens = e.tokens[j:]
}

// tokenSum saturates at math.MaxInt instead of wrapping
func (e *agentEntry) tokenSum() int {
	sum := 0
	for _, t := range e.tokens {
		if t.count > math.MaxInt-sum {
			return math.MaxInt
		}
		sum += t.count
	}
	return sum
}

func (e *agentEntry) check(cfg permissions.RateLimitConfig) Result {
	if n := len(e.requests); n >= cfg.RequestsPerMinute {
		return Result{
			Reason:    fmt.Sprintf("Rate limit exceeded: %d requests/minute", cfg.RequestsPerMinute),
			LimitType: LimitRequests,
			Current:   n,
			Limit:     cfg.RequestsPerMinute,
		}
	}
	if sum := e.tokenSum(); sum >= cfg.TokensPerHour {
		return Result{
			Reason:    fmt.Sprintf("Token limit exceeded: %d tokens/hour", cfg.TokensPerHour),
			LimitType: LimitTokens,
			Current:   sum,
			Limit:     cfg.TokensPerHour,
		}
	}
	return Result{
		Allowed:   true,
		Reason:    "Within limits",
		LimitType: LimitRequests,
		Current:   len(e.requests),
		Limit:     cfg.RequestsPerMinute,
	}
}

// Limiter is a per-agent sliding-window rate limiter. The agent table lock
// is only held to find or create an entry; each entry has its own mutex so
// different agents never contend.
type Limiter struct {
	mu     sync.RWMutex
	agents map[string]*agentEntry
	now    func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter returns an empty limiter
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		agents: make(map[string]*agentEntry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) entry(agentID string) *agentEntry {
	l.mu.RLock()
	e, ok := l.agents[agentID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.agents[agentID]; !ok {
		e = &agentEntry{}
		l.agents[agentID] = e
	}
	return e
}

func normalize(cfg permissions.RateLimitConfig) permissions.RateLimitConfig {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = permissions.DefaultRateLimit.RequestsPerMinute
	}
	if cfg.TokensPerHour <= 0 {
		cfg.TokensPerHour = permissions.DefaultRateLimit.TokensPerHour
	}
	return cfg
}

// Check reports whether agentID is within cfg. It prunes expired entries
// but never records anything.
func (l *Limiter) Check(agentID string, cfg permissions.RateLimitConfig) Result {
	cfg = normalize(cfg)
	e := l.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prune(l.now())
	return e.check(cfg)
}

// Admit checks agentID against cfg and, when allowed, records the request,
// all under the agent's lock. Concurrent callers for one agent can never
// overshoot RequestsPerMinute.
func (l *Limiter) Admit(agentID string, cfg permissions.RateLimitConfig) Result {
	cfg = normalize(cfg)
	e := l.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	e.prune(now)
	res := e.check(cfg)
	if res.Allowed {
		e.requests = append(e.requests, now)
		res.Current = len(e.requests)
	}
	return res
}

// RecordRequest appends a request at the current instant
func (l *Limiter) RecordRequest(agentID string) {
	e := l.entry(agentID)
	e.mu.Lock()
	e.requests = append(e.requests, l.now())
	e.mu.Unlock()
}

// RecordTokens appends a token count at the current instant. Non-positive
// counts are ignored.
func (l *Limiter) RecordTokens(agentID string, count int) {
	if count <= 0 {
		return
	}
	e := l.entry(agentID)
	e.mu.Lock()
	e.tokens = append(e.tokens, tokenRecord{at: l.now(), count: count})
	e.mu.Unlock()
}

// Usage returns the agent's consumption inside each window
func (l *Limiter) Usage(agentID string) Usage {
	l.mu.RLock()
	e, ok := l.agents[agentID]
	l.mu.RUnlock()
	if !ok {
		return Usage{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.prune(l.now())
	return Usage{RequestsLastMinute: len(e.requests), TokensLastHour: e.tokenSum()}
}

// Reset clears the agent's history
func (l *Limiter) Reset(agentID string) {
	l.mu.RLock()
	e, ok := l.agents[agentID]
	l.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.requests = nil
	e.tokens = nil
	e.mu.Unlock()
}

// WaitTime returns how long until the request window has room: zero when it
// already does, otherwise the time until the oldest request expires.
func (l *Limiter) WaitTime(agentID string, cfg permissions.RateLimitConfig) time.Duration {
	cfg = normalize(cfg)
	l.mu.RLock()
	e, ok := l.agents[agentID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := l.now()
	e.prune(now)
	if len(e.requests) < cfg.RequestsPerMinute {
		return 0
	}
	wait := e.requests[0].Add(RequestWindow).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
