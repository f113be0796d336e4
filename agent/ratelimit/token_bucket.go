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

package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket allows bursts up to capacity while refilling continuously at
// refillRate tokens per second. It starts full.
type TokenBucket struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewTokenBucket returns a full bucket
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(refillRate), capacity),
		now:     now,
	}
}

// Consume removes n tokens if available and reports whether it did
func (b *TokenBucket) Consume(n int) bool {
	return b.limiter.AllowN(b.now(), n)
}

// Tokens returns the current level after refill
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

// Capacity returns the bucket size
func (b *TokenBucket) Capacity() int {
	return b.limiter.Burst()
}
