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
	"sync"
)

// MemorySink keeps entries in process
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemorySink returns an empty sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores e
func (m *MemorySink) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Query returns matching entries in append order
func (m *MemorySink) Query(ctx context.Context, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range m.entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	return q.trim(out), nil
}

// Entries returns a copy of everything appended so far
func (m *MemorySink) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of stored entries
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
