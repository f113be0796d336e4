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
	"time"
)

// Sink is an append-only store of audit entries
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
}

// Query selects entries. Zero-valued fields do not filter. Results are in
// append order; with Limit > 0 only the most recent Limit matches are kept.
type Query struct {
	AgentID string
	Types   []EntryType
	Since   time.Time // inclusive
	Until   time.Time // inclusive
	Limit   int
}

// Matches reports whether e satisfies every filter except Limit
func (q Query) Matches(e Entry) bool {
	if q.AgentID != "" && e.AgentID != q.AgentID {
		return false
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

func (q Query) trim(entries []Entry) []Entry {
	if q.Limit > 0 && len(entries) > q.Limit {
		return entries[len(entries)-q.Limit:]
	}
	return entries
}
