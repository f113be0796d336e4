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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const auditSchema = `
	CREATE TABLE IF NOT EXISTS gate_audit_log (
		seq         BIGSERIAL PRIMARY KEY,
		id          UUID NOT NULL UNIQUE,
		agent_id    TEXT NOT NULL,
		type        TEXT NOT NULL,
		epoch       DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		payload     JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gate_audit_log_agent_epoch ON gate_audit_log (agent_id, epoch);
	CREATE INDEX IF NOT EXISTS idx_gate_audit_log_type_epoch ON gate_audit_log (type, epoch);
`

// PostgresSink stores entries as JSONB rows in gate_audit_log. Append order
// is the seq column.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink returns a sink on db. Call EnsureSchema before first use
// against a fresh database.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the table and indexes if they do not exist
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Append inserts e
func (p *PostgresSink) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO gate_audit_log (id, agent_id, type, epoch, recorded_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.AgentID, string(e.Type), e.Epoch(), e.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Query selects matching rows in append order
func (p *PostgresSink) Query(ctx context.Context, q Query) ([]Entry, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	argNum := 1

	if q.AgentID != "" {
		where = append(where, fmt.Sprintf("agent_id = $%d", argNum))
		args = append(args, q.AgentID)
		argNum++
	}

	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		where = append(where, fmt.Sprintf("type = ANY($%d)", argNum))
		args = append(args, pq.Array(types))
		argNum++
	}

	if !q.Since.IsZero() {
		where = append(where, fmt.Sprintf("recorded_at >= $%d", argNum))
		args = append(args, q.Since.UTC())
		argNum++
	}

	if !q.Until.IsZero() {
		where = append(where, fmt.Sprintf("recorded_at <= $%d", argNum))
		args = append(args, q.Until.UTC())
		argNum++
	}

	// Most recent rows first so LIMIT keeps the newest; reversed below.
	query := fmt.Sprintf(`
		SELECT payload
		FROM gate_audit_log
		WHERE %s
		ORDER BY seq DESC`, strings.Join(where, " AND "))
	if q.Limit > 0 {
		query += fmt.Sprintf("\n\t\tLIMIT $%d", argNum)
		args = append(args, q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit rows: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
