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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"bedrockgate/agent/audit"
	"bedrockgate/agent/permissions"
	"bedrockgate/agent/ratelimit"
	"bedrockgate/agent/request"
	"bedrockgate/agent/validator"
	"bedrockgate/common/usage"
	"bedrockgate/shared/logger"
)

// Security event types written by the gate
const (
	EventValidationFailure  = "validation_failure"
	EventPermissionDenied   = "permission_denied"
	EventInvalidUsageReport = "invalid_usage_report"
	EventUsageExceedsGrant  = "usage_exceeds_grant"
	EventToolCallDenied     = "tool_call_denied"
	EventAgentReset         = "agent_reset"
)

// GateConfig holds the gate's policy knobs
type GateConfig struct {
	// RequireDecisionToken makes RecordUsage reject reports that do not
	// carry a token issued by ProcessRequest.
	RequireDecisionToken bool
	TokenSecret          []byte
	TokenTTL             time.Duration
}

// Dependencies are the collaborators a Gate runs against. Permissions and
// Audit are required; the rest default to in-process implementations.
type Dependencies struct {
	Permissions *permissions.Store
	Audit       *audit.Logger
	Limiter     *ratelimit.Limiter
	Tokens      TokenStore
	Metrics     *Metrics
}

// Gate runs every Bedrock request through validation, permission and rate
// limit checks and audits the outcome. It is safe for concurrent use.
type Gate struct {
	cfg         GateConfig
	permissions *permissions.Store
	audit       *audit.Logger
	limiter     *ratelimit.Limiter
	tokens      TokenStore
	issuer      *TokenIssuer
	metrics     *Metrics
	log         *logger.Logger
}

// NewGate wires a Gate from cfg and deps
func NewGate(cfg GateConfig, deps Dependencies) (*Gate, error) {
	if deps.Permissions == nil {
		return nil, errors.New("permission store is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("audit logger is required")
	}
	if len(cfg.TokenSecret) == 0 {
		return nil, errors.New("decision token secret is required")
	}

	g := &Gate{
		cfg:         cfg,
		permissions: deps.Permissions,
		audit:       deps.Audit,
		limiter:     deps.Limiter,
		tokens:      deps.Tokens,
		issuer:      NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL),
		metrics:     deps.Metrics,
		log:         logger.New("gate"),
	}
	if g.limiter == nil {
		g.limiter = ratelimit.NewLimiter()
	}
	if g.tokens == nil {
		g.tokens = NewMemoryTokenStore()
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	return g, nil
}

// Permissions returns the gate's permission store
func (g *Gate) Permissions() *permissions.Store { return g.permissions }

// Audit returns the gate's audit logger
func (g *Gate) Audit() *audit.Logger { return g.audit }

// ProcessPayload decodes a raw request body and runs it through
// ProcessRequest. A body that cannot be decoded is denied at the validate
// stage and audited with the raw payload.
func (g *Gate) ProcessPayload(ctx context.Context, agentID string, payload []byte) *Decision {
	start := time.Now()
	req, err := request.Decode(payload)
	if err != nil {
		var action interface{} = string(payload)
		if json.Valid(payload) {
			action = json.RawMessage(payload)
		}
		return g.denyValidation(ctx, agentID, action, "", validator.FromShapeError(err), start)
	}
	return g.process(ctx, agentID, req, start)
}

// ProcessRequest decides whether agentID may send req to Bedrock. Stages run
// in order and the first failure ends the pipeline. An allowed decision
// carries a single-use token to present to RecordUsage.
func (g *Gate) ProcessRequest(ctx context.Context, agentID string, req *request.Request) *Decision {
	return g.process(ctx, agentID, req, time.Now())
}

func (g *Gate) process(ctx context.Context, agentID string, req *request.Request, start time.Time) *Decision {
	if err := validator.Validate(req); err != nil {
		var action interface{}
		var requestType string
		if req != nil {
			action = req
			requestType = req.Type
		}
		return g.denyValidation(ctx, agentID, action, requestType, err, start)
	}

	modelID := req.ModelID
	actionType := req.ActionType()
	if err := g.permissions.Check(agentID, actionType, modelID, req.RequestedTokens()); err != nil {
		reason := err.Error()
		entry := g.audit.LogAction(ctx, agentID, req, false, "Permission denied: "+reason)
		g.audit.LogSecurityEvent(ctx, EventPermissionDenied, agentID, map[string]interface{}{
			"model":  modelID,
			"action": actionType,
			"reason": reason,
		}, audit.SeverityWarning)
		return g.finish(&Decision{
			Reason:  "Permission denied: " + reason,
			Stage:   StagePermit,
			AuditID: entry.ID,
		}, agentID, start)
	}

	cfg := g.permissions.RateLimit(agentID)
	res := g.limiter.Admit(agentID, cfg)
	if !res.Allowed {
		entry := g.audit.LogAction(ctx, agentID, req, false, "Rate limit: "+res.Reason)
		g.audit.LogRateLimit(ctx, agentID, res.LimitType, res.Current, res.Limit)
		d := &Decision{
			Reason:  "Rate limit exceeded: " + res.Reason,
			Stage:   StageRateLimit,
			AuditID: entry.ID,
		}
		if wait := g.limiter.WaitTime(agentID, cfg); wait > 0 {
			d.RetryAfterSeconds = math.Ceil(wait.Seconds())
		}
		return g.finish(d, agentID, start)
	}

	entry := g.audit.LogAction(ctx, agentID, req, true, "Allowed")
	d := &Decision{
		Allowed: true,
		Reason:  "Allowed",
		Stage:   StageCommit,
		AuditID: entry.ID,
		Metadata: DecisionMetadata{
			Validated: true,
			AgentID:   agentID,
			ModelID:   modelID,
		},
	}

	token, claims, err := g.issuer.Issue(agentID, modelID, req.RequestedTokens())
	if err != nil {
		// already admitted
		g.log.ErrorWithErr(agentID, entry.ID, "Failed to issue decision token", err, nil)
	} else {
		exp := claims.ExpiresAt.Time
		d.DecisionToken = token
		d.ExpiresAt = &exp
	}
	if in, err := req.InvokeModelInput(); err == nil {
		d.BedrockBody = in.Body
	}
	return g.finish(d, agentID, start)
}

func (g *Gate) denyValidation(ctx context.Context, agentID string, action interface{}, requestType string, err error, start time.Time) *Decision {
	reason := err.Error()
	entry := g.audit.LogAction(ctx, agentID, action, false, "Validation failed: "+reason)

	var reqType interface{}
	if requestType != "" {
		reqType = requestType
	}
	g.audit.LogSecurityEvent(ctx, EventValidationFailure, agentID, map[string]interface{}{
		"reason":       reason,
		"request_type": reqType,
	}, audit.SeverityWarning)

	return g.finish(&Decision{
		Reason:  "Validation failed: " + reason,
		Stage:   StageValidate,
		AuditID: entry.ID,
	}, agentID, start)
}

func (g *Gate) finish(d *Decision, agentID string, start time.Time) *Decision {
	d.Metadata.AgentID = agentID
	d.Metadata.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	g.metrics.observeDecision(d)
	if !d.Allowed {
		g.log.Info(agentID, d.AuditID, "Request denied", map[string]interface{}{
			"stage":  string(d.Stage),
			"reason": d.Reason,
		})
	}
	return d
}

// RecordUsage accounts the tokens and estimated cost of a completed Bedrock
// call. When decision tokens are required the report must carry an unused
// token issued for the same agent and model.
func (g *Gate) RecordUsage(ctx context.Context, report UsageReport) (*UsageReceipt, error) {
	if report.InputTokens < 0 || report.OutputTokens < 0 {
		g.metrics.observeUsageRejection("negative_tokens")
		return nil, fmt.Errorf("%w: token counts must not be negative", ErrInvalidUsage)
	}
	if report.InputTokens > MaxReportedTokens || report.OutputTokens > MaxReportedTokens {
		g.metrics.observeUsageRejection("tokens_out_of_range")
		return nil, fmt.Errorf("%w: token counts must not exceed %d", ErrInvalidUsage, MaxReportedTokens)
	}
	if report.AgentID == "" || report.ModelID == "" {
		g.metrics.observeUsageRejection("missing_fields")
		return nil, fmt.Errorf("%w: agent_id and model_id are required", ErrInvalidUsage)
	}

	var grant *DecisionClaims
	if g.cfg.RequireDecisionToken || report.DecisionToken != "" {
		claims, err := g.redeem(ctx, report)
		if err != nil {
			return nil, err
		}
		grant = claims
	}

	cost := usage.EstimateCost(report.ModelID, report.InputTokens, report.OutputTokens)
	total := report.InputTokens + report.OutputTokens

	g.limiter.RecordTokens(report.AgentID, total)
	entry := g.audit.LogBedrockCall(ctx, report.AgentID, report.ModelID,
		report.InputTokens, report.OutputTokens, cost, report.LatencyMs)
	g.metrics.observeUsage(report.ModelID, report.InputTokens, report.OutputTokens, cost)

	if grant != nil && grant.MaxTokens > 0 && report.OutputTokens > grant.MaxTokens {
		g.audit.LogSecurityEvent(ctx, EventUsageExceedsGrant, report.AgentID, map[string]interface{}{
			"model":         report.ModelID,
			"granted":       grant.MaxTokens,
			"output_tokens": report.OutputTokens,
			"audit_id":      entry.ID,
		}, audit.SeverityWarning)
	}

	return &UsageReceipt{
		Success:         true,
		AuditID:         entry.ID,
		TotalTokens:     total,
		CostEstimateUSD: cost,
	}, nil
}

// redeem verifies the report's decision token and marks it used
func (g *Gate) redeem(ctx context.Context, report UsageReport) (*DecisionClaims, error) {
	claims, err := g.issuer.Verify(report.DecisionToken)
	if err != nil {
		return nil, g.rejectUsage(ctx, report, "invalid_token", err)
	}
	if claims.Subject != report.AgentID || claims.ModelID != report.ModelID {
		err := fmt.Errorf("%w: token issued for agent %q model %q",
			ErrDecisionTokenMismatch, claims.Subject, claims.ModelID)
		return nil, g.rejectUsage(ctx, report, "mismatch", err)
	}

	first, err := g.tokens.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		g.log.ErrorWithErr(report.AgentID, claims.ID, "Decision token store unavailable", err, nil)
		g.metrics.observeUsageRejection("store_unavailable")
		return nil, err
	}
	if !first {
		err := fmt.Errorf("%w: %s", ErrDecisionTokenReused, claims.ID)
		return nil, g.rejectUsage(ctx, report, "reused", err)
	}
	return claims, nil
}

func (g *Gate) rejectUsage(ctx context.Context, report UsageReport, label string, err error) error {
	g.metrics.observeUsageRejection(label)
	g.audit.LogSecurityEvent(ctx, EventInvalidUsageReport, report.AgentID, map[string]interface{}{
		"model":         report.ModelID,
		"input_tokens":  report.InputTokens,
		"output_tokens": report.OutputTokens,
		"reason":        err.Error(),
	}, audit.SeverityError)
	return err
}

// ValidateToolCall checks a tool invocation against allow and deny lists and
// audits denials.
func (g *Gate) ValidateToolCall(ctx context.Context, agentID, toolName string, args map[string]interface{}, allowed, denied []string) error {
	err := validator.ValidateToolCall(toolName, args, allowed, denied)
	if err != nil {
		g.audit.LogSecurityEvent(ctx, EventToolCallDenied, agentID, map[string]interface{}{
			"tool":   toolName,
			"reason": err.Error(),
		}, audit.SeverityWarning)
	}
	return err
}

// ResetAgent clears the agent's rate-limit history
func (g *Gate) ResetAgent(ctx context.Context, agentID string) {
	g.limiter.Reset(agentID)
	g.audit.LogSecurityEvent(ctx, EventAgentReset, agentID, map[string]interface{}{
		"scope": "rate_limits",
	}, audit.SeverityInfo)
}
