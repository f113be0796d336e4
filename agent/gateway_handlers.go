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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"bedrockgate/agent/audit"
	"bedrockgate/agent/permissions"
)

const maxBodyBytes = 1 << 20

// Header names read by the gateway
const (
	HeaderAgentID  = "X-Agent-ID"
	HeaderAdminKey = "X-Admin-Key"
)

// ToolCallRequest is the body of POST /api/v1/tools/validate
type ToolCallRequest struct {
	AgentID string                 `json:"agent_id"`
	Tool    string                 `json:"tool"`
	Args    map[string]interface{} `json:"args"`
	Allowed []string               `json:"allowed"`
	Denied  []string               `json:"denied"`
}

// ToolCallResponse reports a tool-call verdict
type ToolCallResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// GatewayHandlers serves the gate over HTTP
type GatewayHandlers struct {
	gate     *Gate
	adminKey string
	queue    *audit.Queue
}

// NewGatewayHandlers returns handlers for gate. An empty adminKey leaves the
// admin routes open.
func NewGatewayHandlers(gate *Gate, adminKey string) *GatewayHandlers {
	return &GatewayHandlers{gate: gate, adminKey: adminKey}
}

// WithAuditQueue reports q's counters on /health
func (h *GatewayHandlers) WithAuditQueue(q *audit.Queue) *GatewayHandlers {
	h.queue = q
	return h
}

// Register adds every gateway route to r
func (h *GatewayHandlers) Register(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests/check", h.handleCheck).Methods("POST")
	api.HandleFunc("/usage", h.handleUsage).Methods("POST")
	api.HandleFunc("/tools/validate", h.handleToolValidate).Methods("POST")
	api.HandleFunc("/agents/{agent_id}/stats", h.handleAgentStats).Methods("GET")
	api.HandleFunc("/security/summary", h.handleSecuritySummary).Methods("GET")

	admin := api.NewRoute().Subrouter()
	admin.Use(h.requireAdmin)
	admin.HandleFunc("/agents", h.handleListAgents).Methods("GET")
	admin.HandleFunc("/agents/{agent_id}", h.handleGetProfile).Methods("GET")
	admin.HandleFunc("/agents/{agent_id}", h.handlePutProfile).Methods("PUT")
	admin.HandleFunc("/agents/{agent_id}", h.handleDeleteProfile).Methods("DELETE")
	admin.HandleFunc("/agents/{agent_id}/reset", h.handleResetAgent).Methods("POST")
	admin.HandleFunc("/audit/recent", h.handleRecentAudit).Methods("GET")

	log.Println("✅ Gateway endpoints registered under /api/v1")
}

func (h *GatewayHandlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminKey != "" {
			got := r.Header.Get(HeaderAdminKey)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminKey)) != 1 {
				sendGatewayError(w, "valid X-Admin-Key header required", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *GatewayHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.gate.Permissions().Degraded() {
		status = "degraded"
	}
	resp := map[string]interface{}{
		"status":       status,
		"service":      "bedrockgate",
		"timestamp":    time.Now().UTC(),
		"version":      "1.0.0",
		"audit_faults": h.gate.Audit().Faults(),
	}
	if h.queue != nil {
		resp["audit_queue"] = h.queue.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *GatewayHandlers) handleCheck(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get(HeaderAgentID)
	if agentID == "" {
		sendGatewayError(w, HeaderAgentID+" header required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		sendGatewayError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		sendGatewayError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d := h.gate.ProcessPayload(r.Context(), agentID, body)
	status := http.StatusOK
	if d.Stage == StageRateLimit && !d.Allowed {
		status = http.StatusTooManyRequests
		retry := int(math.Max(1, d.RetryAfterSeconds))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	writeJSON(w, status, d)
}

func (h *GatewayHandlers) handleUsage(w http.ResponseWriter, r *http.Request) {
	var report UsageReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&report); err != nil {
		sendGatewayError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if report.AgentID == "" {
		report.AgentID = r.Header.Get(HeaderAgentID)
	}

	receipt, err := h.gate.RecordUsage(r.Context(), report)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidUsage):
			sendGatewayError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrInvalidDecisionToken),
			errors.Is(err, ErrDecisionTokenReused),
			errors.Is(err, ErrDecisionTokenMismatch):
			sendGatewayError(w, err.Error(), http.StatusUnauthorized)
		default:
			log.Printf("❌ [Usage] Failed to record usage for %s: %v", report.AgentID, err)
			sendGatewayError(w, "Usage could not be recorded", http.StatusServiceUnavailable)
		}
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *GatewayHandlers) handleToolValidate(w http.ResponseWriter, r *http.Request) {
	var req ToolCallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendGatewayError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Tool == "" {
		sendGatewayError(w, "tool field is required", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		req.AgentID = r.Header.Get(HeaderAgentID)
	}

	resp := ToolCallResponse{Allowed: true, Reason: "Tool call allowed"}
	if err := h.gate.ValidateToolCall(r.Context(), req.AgentID, req.Tool, req.Args, req.Allowed, req.Denied); err != nil {
		resp = ToolCallResponse{Reason: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *GatewayHandlers) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	hours, ok := parseHours(w, r)
	if !ok {
		return
	}
	stats, err := h.gate.AgentStats(r.Context(), mux.Vars(r)["agent_id"], hours)
	if err != nil {
		log.Printf("❌ [Stats] %v", err)
		sendGatewayError(w, "Audit log unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *GatewayHandlers) handleSecuritySummary(w http.ResponseWriter, r *http.Request) {
	hours, ok := parseHours(w, r)
	if !ok {
		return
	}
	summary, err := h.gate.SecuritySummary(r.Context(), hours)
	if err != nil {
		log.Printf("❌ [Summary] %v", err)
		sendGatewayError(w, "Audit log unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *GatewayHandlers) handleListAgents(w http.ResponseWriter, r *http.Request) {
	store := h.gate.Permissions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":   store.ListAgents(),
		"degraded": store.Degraded(),
	})
}

func (h *GatewayHandlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	p, ok := h.gate.Permissions().Profile(agentID)
	if !ok {
		sendGatewayError(w, "profile not found: "+agentID, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *GatewayHandlers) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	var p permissions.Profile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		sendGatewayError(w, "Invalid profile body", http.StatusBadRequest)
		return
	}
	if err := h.gate.Permissions().Put(r.Context(), agentID, p); err != nil {
		sendStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "agent_id": agentID})
}

func (h *GatewayHandlers) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	if err := h.gate.Permissions().Remove(r.Context(), agentID); err != nil {
		sendStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "agent_id": agentID})
}

func (h *GatewayHandlers) handleResetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	h.gate.ResetAgent(r.Context(), agentID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "agent_id": agentID})
}

func (h *GatewayHandlers) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendGatewayError(w, "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = n
	}
	entries, err := h.gate.Audit().Recent(r.Context(), count)
	if err != nil {
		log.Printf("❌ [Audit] %v", err)
		sendGatewayError(w, "Audit log unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

func parseHours(w http.ResponseWriter, r *http.Request) (float64, bool) {
	v := r.URL.Query().Get("hours")
	if v == "" {
		return 24, true
	}
	hours, err := strconv.ParseFloat(v, 64)
	if err != nil || hours <= 0 {
		sendGatewayError(w, "hours must be a positive number", http.StatusBadRequest)
		return 0, false
	}
	return hours, true
}

func sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, permissions.ErrInvalidProfile),
		errors.Is(err, permissions.ErrDefaultProfileRequired):
		sendGatewayError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, permissions.ErrProfileNotFound):
		sendGatewayError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, permissions.ErrDegraded):
		sendGatewayError(w, err.Error(), http.StatusConflict)
	default:
		ref := uuid.New().String()
		log.Printf("❌ [Permissions] %s: %v", ref, err)
		sendGatewayError(w, "Failed to save permissions (ref "+ref+")", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendGatewayError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
