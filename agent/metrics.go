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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the gate's Prometheus collectors
type Metrics struct {
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	tokens           *prometheus.CounterVec
	cost             *prometheus.CounterVec
	sinkFailures     prometheus.Counter
	usageRejections  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bedrockgate_decisions_total",
				Help: "Total number of gate decisions by pipeline stage and outcome",
			},
			[]string{"stage", "allowed"},
		),
		decisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bedrockgate_decision_duration_milliseconds",
				Help:    "Gate decision duration in milliseconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bedrockgate_llm_tokens_total",
				Help: "Total Bedrock tokens reported through usage reports",
			},
			[]string{"model", "type"},
		),
		cost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bedrockgate_llm_cost_usd_total",
				Help: "Estimated Bedrock cost in USD reported through usage reports",
			},
			[]string{"model"},
		),
		sinkFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bedrockgate_audit_sink_failures_total",
				Help: "Total number of audit entries the sink failed to store",
			},
		),
		usageRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bedrockgate_usage_rejections_total",
				Help: "Total number of usage reports rejected",
			},
			[]string{"reason"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.decisions,
			m.decisionDuration,
			m.tokens,
			m.cost,
			m.sinkFailures,
			m.usageRejections,
		)
	}
	return m
}

func (m *Metrics) observeDecision(d *Decision) {
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	m.decisions.WithLabelValues(string(d.Stage), allowed).Inc()
	m.decisionDuration.Observe(d.Metadata.ProcessingTimeMs)
}

func (m *Metrics) observeUsage(modelID string, input, output int, cost float64) {
	m.tokens.WithLabelValues(modelID, "input").Add(float64(input))
	m.tokens.WithLabelValues(modelID, "output").Add(float64(output))
	m.cost.WithLabelValues(modelID).Add(cost)
}

func (m *Metrics) observeSinkFailure(error) {
	m.sinkFailures.Inc()
}

func (m *Metrics) observeUsageRejection(reason string) {
	m.usageRejections.WithLabelValues(reason).Inc()
}
