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

package usage

import (
	"fmt"
	"math"
	"sort"
)

// ModelPricing contains pricing for a specific Bedrock model
type ModelPricing struct {
	InputPer1M  float64 `json:"input"`  // USD per 1M input tokens
	OutputPer1M float64 `json:"output"` // USD per 1M output tokens
}

// DefaultPricing is applied to models that are not in the table
var DefaultPricing = ModelPricing{InputPer1M: 1.00, OutputPer1M: 5.00}

// modelPricing maps Bedrock model IDs to pricing
var modelPricing = map[string]ModelPricing{
	"global.amazon.nova-2-lite-v1:0":                   {0.30, 2.50},
	"global.anthropic.claude-sonnet-4-5-20250929-v1:0": {3.00, 15.00},
	"global.anthropic.claude-haiku-4-5-20251001-v1:0":  {1.00, 5.00},
	"us.amazon.nova-pro-v1:0":                          {0.80, 3.20},
	"us.deepseek.r1-v1:0":                              {0.55, 2.19},
	"us.meta.llama3-3-70b-instruct-v1:0":               {0.99, 0.99},
}

// EstimateCost returns the USD cost of a call rounded to 6 decimal places
func EstimateCost(modelID string, inputTokens, outputTokens int) float64 {
	pricing := PricingFor(modelID)
	cost := float64(inputTokens)/1_000_000*pricing.InputPer1M +
		float64(outputTokens)/1_000_000*pricing.OutputPer1M
	return roundTo(cost, 6)
}

// PricingFor returns the pricing for modelID, falling back to DefaultPricing
func PricingFor(modelID string) ModelPricing {
	if pricing, ok := modelPricing[modelID]; ok {
		return pricing
	}
	return DefaultPricing
}

// GetModelPricing returns the table entry for modelID and whether one exists
func GetModelPricing(modelID string) (ModelPricing, bool) {
	pricing, ok := modelPricing[modelID]
	return pricing, ok
}

// PricedModels lists the models with explicit pricing, sorted
func PricedModels() []string {
	models := make([]string, 0, len(modelPricing))
	for id := range modelPricing {
		models = append(models, id)
	}
	sort.Strings(models)
	return models
}

// FormatCostToDollars renders a USD amount with 6 decimals (e.g. "$0.001280")
func FormatCostToDollars(cost float64) string {
	return fmt.Sprintf("$%.6f", cost)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
