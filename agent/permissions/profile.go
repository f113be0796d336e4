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

package permissions

import (
	"errors"
	"fmt"
)

// DefaultAgentID names the mandatory fallback profile
const DefaultAgentID = "default"

// Model ids referenced by the built-in profiles
const (
	ModelNova2Lite = "global.amazon.nova-2-lite-v1:0"
	ModelSonnet45  = "global.anthropic.claude-sonnet-4-5-20250929-v1:0"
	ModelNovaPro   = "us.amazon.nova-pro-v1:0"
)

// ErrInvalidProfile is returned by Put for a profile that fails Validate
var ErrInvalidProfile = errors.New("invalid permission profile")

// RateLimitConfig bounds an agent's request and token throughput
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	TokensPerHour     int `json:"tokens_per_hour" yaml:"tokens_per_hour"`
}

// DefaultRateLimit applies to profiles that carry no rate_limit block
var DefaultRateLimit = RateLimitConfig{RequestsPerMinute: 10, TokensPerHour: 100000}

// Profile is the set of grants for one agent
type Profile struct {
	AllowedModels  []string        `json:"allowed_models" yaml:"allowed_models"`
	MaxTokens      int             `json:"max_tokens" yaml:"max_tokens"`
	AllowedActions []string        `json:"allowed_actions" yaml:"allowed_actions"`
	RateLimit      RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Sandbox is passed through to callers and never interpreted here.
	Sandbox map[string]interface{} `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
}

// Validate checks the numeric bounds of a profile
func (p Profile) Validate() error {
	if p.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must be >= 0", ErrInvalidProfile)
	}
	if p.RateLimit.RequestsPerMinute < 0 || p.RateLimit.TokensPerHour < 0 {
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalidProfile)
	}
	return nil
}

// AllowsModel reports exact membership of modelID in allowed_models
func (p Profile) AllowsModel(modelID string) bool {
	return contains(p.AllowedModels, modelID)
}

// AllowsAction reports exact membership of action in allowed_actions
func (p Profile) AllowsAction(action string) bool {
	return contains(p.AllowedActions, action)
}

// EffectiveRateLimit returns the profile's limits with unset values replaced
// by DefaultRateLimit.
func (p Profile) EffectiveRateLimit() RateLimitConfig {
	cfg := p.RateLimit
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRateLimit.RequestsPerMinute
	}
	if cfg.TokensPerHour <= 0 {
		cfg.TokensPerHour = DefaultRateLimit.TokensPerHour
	}
	return cfg
}

// Clone returns a deep copy
func (p Profile) Clone() Profile {
	out := p
	out.AllowedModels = append([]string(nil), p.AllowedModels...)
	out.AllowedActions = append([]string(nil), p.AllowedActions...)
	out.Sandbox = cloneMap(p.Sandbox)
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DefaultSandbox is returned for profiles without a sandbox block
func DefaultSandbox() map[string]interface{} {
	return map[string]interface{}{"mode": "all", "scope": "session"}
}

// RestrictiveProfile is the most limited profile. It replaces every profile
// when the configured source is unreadable, and is inserted as "default"
// into documents that lack one.
func RestrictiveProfile() Profile {
	return Profile{
		AllowedModels:  []string{ModelNova2Lite},
		MaxTokens:      2048,
		AllowedActions: []string{"chat"},
		RateLimit:      RateLimitConfig{RequestsPerMinute: 5, TokensPerHour: 10000},
		Sandbox:        map[string]interface{}{"mode": "all", "scope": "agent"},
	}
}

// BuiltinProfiles returns the profiles used when no document exists
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		DefaultAgentID: {
			AllowedModels:  []string{ModelNova2Lite},
			MaxTokens:      4096,
			AllowedActions: []string{"chat", "summarize", "analyze"},
			RateLimit:      RateLimitConfig{RequestsPerMinute: 10, TokensPerHour: 100000},
			Sandbox:        map[string]interface{}{"mode": "all", "scope": "session"},
		},
		"main": {
			AllowedModels:  []string{ModelNova2Lite, ModelSonnet45, ModelNovaPro},
			MaxTokens:      8192,
			AllowedActions: []string{"chat", "summarize", "analyze", "code", "edit", "exec"},
			RateLimit:      RateLimitConfig{RequestsPerMinute: 30, TokensPerHour: 500000},
			Sandbox:        map[string]interface{}{"mode": "off"},
		},
		"public": RestrictiveProfile(),
	}
}
