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

package validator

import "regexp"

// InjectionPattern is one prompt-injection screen
type InjectionPattern struct {
	// Name identifies the pattern in logs and metrics.
	Name string

	// Regex is matched case-insensitively against message and system text.
	Regex *regexp.Regexp
}

// injectionPatterns is evaluated in order; the first pattern with a match wins.
var injectionPatterns = []InjectionPattern{
	{Name: "ignore_instructions", Regex: regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+instructions?`)},
	{Name: "disregard", Regex: regexp.MustCompile(`(?i)disregard\s+(previous|above|all)`)},
	{Name: "forget", Regex: regexp.MustCompile(`(?i)forget\s+(everything|all|previous)`)},
	{Name: "persona_switch", Regex: regexp.MustCompile(`(?i)you\s+are\s+now\s+`)},
	{Name: "new_instructions", Regex: regexp.MustCompile(`(?i)new\s+instructions?:`)},
	{Name: "override", Regex: regexp.MustCompile(`(?i)override\s+(system|instructions?)`)},
	{Name: "jailbreak", Regex: regexp.MustCompile(`(?i)jailbreak`)},
	{Name: "dan_mode", Regex: regexp.MustCompile(`(?i)DAN\s+mode`)},
	{Name: "developer_mode", Regex: regexp.MustCompile(`(?i)developer\s+mode`)},
}

// InjectionPatterns returns a copy of the ordered injection screens
func InjectionPatterns() []InjectionPattern {
	out := make([]InjectionPattern, len(injectionPatterns))
	copy(out, injectionPatterns)
	return out
}

// DetectInjection reports the text matched by the first injection pattern
// (in list order) that matches anywhere in text.
func DetectInjection(text string) (string, bool) {
	for _, p := range injectionPatterns {
		if m := p.Regex.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}
