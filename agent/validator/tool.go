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

import "errors"

// Tool call errors
var (
	ErrToolDenied     = errors.New("tool explicitly denied")
	ErrToolNotAllowed = errors.New("tool not in allow list")
)

// ValidateToolCall evaluates a tool invocation against allow and deny lists.
// The deny list wins. An empty allow list permits every tool not denied.
// Arguments are accepted for audit context and not inspected.
func ValidateToolCall(name string, args map[string]interface{}, allowed, denied []string) error {
	if contains(denied, name) {
		return fail(ErrToolDenied, "Tool '%s' is explicitly denied", name)
	}
	if len(allowed) > 0 && !contains(allowed, name) {
		return fail(ErrToolNotAllowed, "Tool '%s' is not in allowed list", name)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
