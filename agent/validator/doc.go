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

// Package validator screens candidate Bedrock requests before any policy or
// rate-limit decision is made.
//
// The checks are purely syntactic and deterministic:
//
//   - model_id present and bounded in length
//   - every message role is "user" or "assistant"
//   - message text and system prompt bounded in length
//   - no known prompt-injection phrase in message text or system prompt
//   - maxTokens, when present, within [0, 100000]
//
// The first failing check wins and its reason is reported verbatim to the
// caller. Lengths count characters, not bytes.
//
// Usage:
//
//	if err := validator.Validate(req); err != nil {
//	    var verr *validator.ValidationError
//	    errors.As(err, &verr) // verr.Reason is display-ready
//	}
//
// The package also carries two helpers that are never applied automatically:
// Sanitize, which strips shell metacharacters, and ValidateToolCall, which
// evaluates allow/deny lists for tool invocations.
package validator
