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

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"bedrockgate/agent/request"
)

// Field limits, counted in characters
const (
	MaxPromptLength       = 100000
	MaxSystemPromptLength = 10000
	MaxModelIDLength      = 100
	MaxRequestTokens      = 100000
)

// Validation errors
var (
	ErrMissingModel      = errors.New("model id missing")
	ErrFieldTooLong      = errors.New("field exceeds maximum length")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrInjectionDetected = errors.New("potential prompt injection")
	ErrInvalidMaxTokens  = errors.New("invalid maxTokens")
	ErrMalformedRequest  = errors.New("malformed request")
)

// ValidationError carries the display-ready reason of a failed check
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return e.Err }

func fail(kind error, format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), Err: kind}
}

// FromShapeError converts a request decoding failure into a ValidationError
// so malformed payloads are reported like any other failed check.
func FromShapeError(err error) error {
	var shape *request.ShapeError
	if errors.As(err, &shape) {
		kind := ErrMalformedRequest
		if strings.HasPrefix(shape.Reason, "maxTokens") {
			kind = ErrInvalidMaxTokens
		}
		return &ValidationError{Reason: shape.Reason, Err: kind}
	}
	return &ValidationError{Reason: err.Error(), Err: ErrMalformedRequest}
}

// Validate runs every check against req in a fixed order and returns the
// first failure, or nil when the request is well formed.
func Validate(req *request.Request) error {
	if req == nil {
		return fail(ErrMalformedRequest, "Action must be a dictionary")
	}

	if req.ModelID == "" {
		return fail(ErrMissingModel, "model_id is required")
	}
	if utf8.RuneCountInString(req.ModelID) > MaxModelIDLength {
		return fail(ErrFieldTooLong, "model_id exceeds max length (%d)", MaxModelIDLength)
	}

	for i, msg := range req.Messages {
		if err := validateMessage(msg, i); err != nil {
			return err
		}
	}

	if req.System != "" {
		if utf8.RuneCountInString(req.System) > MaxSystemPromptLength {
			return fail(ErrFieldTooLong, "system prompt exceeds max length (%d)", MaxSystemPromptLength)
		}
		if match, found := DetectInjection(req.System); found {
			return fail(ErrInjectionDetected, "Potential injection detected in system prompt: %s", match)
		}
	}

	if req.InferenceConfig != nil {
		n := req.RequestedTokens()
		if n < 0 {
			return fail(ErrInvalidMaxTokens, "maxTokens must be a positive integer")
		}
		if n > MaxRequestTokens {
			return fail(ErrInvalidMaxTokens, "maxTokens exceeds maximum allowed (%d)", MaxRequestTokens)
		}
	}

	return nil
}

func validateMessage(msg request.Message, index int) error {
	if msg.Role != request.RoleUser && msg.Role != request.RoleAssistant {
		return fail(ErrInvalidRole, "Message %d has invalid role: %s", index, msg.Role)
	}

	for _, item := range msg.Content {
		if item.Text == nil {
			continue
		}
		text := *item.Text
		if utf8.RuneCountInString(text) > MaxPromptLength {
			return fail(ErrFieldTooLong, "Message %d text exceeds max length", index)
		}
		if match, found := DetectInjection(text); found {
			return fail(ErrInjectionDetected, "Potential injection in message %d: %s", index, match)
		}
	}
	return nil
}

// ValidateAction is the minimal shape check for free-form actions: the map
// must carry a string "type" field.
func ValidateAction(action map[string]interface{}) error {
	if action == nil {
		return fail(ErrMalformedRequest, "Action must be a dictionary")
	}
	t, ok := action["type"]
	if !ok {
		return fail(ErrMalformedRequest, "Action must have 'type' field")
	}
	if _, ok := t.(string); !ok {
		return fail(ErrMalformedRequest, "Action 'type' must be a string")
	}
	return nil
}

// dangerousSequences are removed by Sanitize in this order
var dangerousSequences = []string{"`", "$(", "${", "&&", "||", ";", "|", ">", "<", "\x00"}

// Sanitize strips shell metacharacters from text. It is a helper for callers
// that forward text to tools; Validate never applies it.
func Sanitize(text string) string {
	for _, seq := range dangerousSequences {
		text = strings.ReplaceAll(text, seq, "")
	}
	return text
}
