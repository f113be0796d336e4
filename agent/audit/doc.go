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

// Package audit records every gate decision and every billed usage event as
// an append-only stream of typed entries.
//
// # Entry types
//
//   - action: a gate decision on a request (allowed or denied, with reason)
//   - bedrock_call: reported model usage with token counts and cost
//   - security_event: validation failures, permission denials and other
//     notable events, with a severity
//   - rate_limit: a request refused by the rate limiter
//
// # Sinks
//
// Entries are written to a Sink. MemorySink keeps them in process, FileSink
// writes one JSON object per line into daily segments, PostgresSink writes
// rows into gate_audit_log. Queue wraps any sink with asynchronous workers,
// retries and a fallback file so that the decision path only enqueues.
// Archiver copies closed FileSink segments to S3.
//
// # Logger
//
// Logger is the typed front end used by the gate. Its writers never return
// errors: a failed append is counted, reported to an optional hook and logged,
// and the decision that produced it stands.
package audit
