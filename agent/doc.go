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

/*
Package agent provides the Bedrock gate service: the validation, permission
and rate limit checkpoint every agent passes before calling Amazon Bedrock.

# Overview

The Gate runs each request through a fixed pipeline and stops at the first
failing stage:

	validate → permit → rate_limit → commit

  - validate: structure, length limits and prompt-injection patterns
  - permit: the agent's profile must list the model and action and cover maxTokens
  - rate_limit: sliding windows of requests per minute and tokens per hour
  - commit: the request is recorded and a signed decision token is issued

Every outcome is written to the audit log. Denials also produce a
security_event or rate_limit entry.

# Usage Reports

After the Bedrock call completes the caller reports token usage with the
decision token from the allowed decision:

	POST /api/v1/requests/check   - decide on a request (X-Agent-ID header)
	POST /api/v1/usage            - report input/output tokens for an allowed request

Tokens are HS256 JWTs bound to the agent and model and can be redeemed once.
Usage is charged against the agent's hourly token window and priced with
common/usage.

# Usage

	// Start the gate service
	agent.Run()

	// Configuration comes from the environment (or a .env file):
	// PORT                   - HTTP server port (default: 8080)
	// PERMISSIONS_FILE       - JSON or YAML profile document
	// PERMISSIONS_SECRET_ID  - read profiles from AWS Secrets Manager instead
	// AUDIT_DIR              - day-segmented JSONL audit log directory
	// AUDIT_DATABASE_URL     - PostgreSQL audit log instead of files
	// AUDIT_S3_BUCKET        - archive closed audit segments to S3
	// REDIS_URL              - share decision-token redemption across replicas
	// DECISION_TOKEN_SECRET  - HMAC key for decision tokens
	// ADMIN_API_KEY          - protects the profile admin endpoints
*/
package agent
