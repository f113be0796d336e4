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
Package logger provides structured JSON logging for the gate components.

# Overview

Every entry is written as one line of JSON so the output can be shipped to
CloudWatch or any other log pipeline without parsing rules.

Each entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gate, audit, permissions, ...)
  - Instance ID and container name
  - Agent ID of the caller the entry concerns
  - Request ID (for correlating a decision with its audit records)
  - Custom fields

# Usage

	log := logger.New("gate")

	log.Info("main", "req-456", "Request allowed", map[string]interface{}{
	    "model_id": "global.amazon.nova-2-lite-v1:0",
	})

	log.ErrorWithErr("main", "req-456", "Audit append failed", err, nil)

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)
  - LOG_LEVEL: Minimum level written (debug, info, warn, error; default info)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
