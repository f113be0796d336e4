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

// Package permissions holds per-agent permission profiles and answers
// whether an agent may use a model, an action type and a token budget.
//
// Profiles are explicit grants with exact string membership (no wildcards).
// Agents without a profile of their own resolve to the mandatory "default"
// profile. A Store loads its profiles from a Source:
//
//   - FileSource: a JSON or YAML document on local disk
//   - SecretsManagerSource: a JSON document in AWS Secrets Manager
//   - MemorySource: in-process, for tests and embedding
//
// When the source has no document the built-in profiles are used. When the
// document cannot be read or parsed the store holds only RestrictiveProfile
// as "default" and reports Degraded until a successful Reload.
package permissions
