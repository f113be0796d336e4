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

// Package usage holds the static Bedrock price table and the cost estimate
// attached to every billed usage record.
//
// Prices are USD per one million tokens, split by input and output. Models
// missing from the table are billed at DefaultPricing so that an unknown model
// never shows up as free.
package usage
