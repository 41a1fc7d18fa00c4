// Copyright 2025 Poiesic Systems
//
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

// Package gemini implements ai.AIProvider with the Google Gemini API.
//
// Documents are embedded with task type RETRIEVAL_DOCUMENT and questions with
// RETRIEVAL_QUERY. Answers stream through Models.GenerateContentStream using the
// sampling parameters and system instruction from ai.Config.
package gemini
