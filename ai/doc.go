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

// Package ai provides abstractions for the model services used by docrag.
//
// This package defines interfaces for embeddings and answer generation. The
// pipeline and the RAG orchestrator depend on these abstractions rather than on
// a concrete vendor SDK.
//
// # Interfaces
//
//   - Embedder: Generates document and query vectors from text
//   - Generator: Produces complete or streamed answers from a prompt
//   - AIProvider: Aggregates both services for convenient initialization
//
// # Implementation Packages
//
//   - ai/gemini: Google Gemini via google.golang.org/genai (text-embedding-004, 768 dims)
//   - ai/openai: OpenAI-compatible servers via langchaingo
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors (gemini.NewProvider, openai.NewProvider) return INTERFACE
// types. Mock constructors return CONCRETE types so tests can inject behavior
// and assert call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithAPIKey(os.Getenv("GOOGLE_API_KEY")))
//	provider, err := gemini.NewProvider(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedQuery(ctx, "What is the warranty period?")
//	answer, err := provider.Generator().Generate(ctx, prompt)
package ai
