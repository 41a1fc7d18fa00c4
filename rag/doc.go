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

// Package rag answers questions about a single document.
//
// The Orchestrator embeds the question, retrieves the top 5 chunks from the
// document's own collection and builds one prompt from the recent conversation,
// the retrieved context and the question. When nothing is retrieved the model is
// not called and a fixed reply is returned instead.
//
// Streaming answers are delivered as Events: one MetadataEvent, any number of
// ContentEvents, then a DoneEvent or an ErrorEvent. Events marshal to JSON
// objects with a "type" field.
//
// ChatService adds persistence on top: one chat per document, and exactly one
// assistant turn stored per user turn, after the answer has finished.
package rag
