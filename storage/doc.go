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

// Package storage provides the storage abstraction layer for docrag.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic: documents and chats live in a DocumentRepository and a
// ChatRepository, vectors in a per-document VectorIndex, raw uploads in a BlobStore.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces to enforce abstraction and enable
// multiple backend implementations:
//
//	docs, chats, err := badger.NewRepositories(backend)
//	index := badger.NewVectorIndex(backend, 768)
//	index, err := chroma.NewVectorIndex(ctx, chroma.WithBaseURL(url))
//
// Internal package constructors may return concrete types since they're only
// used within the implementation package.
//
// # Collections
//
// Every document owns exactly one vector collection named by CollectionName.
// Collections are the hard partition key of retrieval: a search against one
// document can never return a point belonging to another.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access from
// multiple goroutines.
package storage
