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

package core

import "errors"

// Processing errors shared by every layer.
var (
	// ErrEmptyInput indicates there was no text to extract or chunk.
	ErrEmptyInput = errors.New("empty input")

	// ErrEmbeddingFailure indicates the embedding model failed for an item or batch.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrNoValidPoints indicates every vector in an upsert was missing.
	ErrNoValidPoints = errors.New("no valid points to index")

	// ErrIndexUnavailable indicates the vector store could not be reached.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrConflict indicates ingestion was requested for a document that is processing or completed.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates an unknown document, chat or process id.
	ErrNotFound = errors.New("not found")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChatTurn indicates a ChatTurn failed validation.
	ErrInvalidChatTurn = errors.New("invalid chat turn")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidRole indicates an invalid Role value.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrEmptyFilename indicates a document without a filename.
	ErrEmptyFilename = errors.New("filename cannot be empty")
)
