package rag

import (
	"encoding/json"

	"github.com/poiesic/docrag/core"
)

// EventType is the discriminator written as the "type" field.
type EventType string

const (
	EventMetadata EventType = "metadata"
	EventContent  EventType = "content"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one frame of a streamed answer. The set of implementations is closed:
// MetadataEvent, ContentEvent, DoneEvent and ErrorEvent.
//
// A stream is always metadata, then zero or more content events, then exactly one
// done or error event.
type Event interface {
	Type() EventType
	json.Marshaler
	sealed()
}

// ContextChunk is a retrieved passage as sent to clients.
type ContextChunk struct {
	ChunkID    string  `json:"chunk_id"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
}

func contextChunks(points []core.ScoredPoint) []ContextChunk {
	chunks := make([]ContextChunk, len(points))
	for i, p := range points {
		chunks[i] = ContextChunk{
			ChunkID:    p.Id.String(),
			Score:      p.Score,
			Text:       p.Payload.Text,
			DocumentID: p.Payload.DocumentId,
			ChunkIndex: p.Payload.ChunkIndex,
		}
	}
	return chunks
}

// MetadataEvent opens a stream with the citations of the retrieved context.
type MetadataEvent struct {
	Sources       []string
	ContextChunks []ContextChunk
}

// ContentEvent carries the next increment of the answer.
type ContentEvent struct {
	Content string
}

// DoneEvent closes a successful stream.
type DoneEvent struct{}

// ErrorEvent closes a failed stream. Content is the message shown to the user.
type ErrorEvent struct {
	Content string
	Err     error
}

func (MetadataEvent) Type() EventType { return EventMetadata }
func (ContentEvent) Type() EventType  { return EventContent }
func (DoneEvent) Type() EventType     { return EventDone }
func (ErrorEvent) Type() EventType    { return EventError }

func (MetadataEvent) sealed() {}
func (ContentEvent) sealed()  {}
func (DoneEvent) sealed()     {}
func (ErrorEvent) sealed()    {}

func (e MetadataEvent) MarshalJSON() ([]byte, error) {
	sources := e.Sources
	if sources == nil {
		sources = []string{}
	}
	chunks := e.ContextChunks
	if chunks == nil {
		chunks = []ContextChunk{}
	}
	return json.Marshal(struct {
		Type          EventType      `json:"type"`
		Sources       []string       `json:"sources"`
		ContextChunks []ContextChunk `json:"context_chunks"`
	}{EventMetadata, sources, chunks})
}

func (e ContentEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Content string    `json:"content"`
	}{EventContent, e.Content})
}

func (DoneEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type EventType `json:"type"`
	}{EventDone})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Content string    `json:"content,omitempty"`
	}{EventError, e.Content})
}
