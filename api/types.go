package api

import (
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/rag"
)

type documentResponse struct {
	DocumentID       string     `json:"document_id"`
	UserID           string     `json:"user_id"`
	Filename         string     `json:"filename"`
	FileSize         int64      `json:"file_size"`
	ContentType      string     `json:"content_type"`
	ProcessingStatus string     `json:"processing_status"`
	ChunkCount       int        `json:"chunk_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	// IndexedPoints is only filled in on single-document reads.
	IndexedPoints *int `json:"indexed_points,omitempty"`
}

func newDocumentResponse(doc *core.Document) documentResponse {
	resp := documentResponse{
		DocumentID:       doc.Id,
		UserID:           doc.UserId,
		Filename:         doc.Filename,
		FileSize:         doc.FileSize,
		ContentType:      doc.ContentType,
		ProcessingStatus: doc.Status.String(),
		ChunkCount:       doc.ChunkCount,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if !doc.ProcessedAt.IsZero() {
		at := doc.ProcessedAt
		resp.ProcessedAt = &at
	}
	return resp
}

type uploadResponse struct {
	DocumentID       string `json:"document_id"`
	Filename         string `json:"filename"`
	ProcessingStatus string `json:"processing_status"`
	ProcessID        string `json:"process_id"`
	Message          string `json:"message"`
}

type documentListResponse struct {
	Documents []documentResponse `json:"documents"`
	Total     int                `json:"total"`
}

type processStartedResponse struct {
	DocumentID string `json:"document_id"`
	ProcessID  string `json:"process_id"`
	Message    string `json:"message"`
}

type processResponse struct {
	ProcessID       string     `json:"process_id"`
	DocumentID      string     `json:"document_id"`
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	Message         string     `json:"message"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

func newProcessResponse(rec *core.ProcessRecord) processResponse {
	resp := processResponse{
		ProcessID:       rec.ProcessId,
		DocumentID:      rec.DocumentId,
		Status:          rec.Status.String(),
		ProgressPercent: rec.ProgressPercent,
		Message:         rec.Message,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		Error:           rec.Error,
	}
	if !rec.CompletedAt.IsZero() {
		at := rec.CompletedAt
		resp.CompletedAt = &at
	}
	return resp
}

type urlResponse struct {
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
}

type chatResponse struct {
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newChatResponse(chat *core.Chat) chatResponse {
	return chatResponse{
		ChatID:     chat.Id,
		UserID:     chat.UserId,
		DocumentID: chat.DocumentId,
		Title:      chat.Title,
		CreatedAt:  chat.CreatedAt,
		UpdatedAt:  chat.UpdatedAt,
	}
}

type chatListResponse struct {
	Chats []chatResponse `json:"chats"`
	Total int            `json:"total"`
}

type messageResponse struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

func newMessageResponse(turn *core.ChatTurn) messageResponse {
	sources := turn.Sources
	if sources == nil {
		sources = []string{}
	}
	return messageResponse{
		MessageID: turn.Id,
		ChatID:    turn.ChatId,
		Role:      turn.Role.String(),
		Content:   turn.Content,
		Sources:   sources,
		CreatedAt: turn.Timestamp,
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

type replyResponse struct {
	UserMessage      messageResponse    `json:"user_message"`
	AssistantMessage messageResponse    `json:"assistant_message"`
	Response         string             `json:"response"`
	Sources          []string           `json:"sources"`
	ContextChunks    []rag.ContextChunk `json:"context_chunks"`
}

func newReplyResponse(reply *rag.Reply) replyResponse {
	assistant := newMessageResponse(reply.AssistantTurn)
	chunks := reply.ContextChunks
	if chunks == nil {
		chunks = []rag.ContextChunk{}
	}
	return replyResponse{
		UserMessage:      newMessageResponse(reply.UserTurn),
		AssistantMessage: assistant,
		Response:         assistant.Content,
		Sources:          assistant.Sources,
		ContextChunks:    chunks,
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}
