package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// ChatService keeps the single conversation attached to each document and
// persists every question with exactly one answer.
type ChatService struct {
	orchestrator *Orchestrator
	documents    storage.DocumentRepository
	chats        storage.ChatRepository
	logger       *slog.Logger
}

// NewChatService creates a ChatService.
func NewChatService(orchestrator *Orchestrator, documents storage.DocumentRepository, chats storage.ChatRepository, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		orchestrator: orchestrator,
		documents:    documents,
		chats:        chats,
		logger:       logger.With("component", "chat"),
	}
}

// Reply is the outcome of one question.
type Reply struct {
	UserTurn      *core.ChatTurn
	AssistantTurn *core.ChatTurn
	UsedContext   bool
	ContextChunks []ContextChunk
}

// GetOrCreateChat returns the document's chat, creating it on first use. The
// document must be completed; otherwise core.ErrConflict is returned.
func (s *ChatService) GetOrCreateChat(ctx context.Context, documentID, userID string) (*core.Chat, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != core.DocumentStatusCompleted {
		return nil, fmt.Errorf("document %s is %s, not ready for chat: %w", documentID, doc.Status, core.ErrConflict)
	}

	chat, err := s.chats.GetChatByDocument(ctx, documentID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if userID == "" {
		userID = doc.UserId
	}
	return s.chats.AddChat(ctx, &core.Chat{
		DocumentId: documentID,
		UserId:     userID,
		Title:      strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename)),
	})
}

// prepare loads the chat and its history, checks the document and stores the
// user's turn. History is read before the new turn is written so the question
// only appears once in the prompt.
func (s *ChatService) prepare(ctx context.Context, chatID, content string) (*core.Chat, []*core.ChatTurn, *core.ChatTurn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil, nil, fmt.Errorf("%w: %w", core.ErrInvalidChatTurn, core.ErrEmptyContent)
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, nil, err
	}
	doc, err := s.documents.GetDocument(ctx, chat.DocumentId)
	if err != nil {
		return nil, nil, nil, err
	}
	if doc.Status != core.DocumentStatusCompleted {
		return nil, nil, nil, fmt.Errorf("document %s is %s, not ready for chat: %w", doc.Id, doc.Status, core.ErrConflict)
	}

	history, err := s.chats.GetRecentTurns(ctx, chatID, s.orchestrator.historyTurns)
	if err != nil {
		return nil, nil, nil, err
	}

	added, err := s.chats.AddTurns(ctx, &core.ChatTurn{
		ChatId:    chatID,
		Role:      core.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return chat, history, added[0], nil
}

// persistAnswer stores the assistant turn. It ignores ctx cancellation so an
// answer is never lost because the caller went away.
func (s *ChatService) persistAnswer(ctx context.Context, chatID, content string, sources []string) (*core.ChatTurn, error) {
	ctx = context.WithoutCancel(ctx)
	if content == "" {
		content = ErrorAnswer
	}
	added, err := s.chats.AddTurns(ctx, &core.ChatTurn{
		ChatId:    chatID,
		Role:      core.RoleAssistant,
		Content:   content,
		Sources:   sources,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to store assistant turn", "chatId", chatID, "err", err)
		return nil, err
	}
	return added[0], nil
}

// SendMessage answers content and stores both turns. When answering fails the
// apology is stored and returned as the assistant turn; the error is only logged.
func (s *ChatService) SendMessage(ctx context.Context, chatID, content string) (*Reply, error) {
	chat, history, userTurn, err := s.prepare(ctx, chatID, content)
	if err != nil {
		return nil, err
	}

	reply := &Reply{UserTurn: userTurn}
	text, sources := ErrorAnswer, []string(nil)

	ans, err := s.orchestrator.Answer(ctx, chat.DocumentId, content, history)
	if err != nil {
		s.logger.Error("failed to answer question", "chatId", chatID, "err", err)
	} else {
		text, sources = ans.Text, ans.Sources
		reply.UsedContext = ans.UsedContext
		reply.ContextChunks = ans.ContextChunks
	}

	reply.AssistantTurn, err = s.persistAnswer(ctx, chatID, text, sources)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// StreamMessage streams the answer to content through emit and stores one
// assistant turn once the stream has ended. If emit fails (for example because
// the client disconnected) the answer is still generated and stored.
func (s *ChatService) StreamMessage(ctx context.Context, chatID, content string, emit func(Event) error) (*Reply, error) {
	chat, history, userTurn, err := s.prepare(ctx, chatID, content)
	if err != nil {
		return nil, err
	}

	var emitErr error
	safeEmit := func(ev Event) error {
		if emitErr != nil {
			return nil
		}
		if err := emit(ev); err != nil {
			emitErr = err
			s.logger.Warn("stream consumer went away", "chatId", chatID, "err", err)
		}
		return nil
	}

	ans, err := s.orchestrator.Stream(context.WithoutCancel(ctx), chat.DocumentId, content, history, safeEmit)
	text := ans.Text
	if err != nil {
		if text != "" {
			text += "\n\n" + ErrorAnswer
		} else {
			text = ErrorAnswer
		}
	}

	reply := &Reply{UserTurn: userTurn, UsedContext: ans.UsedContext, ContextChunks: ans.ContextChunks}
	reply.AssistantTurn, err = s.persistAnswer(ctx, chatID, text, ans.Sources)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Messages returns every turn of a chat in order.
func (s *ChatService) Messages(ctx context.Context, chatID string) ([]*core.ChatTurn, error) {
	if _, err := s.chats.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.chats.GetTurns(ctx, chatID)
}

// GetChat returns a chat by id.
func (s *ChatService) GetChat(ctx context.Context, chatID string) (*core.Chat, error) {
	return s.chats.GetChat(ctx, chatID)
}

// ListChats returns the chats of a user, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*core.Chat, error) {
	return s.chats.ListChats(ctx, userID)
}

// DeleteChat removes a chat and its turns. The document is untouched.
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := s.chats.GetChat(ctx, chatID); err != nil {
		return err
	}
	return s.chats.DeleteChat(ctx, chatID)
}
