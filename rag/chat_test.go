package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/docrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) chatService() *ChatService {
	return NewChatService(e.orch, e.docs, e.chats, nil)
}

func (e *env) addDocument(t *testing.T, status core.DocumentStatus) *core.Document {
	t.Helper()
	doc, err := e.docs.AddDocument(context.Background(), &core.Document{
		UserId:   "user-1",
		Filename: "Owner Manual.pdf",
		BlobKey:  "k.pdf",
		Status:   status,
	})
	require.NoError(t, err)
	return doc
}

func TestGetOrCreateChat(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	pending := e.addDocument(t, core.DocumentStatusPending)
	_, err := svc.GetOrCreateChat(ctx, pending.Id, "user-1")
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = svc.GetOrCreateChat(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Owner Manual", chat.Title)
	assert.Equal(t, doc.Id, chat.DocumentId)

	again, err := svc.GetOrCreateChat(ctx, doc.Id, "user-1")
	require.NoError(t, err)
	assert.Equal(t, chat.Id, again.Id, "one chat per document")

	chats, err := svc.ListChats(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestSendMessage(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	e.indexChunks(t, doc.Id, "The warranty lasts two years.")
	e.generator.Chunks = []string{"Two years."}

	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, chat.Id, "How long is the warranty?")
	require.NoError(t, err)
	assert.Equal(t, "Two years.", reply.AssistantTurn.Content)
	assert.Len(t, reply.AssistantTurn.Sources, 1)
	assert.True(t, reply.UsedContext)

	_, err = svc.SendMessage(ctx, chat.Id, "And returns?")
	require.NoError(t, err)
	assert.Contains(t, e.generator.LastPrompt(), "Human: How long is the warranty?\nAssistant: Two years.")
	assert.NotContains(t, e.generator.LastPrompt(), "Human: And returns?", "current question is not part of the history")

	turns, err := svc.Messages(ctx, chat.Id)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
	assert.Equal(t, core.RoleUser, turns[2].Role)
	assert.Equal(t, core.RoleAssistant, turns[3].Role)
}

func TestSendMessage_ErrorStoresApology(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	e.indexChunks(t, doc.Id, "Passage.")
	e.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	}
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, chat.Id, "Question?")
	require.NoError(t, err)
	assert.Equal(t, ErrorAnswer, reply.AssistantTurn.Content)

	turns, err := svc.Messages(ctx, chat.Id)
	require.NoError(t, err)
	require.Len(t, turns, 2, "the question is kept alongside the apology")
	assert.Equal(t, "Question?", turns[0].Content)
}

func TestSendMessage_Validation(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, "missing", "hello")
	assert.ErrorIs(t, err, core.ErrNotFound)

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, chat.Id, "  ")
	assert.ErrorIs(t, err, core.ErrEmptyContent)
}

func TestStreamMessage_PersistsOnce(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	e.indexChunks(t, doc.Id, "Passage.")
	e.generator.Chunks = []string{"a", "b", "c"}
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	var events []Event
	reply, err := svc.StreamMessage(ctx, chat.Id, "Question?", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, "abc", reply.AssistantTurn.Content)
	assert.Len(t, events, 5)

	turns, err := svc.Messages(ctx, chat.Id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "abc", turns[1].Content)
}

func TestStreamMessage_StoresSameTurnAsSendMessage(t *testing.T) {
	for _, chunks := range [][]string{{"Two years.", "\n"}, {" ", "\n"}} {
		e := newEnv(t)
		svc := e.chatService()
		ctx := context.Background()

		doc := e.addDocument(t, core.DocumentStatusCompleted)
		e.indexChunks(t, doc.Id, "Passage.")
		e.generator.Chunks = chunks
		chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
		require.NoError(t, err)

		sent, err := svc.SendMessage(ctx, chat.Id, "Question?")
		require.NoError(t, err)
		var events []Event
		streamed, err := svc.StreamMessage(ctx, chat.Id, "Question?", collect(&events))
		require.NoError(t, err)

		assert.Equal(t, sent.AssistantTurn.Content, streamed.AssistantTurn.Content, "chunks %q", chunks)
	}
}

func TestStreamMessage_FailureKeepsPartialContent(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	e.indexChunks(t, doc.Id, "Passage.")
	e.generator.Chunks = []string{"Partial"}
	e.generator.StreamErr = errors.New("stream reset")
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	var events []Event
	reply, err := svc.StreamMessage(ctx, chat.Id, "Question?", collect(&events))
	require.NoError(t, err)
	assert.Equal(t, "Partial\n\n"+ErrorAnswer, reply.AssistantTurn.Content)
	assert.Equal(t, EventError, events[len(events)-1].Type())

	turns, err := svc.Messages(ctx, chat.Id)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestStreamMessage_ConsumerGoneStillPersists(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	e.indexChunks(t, doc.Id, "Passage.")
	e.generator.Chunks = []string{"one ", "two ", "three"}
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	calls := 0
	reply, err := svc.StreamMessage(ctx, chat.Id, "Question?", func(Event) error {
		calls++
		return errors.New("broken pipe")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "emitting stops after the first failure")
	assert.Equal(t, "one two three", reply.AssistantTurn.Content)
}

func TestDeleteChat(t *testing.T) {
	e := newEnv(t)
	svc := e.chatService()
	ctx := context.Background()

	doc := e.addDocument(t, core.DocumentStatusCompleted)
	chat, err := svc.GetOrCreateChat(ctx, doc.Id, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteChat(ctx, chat.Id))
	assert.ErrorIs(t, svc.DeleteChat(ctx, chat.Id), core.ErrNotFound)

	_, err = e.docs.GetDocument(ctx, doc.Id)
	assert.NoError(t, err, "deleting a chat keeps the document")
}
