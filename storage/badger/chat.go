package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// ChatRepository implements storage.ChatRepository for BadgerDB.
type ChatRepository struct {
	backend *Backend
	turnSeq *badger.Sequence
}

var _ storage.ChatRepository = (*ChatRepository)(nil)

// NewChatRepository creates a new ChatRepository.
func NewChatRepository(backend *Backend) (*ChatRepository, error) {
	seq, err := backend.GetSequence(turnSeq)
	if err != nil {
		return nil, err
	}

	return &ChatRepository{
		backend: backend,
		turnSeq: seq,
	}, nil
}

// Close releases the turn sequence.
func (r *ChatRepository) Close() error {
	return r.turnSeq.Release()
}

// WithTransaction delegates to the backend.
func (r *ChatRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// AddChat stores a new chat. A document holds at most one chat: if the
// document already has one, the existing chat is returned instead.
func (r *ChatRepository) AddChat(ctx context.Context, chat *core.Chat) (*core.Chat, error) {
	if chat.DocumentId == "" {
		return nil, storage.ErrInvalidQuery
	}

	var result *core.Chat
	err := r.backend.Update(func(tx *badger.Txn) error {
		existing, err := r.readChatByDocument(tx, chat.DocumentId)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		created := *chat
		if created.Id == "" {
			created.Id = uuid.NewString()
		}
		created.CreatedAt = now()
		created.UpdatedAt = created.CreatedAt

		if err := tx.Set(makeChatKey(created.Id), storage.MarshalChat(&created)); err != nil {
			return err
		}
		if err := tx.Set(makeChatDocumentKey(created.DocumentId), []byte(created.Id)); err != nil {
			return err
		}
		result = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetChat retrieves a chat by ID.
func (r *ChatRepository) GetChat(ctx context.Context, id string) (*core.Chat, error) {
	var chat *core.Chat
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		chat, err = readChat(tx, id)
		if err != nil {
			return err
		}
		if chat == nil {
			return notFound("chat", id)
		}
		return nil
	}, false)
	return chat, err
}

// GetChatByDocument retrieves the chat bound to a document.
func (r *ChatRepository) GetChatByDocument(ctx context.Context, documentID string) (*core.Chat, error) {
	var chat *core.Chat
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		chat, err = r.readChatByDocument(tx, documentID)
		if err != nil {
			return err
		}
		if chat == nil {
			return notFound("chat for document", documentID)
		}
		return nil
	}, false)
	return chat, err
}

// ListChats returns the chats of userID, most recently updated first.
func (r *ChatRepository) ListChats(ctx context.Context, userID string) ([]*core.Chat, error) {
	var chats []*core.Chat
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		all, err := scanPrefix(tx, []byte(chatPrefix), false, storage.UnmarshalChat)
		if err != nil {
			return err
		}
		for _, chat := range all {
			if userID == "" || chat.UserId == userID {
				chats = append(chats, chat)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(chats, func(a, b *core.Chat) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return chats, nil
}

// DeleteChat removes a chat, its document binding and all of its turns.
func (r *ChatRepository) DeleteChat(ctx context.Context, id string) error {
	var chat *core.Chat
	err := r.backend.Update(func(tx *badger.Txn) error {
		var err error
		chat, err = readChat(tx, id)
		if err != nil || chat == nil {
			return err
		}
		if err := tx.Delete(makeChatDocumentKey(chat.DocumentId)); err != nil {
			return err
		}
		return tx.Delete(makeChatKey(id))
	})
	if err != nil || chat == nil {
		return err
	}

	// Turns can outnumber a single transaction, so they go in a write batch
	_, err = r.backend.deletePrefix(makePartialTurnKey(id))
	return err
}

// AddTurns appends turns to their chats.
func (r *ChatRepository) AddTurns(ctx context.Context, turns ...*core.ChatTurn) ([]*core.ChatTurn, error) {
	for _, turn := range turns {
		if turn.Timestamp.IsZero() {
			turn.Timestamp = now()
		}
		turn.Timestamp = turn.Timestamp.UTC().Truncate(time.Microsecond)
		if err := core.ValidateChatTurn(turn); err != nil {
			return nil, err
		}
	}

	err := r.backend.Update(func(tx *badger.Txn) error {
		touched := make(map[string]*core.Chat)
		for _, turn := range turns {
			chat, ok := touched[turn.ChatId]
			if !ok {
				var err error
				chat, err = readChat(tx, turn.ChatId)
				if err != nil {
					return err
				}
				if chat == nil {
					return notFound("chat", turn.ChatId)
				}
				touched[turn.ChatId] = chat
			}

			seq, err := r.nextSeq()
			if err != nil {
				return err
			}
			if turn.Id == "" {
				turn.Id = uuid.NewString()
			}
			if err := tx.Set(makeTurnKey(turn.ChatId, seq), storage.MarshalChatTurn(turn)); err != nil {
				return err
			}
			if turn.Timestamp.After(chat.UpdatedAt) {
				chat.UpdatedAt = turn.Timestamp
			}
		}

		for _, chat := range touched {
			if err := tx.Set(makeChatKey(chat.Id), storage.MarshalChat(chat)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// GetTurns returns every turn of a chat in chronological order.
func (r *ChatRepository) GetTurns(ctx context.Context, chatID string) ([]*core.ChatTurn, error) {
	var turns []*core.ChatTurn
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		turns, err = scanPrefix(tx, makePartialTurnKey(chatID), false, storage.UnmarshalChatTurn)
		return err
	}, false)
	return turns, err
}

// GetRecentTurns returns at most limit of the newest turns, oldest first.
func (r *ChatRepository) GetRecentTurns(ctx context.Context, chatID string, limit int) ([]*core.ChatTurn, error) {
	if limit <= 0 {
		return []*core.ChatTurn{}, nil
	}

	var turns []*core.ChatTurn
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		// Use reverse iterator to get most recent turns first
		prefix := makePartialTurnKey(chatID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(append(append([]byte{}, prefix...), 0xFF)); iter.Valid() && len(turns) < limit; iter.Next() {
			var turn *core.ChatTurn
			err := iter.Item().Value(func(val []byte) error {
				var err error
				turn, err = storage.UnmarshalChatTurn(val)
				return err
			})
			if err != nil {
				return err
			}
			turns = append(turns, turn)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.Reverse(turns)
	return turns, nil
}

// Helper methods

func (r *ChatRepository) nextSeq() (uint64, error) {
	next, err := r.turnSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		return r.turnSeq.Next()
	}
	return next, nil
}

func readChat(tx *badger.Txn, id string) (*core.Chat, error) {
	return readValue(tx, makeChatKey(id), storage.UnmarshalChat)
}

func (r *ChatRepository) readChatByDocument(tx *badger.Txn, documentID string) (*core.Chat, error) {
	item, err := tx.Get(makeChatDocumentKey(documentID))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	chatID, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return readChat(tx, string(chatID))
}
