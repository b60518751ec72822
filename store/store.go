package store

import (
	"context"
	"strings"

	terrors "totari/internal/errors"
	"totari/log"
	"totari/model"
)

const (
	ThreadsCollection  = "threads"
	MessagesCollection = "messages"
)

// Store maps threads and messages onto a DocStore. It holds no entity
// state. Reads are lenient (logged, empty result); writes return errors.
type Store struct {
	db DocStore
}

// New wraps db. A nil db yields a store whose writes fail with
// BACKEND_UNAVAILABLE and whose reads are empty.
func New(db DocStore) *Store {
	return &Store{db: db}
}

func (s *Store) Available() bool {
	return s != nil && s.db != nil
}

func (s *Store) Close() error {
	if !s.Available() {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the backend answers. A missing probe document counts
// as an answer.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Available() {
		return s.unavailable()
	}
	_, err := s.db.Get(ctx, ThreadsCollection, "_ping")
	if err == nil || terrors.Is(err, terrors.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) unavailable() error {
	return terrors.NewBackendUnavailable("store")
}

func (s *Store) SaveMessage(ctx context.Context, m model.Message) (string, error) {
	if !s.Available() {
		return "", s.unavailable()
	}
	id, err := s.db.Add(ctx, MessagesCollection, EncodeMessage(m))
	if err != nil {
		return "", terrors.NewPersistenceFailed("save message", err)
	}
	return id, nil
}

// GetMessages returns every message of a thread regardless of owner,
// oldest first.
func (s *Store) GetMessages(ctx context.Context, threadID string) []model.Message {
	if !s.Available() {
		return []model.Message{}
	}
	docs, err := s.db.Query(ctx, MessagesCollection, Filter{Field: "threadId", Value: threadID})
	if err != nil {
		log.StoreError("getMessages", MessagesCollection, err)
		return []model.Message{}
	}
	return decodeMessages(docs)
}

func decodeMessages(docs []Doc) []model.Message {
	msgs := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		m, err := DecodeMessage(d)
		if err != nil {
			log.Warnf("skipping message: %v", err)
			continue
		}
		msgs = append(msgs, m)
	}
	model.SortMessages(msgs)
	return msgs
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	if !s.Available() {
		return nil, s.unavailable()
	}
	d, err := s.db.Get(ctx, MessagesCollection, id)
	if err != nil {
		return nil, err
	}
	m, err := DecodeMessage(d)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageStatus sets status, and error when errText is non-empty,
// stamping a server-side updatedAt.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status model.Status, errText string) error {
	if !s.Available() {
		return s.unavailable()
	}
	updates := []FieldUpdate{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: ServerTimestamp},
	}
	if errText != "" {
		updates = append(updates, FieldUpdate{Path: "error", Value: errText})
	}
	if err := s.db.Update(ctx, MessagesCollection, id, updates); err != nil {
		return terrors.NewUpdateFailed(MessagesCollection, id, err)
	}
	log.MessageStatus(id, string(status), errText)
	return nil
}

// UpdateMessagePayload writes each set variant of p under its own field
// path in one update, so variants already stored survive and concurrent
// writers of different variants do not clobber each other.
func (s *Store) UpdateMessagePayload(ctx context.Context, id string, p model.Payload) error {
	if !s.Available() {
		return s.unavailable()
	}
	if p.Empty() {
		return terrors.NewInvalidRequest("empty payload update")
	}
	updates := append(payloadUpdates(p), FieldUpdate{Path: "updatedAt", Value: ServerTimestamp})
	if err := s.db.Update(ctx, MessagesCollection, id, updates); err != nil {
		return terrors.NewUpdateFailed(MessagesCollection, id, err)
	}
	return nil
}

// DeleteMessage is idempotent: a missing id is success.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if !s.Available() {
		return s.unavailable()
	}
	if err := s.db.Delete(ctx, MessagesCollection, id); err != nil && !terrors.Is(err, terrors.ErrNotFound) {
		return terrors.NewPersistenceFailed("delete message", err)
	}
	return nil
}

func (s *Store) SaveThread(ctx context.Context, t model.Thread) (string, error) {
	if !s.Available() {
		return "", s.unavailable()
	}
	id, err := s.db.Add(ctx, ThreadsCollection, EncodeThread(t))
	if err != nil {
		return "", terrors.NewPersistenceFailed("save thread", err)
	}
	return id, nil
}

// GetThread returns nil when the thread is missing or unreadable.
func (s *Store) GetThread(ctx context.Context, id string) *model.Thread {
	if !s.Available() {
		return nil
	}
	d, err := s.db.Get(ctx, ThreadsCollection, id)
	if err != nil {
		if !terrors.Is(err, terrors.ErrNotFound) {
			log.StoreError("getThread", ThreadsCollection, err)
		}
		return nil
	}
	t := DecodeThread(d)
	return &t
}

// GetThreads lists all threads, most recently updated first.
func (s *Store) GetThreads(ctx context.Context) []model.Thread {
	if !s.Available() {
		return []model.Thread{}
	}
	docs, err := s.db.Query(ctx, ThreadsCollection)
	if err != nil {
		log.StoreError("getThreads", ThreadsCollection, err)
		return []model.Thread{}
	}
	threads := make([]model.Thread, 0, len(docs))
	for _, d := range docs {
		threads = append(threads, DecodeThread(d))
	}
	model.SortThreads(threads)
	return threads
}

// ThreadUpdate lists the mutable thread fields; nil means unchanged.
type ThreadUpdate struct {
	Title *string
}

func (s *Store) UpdateThread(ctx context.Context, id string, u ThreadUpdate) error {
	if !s.Available() {
		return s.unavailable()
	}
	updates := []FieldUpdate{{Path: "updatedAt", Value: ServerTimestamp}}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return terrors.NewInvalidRequest("thread title is required")
		}
		updates = append(updates, FieldUpdate{Path: "title", Value: title})
	}
	if err := s.db.Update(ctx, ThreadsCollection, id, updates); err != nil {
		return terrors.NewUpdateFailed(ThreadsCollection, id, err)
	}
	return nil
}

// DeleteThread removes the thread document only; its messages are left in place.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	if !s.Available() {
		return s.unavailable()
	}
	if err := s.db.Delete(ctx, ThreadsCollection, id); err != nil && !terrors.Is(err, terrors.ErrNotFound) {
		return terrors.NewPersistenceFailed("delete thread", err)
	}
	return nil
}

// Unsubscribe stops a live query. It is safe to call more than once.
type Unsubscribe func()

func noop() {}

// SubscribeToMessages streams the messages of a thread written by ownerID.
// When the store is unavailable it returns a no-op that never fires.
func (s *Store) SubscribeToMessages(ctx context.Context, threadID, ownerID string, onUpdate func([]model.Message)) Unsubscribe {
	return s.watchMessages(ctx, []Filter{
		{Field: "threadId", Value: threadID},
		{Field: "ownerId", Value: ownerID},
	}, onUpdate)
}

// SubscribeToThread streams every message of a thread regardless of owner.
func (s *Store) SubscribeToThread(ctx context.Context, threadID string, onUpdate func([]model.Message)) Unsubscribe {
	return s.watchMessages(ctx, []Filter{{Field: "threadId", Value: threadID}}, onUpdate)
}

func (s *Store) watchMessages(ctx context.Context, filters []Filter, onUpdate func([]model.Message)) Unsubscribe {
	if !s.Available() {
		return noop
	}
	stop, err := s.db.Watch(ctx, MessagesCollection, filters, func(docs []Doc) {
		onUpdate(decodeMessages(docs))
	})
	if err != nil {
		log.StoreError("subscribe", MessagesCollection, err)
		return noop
	}
	return Unsubscribe(stop)
}
