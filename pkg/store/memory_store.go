package store

import (
	"context"
	"sync"
	"time"
)

// InMemoryChatStore is a thread-safe ChatStore implementation.
type InMemoryChatStore struct {
	mu     sync.RWMutex
	chats  map[string]*Chat
	now    func() time.Time
	closed bool
}

var _ ChatStore = (*InMemoryChatStore)(nil)

func NewInMemoryChatStore() *InMemoryChatStore {
	return &InMemoryChatStore{
		chats: map[string]*Chat{},
		now:   time.Now,
	}
}

func (s *InMemoryChatStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	c, ok := s.chats[id]
	if !ok || c == nil {
		return nil, notFound(id)
	}
	return c.Clone(), nil
}

func (s *InMemoryChatStore) ListChats(_ context.Context, opts ListOptions) ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	out := make([]*Chat, 0, len(s.chats))
	for _, c := range s.chats {
		if !matchesList(c, opts) {
			continue
		}
		out = append(out, c.Clone())
	}
	sortByUpdatedDesc(out)
	return applyLimit(out, opts.Limit), nil
}

func (s *InMemoryChatStore) SaveChat(_ context.Context, chat *Chat, opts SaveOptions) error {
	if err := ValidateChat(chat); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	next, err := prepareSave(chat, s.chats[chat.ID], opts, s.now())
	if err != nil {
		return err
	}
	s.chats[next.ID] = next
	applySaved(chat, next)
	return nil
}

func (s *InMemoryChatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *InMemoryChatStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
