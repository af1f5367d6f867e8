package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const pebbleChatPrefix = "chat/"

// PebbleChatStore keeps chats in an embedded Pebble key/value database, one JSON value
// per chat under "chat/<id>".
type PebbleChatStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	path   string
	now    func() time.Time
	closed bool
}

var _ ChatStore = (*PebbleChatStore)(nil)

func NewPebbleChatStore(path string) (*PebbleChatStore, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble chat store: empty path")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble db at %s", path)
	}
	log.Debug().Str("path", path).Msg("opened pebble chat store")
	return &PebbleChatStore{db: db, path: path, now: time.Now}, nil
}

func chatKey(id string) []byte {
	return []byte(pebbleChatPrefix + id)
}

func (s *PebbleChatStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.getLocked(id)
}

func (s *PebbleChatStore) getLocked(id string) (*Chat, error) {
	v, closer, err := s.db.Get(chatKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, errors.Wrapf(err, "get chat %s", id)
	}
	data := append([]byte(nil), v...)
	_ = closer.Close()

	var sc storedChat
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, errors.Wrapf(err, "decode chat %s", id)
	}
	return sc.toChat()
}

func (s *PebbleChatStore) ListChats(_ context.Context, opts ListOptions) ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	prefix := []byte(pebbleChatPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create iterator")
	}
	defer func() {
		_ = iter.Close()
	}()

	var out []*Chat
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var sc storedChat
		if err := json.Unmarshal(iter.Value(), &sc); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Key())
		}
		c, err := sc.toChat()
		if err != nil {
			return nil, err
		}
		if !matchesList(c, opts) {
			continue
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate chats")
	}
	sortByUpdatedDesc(out)
	return applyLimit(out, opts.Limit), nil
}

func (s *PebbleChatStore) SaveChat(_ context.Context, chat *Chat, opts SaveOptions) error {
	if err := ValidateChat(chat); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	var existing *Chat
	c, err := s.getLocked(chat.ID)
	switch {
	case err == nil:
		existing = c
	case errors.Is(err, ErrChatNotFound):
	default:
		return err
	}

	next, err := prepareSave(chat, existing, opts, s.now())
	if err != nil {
		return err
	}
	sc, err := toStored(next)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return errors.Wrapf(err, "encode chat %s", chat.ID)
	}
	if err := s.db.Set(chatKey(chat.ID), data, pebble.Sync); err != nil {
		return errors.Wrapf(err, "set chat %s", chat.ID)
	}
	applySaved(chat, next)
	return nil
}

func (s *PebbleChatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *PebbleChatStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
