// Package chats applies conversation mutations to stored chats: load, mutate a copy,
// save with the loaded version, then tell the owner's sessions.
package chats

import (
	"context"
	"fmt"
	"time"

	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/events"
	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/go-go-golems/chatctl/pkg/metrics"
	"github.com/go-go-golems/chatctl/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	OperationAppend   = "append"
	OperationSetInput = "set-input"
)

type Service struct {
	store      store.ChatStore
	mutator    *conversation.Mutator
	notifier   events.Notifier
	metrics    *metrics.Metrics
	maxRetries int
	model      string
	locks      *helpers.KeyedMutex
}

type ServiceOption func(*Service) error

func WithMutator(m *conversation.Mutator) ServiceOption {
	return func(s *Service) error {
		if m == nil {
			return fmt.Errorf("mutator is nil")
		}
		s.mutator = m
		return nil
	}
}

func WithNotifier(n events.Notifier) ServiceOption {
	return func(s *Service) error {
		if n == nil {
			n = events.NullNotifier{}
		}
		s.notifier = n
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithMaxRetries bounds how often a save is retried after a version conflict.
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) error {
		if n < 0 {
			return fmt.Errorf("max retries must not be negative, got %d", n)
		}
		s.maxRetries = n
		return nil
	}
}

// WithDefaultModel sets the model recorded on messages whose request names none.
func WithDefaultModel(model string) ServiceOption {
	return func(s *Service) error {
		s.model = model
		return nil
	}
}

func NewService(chatStore store.ChatStore, options ...ServiceOption) (*Service, error) {
	if chatStore == nil {
		return nil, fmt.Errorf("chat store is required")
	}
	s := &Service{
		store:      chatStore,
		mutator:    conversation.NewMutator(),
		notifier:   events.NullNotifier{},
		maxRetries: 3,
		model:      conversation.DefaultModel,
		locks:      helpers.NewKeyedMutex(),
	}
	for _, o := range options {
		if o == nil {
			continue
		}
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type AppendRequest struct {
	ChatID  string
	Role    conversation.Role
	Content *string
	Model   string
}

type AppendResult struct {
	Chat      *store.Chat
	MessageID string
	ParentID  string
	Attempts  int
}

// AppendMessage adds a message under the chat's current message and persists it.
func (s *Service) AppendMessage(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if req.ChatID == "" {
		return nil, &conversation.ValidationError{Field: "chat_id", Reason: "must not be empty"}
	}
	model := req.Model
	if model == "" {
		model = s.model
	}

	var messageID, parentID string
	started := time.Now()
	chat, attempts, err := s.update(ctx, OperationAppend, req.ChatID, func(c *store.Chat) error {
		doc, id, err := s.mutator.AppendMessage(c.History, req.Role, req.Content, conversation.WithModel(model))
		if err != nil {
			return err
		}
		c.History = doc
		messageID = id
		parentID = doc.Messages[id].ParentID
		return nil
	})
	s.observe(OperationAppend, started, err)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("chat_id", chat.ID).
		Str("message_id", messageID).
		Str("parent_id", parentID).
		Str("role", string(req.Role)).
		Int("attempts", attempts).
		Msg("appended message to chat")

	s.notify(ctx, events.NewMessageAppendedEvent(chat.ID, chat.UserID, messageID, parentID, string(req.Role)))

	return &AppendResult{
		Chat:      chat,
		MessageID: messageID,
		ParentID:  parentID,
		Attempts:  attempts,
	}, nil
}

// SetInputEnabled toggles whether the chat accepts new user input.
func (s *Service) SetInputEnabled(ctx context.Context, chatID string, enabled bool) (*store.Chat, error) {
	if chatID == "" {
		return nil, &conversation.ValidationError{Field: "chat_id", Reason: "must not be empty"}
	}
	started := time.Now()
	chat, _, err := s.update(ctx, OperationSetInput, chatID, func(c *store.Chat) error {
		c.InputEnabled = enabled
		return nil
	})
	s.observe(OperationSetInput, started, err)
	if err != nil {
		return nil, err
	}

	log.Info().Str("chat_id", chat.ID).Bool("enabled", enabled).Msg("set chat input")
	s.notify(ctx, events.NewInputToggledEvent(chat.ID, chat.UserID, enabled))
	return chat, nil
}

func (s *Service) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	return s.store.GetChat(ctx, id)
}

func (s *Service) ListChats(ctx context.Context, opts store.ListOptions) ([]*store.Chat, error) {
	return s.store.ListChats(ctx, opts)
}

// update runs one read-modify-write transaction on chatID. mutate works on a private
// copy; a version conflict reloads and runs it again, any other error ends the loop.
func (s *Service) update(ctx context.Context, op string, chatID string, mutate func(*store.Chat) error) (*store.Chat, int, error) {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		loaded, err := s.store.GetChat(ctx, chatID)
		if err != nil {
			return nil, attempt, err
		}
		work := loaded.Clone()
		if work.History == nil {
			work.History = conversation.NewDocument()
		}
		if err := mutate(work); err != nil {
			return nil, attempt, err
		}

		err = s.store.SaveChat(ctx, work, store.SaveOptions{ExpectedVersion: loaded.Version})
		if err == nil {
			return work, attempt, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, attempt, errors.Wrapf(err, "save chat %s", chatID)
		}

		s.metrics.ObserveConflict(op)
		log.Debug().
			Err(err).
			Str("chat_id", chatID).
			Str("operation", op).
			Int("attempt", attempt).
			Msg("chat changed underneath us, retrying")
		lastErr = err
	}
	return nil, s.maxRetries + 1, errors.Wrapf(lastErr, "giving up on chat %s after %d attempts", chatID, s.maxRetries+1)
}

func (s *Service) notify(ctx context.Context, e events.Event) {
	if e.Meta.CorrelationID == "" {
		e.Meta.CorrelationID = helpers.CorrelationIDFromContext(ctx)
	}
	err := events.NotifyBestEffort(ctx, s.notifier, e)
	s.metrics.ObserveNotification(string(e.Type), err)
}

func (s *Service) observe(op string, started time.Time, err error) {
	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, store.ErrVersionConflict):
		result = metrics.ResultConflict
	default:
		result = metrics.ResultError
	}
	s.metrics.ObserveMutation(op, result, time.Since(started).Seconds())
}
