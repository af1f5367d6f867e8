package store

import (
	"errors"
	"fmt"

	"github.com/go-go-golems/chatctl/pkg/conversation"
)

var (
	ErrChatNotFound    = &NotFoundError{}
	ErrVersionConflict = errors.New("version conflict")
	ErrStoreClosed     = errors.New("store is closed")
)

// NotFoundError reports a missing chat. It matches conversation.ErrNotFound.
type NotFoundError struct {
	ChatID string
}

func (e *NotFoundError) Error() string {
	if e == nil || e.ChatID == "" {
		return "chat not found"
	}
	return fmt.Sprintf("chat %q not found", e.ChatID)
}

func (e *NotFoundError) Is(target error) bool {
	if target == conversation.ErrNotFound {
		return true
	}
	_, ok := target.(*NotFoundError)
	return ok
}

func notFound(id string) error {
	return &NotFoundError{ChatID: id}
}

// VersionConflictError reports optimistic-locking failures.
type VersionConflictError struct {
	ChatID   string
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	if e == nil {
		return ErrVersionConflict.Error()
	}
	return fmt.Sprintf("chat %q version conflict: expected=%d actual=%d", e.ChatID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
