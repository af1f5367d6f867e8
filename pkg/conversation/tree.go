package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultModel labels messages that chatctl injects itself.
const DefaultModel = "chatctl"

// Mutator appends messages to conversation documents.
//
// It performs no I/O and holds no locks: the caller must own the document for the
// duration of the call (see Document.Clone).
type Mutator struct {
	NewID  func() string
	Now    func() time.Time
	Roles  RolePolicy
	Logger *zerolog.Logger
}

type MutatorOption func(*Mutator)

func WithIDGenerator(f func() string) MutatorOption {
	return func(m *Mutator) {
		m.NewID = f
	}
}

func WithClock(f func() time.Time) MutatorOption {
	return func(m *Mutator) {
		m.Now = f
	}
}

func WithRolePolicy(p RolePolicy) MutatorOption {
	return func(m *Mutator) {
		m.Roles = p
	}
}

func WithLogger(l zerolog.Logger) MutatorOption {
	return func(m *Mutator) {
		m.Logger = &l
	}
}

func NewMutator(options ...MutatorOption) *Mutator {
	ret := &Mutator{
		NewID: uuid.NewString,
		Now:   time.Now,
		Roles: DefaultRolePolicy(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

type appendSettings struct {
	model string
}

type AppendOption func(*appendSettings)

// WithModel sets the generation-source label stored on the new message.
func WithModel(model string) AppendOption {
	return func(s *appendSettings) {
		s.model = model
	}
}

func (m *Mutator) logger() *zerolog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return &log.Logger
}

// AppendMessage links a new message below the document's current message (or as a new
// root when there is none) and moves the current pointer to it.
//
// content must be non-nil; an empty string is a valid message. A CurrentID that does
// not resolve is logged and treated as "no parent".
func (m *Mutator) AppendMessage(doc *Document, role Role, content *string, options ...AppendOption) (*Document, string, error) {
	if doc == nil {
		return nil, "", &ValidationError{Field: "document", Reason: "document is nil"}
	}
	if content == nil {
		return doc, "", &ValidationError{Field: "content", Reason: "content is required"}
	}
	roles := m.Roles
	if roles == nil {
		roles = DefaultRolePolicy()
	}
	if !roles.Allows(role) {
		return doc, "", &ValidationError{Field: "role", Reason: "unsupported role " + string(role)}
	}

	s := &appendSettings{model: DefaultModel}
	for _, o := range options {
		o(s)
	}

	if doc.Messages == nil {
		doc.Messages = map[string]*Message{}
	}

	var parent *Message
	if doc.CurrentID != "" {
		p, ok := doc.Get(doc.CurrentID)
		if ok {
			parent = p
		} else {
			m.logger().Warn().
				Err(ErrInconsistentState).
				Str("current_id", doc.CurrentID).
				Int("message_count", len(doc.Messages)).
				Msg("current message does not exist, appending as new root")
		}
	}

	newID := m.newID()
	if newID == "" {
		return doc, "", errors.Wrap(ErrInconsistentState, "id generator returned an empty id")
	}
	if _, exists := doc.Messages[newID]; exists {
		return doc, "", errors.Wrapf(ErrInconsistentState, "generated id %s already present in document", newID)
	}

	now := m.now()
	msg := &Message{
		ID:          newID,
		ChildrenIDs: []string{},
		Role:        role,
		Content:     *content,
		Timestamp:   now.Unix(),
		Done:        true,
		Model:       s.model,
	}
	if parent != nil {
		msg.ParentID = parent.ID
		parent.ChildrenIDs = append(parent.ChildrenIDs, newID)
	}

	doc.Messages[newID] = msg
	doc.CurrentID = newID
	doc.UpdatedAt = now.Unix()

	m.logger().Debug().
		Str("message_id", newID).
		Str("parent_id", msg.ParentID).
		Str("role", string(role)).
		Int("message_count", len(doc.Messages)).
		Msg("appended message")

	return doc, newID, nil
}

func (m *Mutator) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

func (m *Mutator) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
