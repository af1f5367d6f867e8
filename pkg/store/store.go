package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// Chat is one stored chat row: ownership, flags and the conversation history.
type Chat struct {
	ID           string
	UserID       string
	Title        string
	History      *conversation.Document
	InputEnabled bool
	Archived     bool
	CreatedAt    int64
	UpdatedAt    int64
	Version      uint64

	// Extra holds the other top-level keys of the stored chat payload.
	Extra map[string]json.RawMessage
}

func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Chat)
}

// SaveOptions carries write context for chat persistence.
type SaveOptions struct {
	// ExpectedVersion, when non-zero, must equal the stored version for the save to apply.
	ExpectedVersion uint64
}

type ListOptions struct {
	UserID          string
	IncludeArchived bool
	Limit           int
}

// ChatStoreReader provides read operations over stored chats.
type ChatStoreReader interface {
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context, opts ListOptions) ([]*Chat, error)
}

// ChatStoreWriter provides write operations over stored chats.
type ChatStoreWriter interface {
	SaveChat(ctx context.Context, chat *Chat, opts SaveOptions) error
	Close() error
}

// ChatStore is the persistence abstraction used by the chat service.
type ChatStore interface {
	ChatStoreReader
	ChatStoreWriter
}

// chatPayload is the JSON stored in the chat column / value.
type chatPayload struct {
	Title   string
	History *conversation.Document
	Extra   map[string]json.RawMessage
}

func (p chatPayload) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		fields[k] = v
	}
	fields["title"] = p.Title
	history := p.History
	if history == nil {
		history = conversation.NewDocument()
	}
	fields["history"] = history
	return json.Marshal(fields)
}

func (p *chatPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = chatPayload{}
	for k, v := range raw {
		switch k {
		case "title":
			if err := json.Unmarshal(v, &p.Title); err != nil {
				return errors.Wrap(err, "decode title")
			}
		case "history":
			doc, err := conversation.ParseDocument(v)
			if err != nil {
				return err
			}
			p.History = doc
		default:
			if p.Extra == nil {
				p.Extra = map[string]json.RawMessage{}
			}
			p.Extra[k] = v
		}
	}
	if p.History == nil {
		p.History = conversation.NewDocument()
	}
	return nil
}

func encodePayload(c *Chat) ([]byte, error) {
	return json.Marshal(chatPayload{Title: c.Title, History: c.History, Extra: c.Extra})
}

func decodePayload(data []byte, c *Chat) error {
	var p chatPayload
	if len(data) == 0 {
		c.History = conversation.NewDocument()
		return nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrapf(err, "decode chat %s", c.ID)
	}
	if c.Title == "" {
		c.Title = p.Title
	}
	c.History = p.History
	c.Extra = p.Extra
	return nil
}

// storedChat is the serialized form used by the key/value and file backends.
type storedChat struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Title        string          `json:"title"`
	InputEnabled bool            `json:"input_enabled"`
	Archived     bool            `json:"archived"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
	Version      uint64          `json:"version"`
	Chat         json.RawMessage `json:"chat"`
}

func toStored(c *Chat) (*storedChat, error) {
	payload, err := encodePayload(c)
	if err != nil {
		return nil, err
	}
	return &storedChat{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		InputEnabled: c.InputEnabled,
		Archived:     c.Archived,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Version:      c.Version,
		Chat:         payload,
	}, nil
}

func (s *storedChat) toChat() (*Chat, error) {
	c := &Chat{
		ID:           s.ID,
		UserID:       s.UserID,
		Title:        s.Title,
		InputEnabled: s.InputEnabled,
		Archived:     s.Archived,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Version:      s.Version,
	}
	if err := decodePayload(s.Chat, c); err != nil {
		return nil, err
	}
	return c, nil
}

// prepareSave validates the chat and stamps timestamps and the next version.
func prepareSave(chat *Chat, existing *Chat, opts SaveOptions, now time.Time) (*Chat, error) {
	if err := ValidateChat(chat); err != nil {
		return nil, err
	}
	var actual uint64
	if existing != nil {
		actual = existing.Version
	}
	if err := assertExpectedVersion(chat.ID, opts.ExpectedVersion, actual); err != nil {
		return nil, err
	}

	next := chat.Clone()
	if next.History == nil {
		next.History = conversation.NewDocument()
	}
	if next.CreatedAt == 0 {
		if existing != nil && existing.CreatedAt != 0 {
			next.CreatedAt = existing.CreatedAt
		} else {
			next.CreatedAt = now.Unix()
		}
	}
	next.UpdatedAt = now.Unix()
	next.Version = actual + 1
	return next, nil
}

func ValidateChat(chat *Chat) error {
	if chat == nil {
		return &conversation.ValidationError{Field: "chat", Reason: "chat is nil"}
	}
	if chat.ID == "" {
		return &conversation.ValidationError{Field: "chat.id", Reason: "must not be empty"}
	}
	if chat.History != nil {
		if err := chat.History.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func assertExpectedVersion(id string, expected, actual uint64) error {
	if expected == 0 {
		return nil
	}
	if expected == actual {
		return nil
	}
	return &VersionConflictError{
		ChatID:   id,
		Expected: expected,
		Actual:   actual,
	}
}

func matchesList(c *Chat, opts ListOptions) bool {
	if opts.UserID != "" && c.UserID != opts.UserID {
		return false
	}
	if c.Archived && !opts.IncludeArchived {
		return false
	}
	return true
}

// applySaved copies the store-assigned fields back onto the caller's chat.
func applySaved(dst, saved *Chat) {
	dst.Version = saved.Version
	dst.CreatedAt = saved.CreatedAt
	dst.UpdatedAt = saved.UpdatedAt
}

func sortByUpdatedDesc(chats []*Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt != chats[j].UpdatedAt {
			return chats[i].UpdatedAt > chats[j].UpdatedAt
		}
		return chats[i].ID < chats[j].ID
	})
}

func applyLimit(chats []*Chat, limit int) []*Chat {
	if limit > 0 && len(chats) > limit {
		return chats[:limit]
	}
	return chats
}
