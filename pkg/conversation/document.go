package conversation

import (
	"encoding/json"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// Document is the persisted state of one chat's message tree.
//
// Messages are indexed by id. Parent and child links are stored on both ends:
// a message's ParentID points up and the parent's ChildrenIDs points down.
// CurrentID designates the active leaf used as the default parent for the next append.
type Document struct {
	Messages  map[string]*Message
	CurrentID string
	// UpdatedAt is refreshed to the mutator's clock on every append.
	UpdatedAt int64

	Extra map[string]json.RawMessage

	stored *storedDocument
}

// storedDocument keeps the decoded currentId and updatedAt so an unchanged value is
// written back as it was read.
type storedDocument struct {
	raw       map[string]json.RawMessage
	currentID string
	updatedAt int64
}

func NewDocument() *Document {
	return &Document{
		Messages: map[string]*Message{},
	}
}

var knownDocumentKeys = map[string]struct{}{
	"messages":  {},
	"currentId": {},
	"updatedAt": {},
}

type documentAlias struct {
	Messages  map[string]*Message `json:"messages"`
	CurrentID *string             `json:"currentId"`
	UpdatedAt *float64            `json:"updatedAt"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var da documentAlias
	if err := json.Unmarshal(data, &da); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document{Messages: da.Messages}
	if d.Messages == nil {
		d.Messages = map[string]*Message{}
	}
	if da.CurrentID != nil {
		d.CurrentID = *da.CurrentID
	}
	if da.UpdatedAt != nil {
		d.UpdatedAt = int64(*da.UpdatedAt)
	}
	stored := &storedDocument{
		raw:       map[string]json.RawMessage{},
		currentID: d.CurrentID,
		updatedAt: d.UpdatedAt,
	}
	for k, v := range raw {
		if _, ok := knownDocumentKeys[k]; ok {
			stored.raw[k] = v
			continue
		}
		if d.Extra == nil {
			d.Extra = map[string]json.RawMessage{}
		}
		d.Extra[k] = v
	}
	d.stored = stored
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(knownDocumentKeys)+len(d.Extra))
	for k, v := range d.Extra {
		fields[k] = v
	}

	messages := d.Messages
	if messages == nil {
		messages = map[string]*Message{}
	}
	fields["messages"] = messages

	s := d.stored
	switch {
	case s != nil && s.currentID == d.CurrentID:
		if raw, ok := s.raw["currentId"]; ok {
			fields["currentId"] = raw
		}
	case d.CurrentID == "":
		fields["currentId"] = nil
	default:
		fields["currentId"] = d.CurrentID
	}
	switch {
	case s != nil && s.updatedAt == d.UpdatedAt:
		if raw, ok := s.raw["updatedAt"]; ok {
			fields["updatedAt"] = raw
		}
	case d.UpdatedAt != 0:
		fields["updatedAt"] = d.UpdatedAt
	}

	return marshalSorted(fields)
}

// ParseDocument decodes a stored history object and validates its structure so that
// the mutator never operates on unchecked data.
func ParseDocument(data []byte) (*Document, error) {
	d := NewDocument()
	if len(data) == 0 || string(data) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, errors.Wrap(&ValidationError{Reason: err.Error()}, "decode conversation document")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the structural invariants of the tree.
//
// A message stored under a key without an id gets the key as id. A dangling CurrentID
// is not reported here; AppendMessage handles it.
func (d *Document) Validate() error {
	if d == nil {
		return &ValidationError{Reason: "document is nil"}
	}
	for key, msg := range d.Messages {
		if msg == nil {
			return &ValidationError{Field: "messages." + key, Reason: "message is null"}
		}
		if msg.ID == "" {
			msg.ID = key
		}
		if msg.ID != key {
			return &ValidationError{
				Field:  "messages." + key,
				Reason: "id " + msg.ID + " does not match key",
			}
		}
		seen := make(map[string]struct{}, len(msg.ChildrenIDs))
		for _, child := range msg.ChildrenIDs {
			if _, ok := d.Messages[child]; !ok {
				return &ValidationError{
					Field:  "messages." + key + ".childrenIds",
					Reason: "unknown child " + child,
				}
			}
			if _, dup := seen[child]; dup {
				return &ValidationError{
					Field:  "messages." + key + ".childrenIds",
					Reason: "duplicate child " + child,
				}
			}
			seen[child] = struct{}{}
		}
	}
	return nil
}

// Clone returns a deep copy. Callers mutate the copy so the loaded instance stays intact
// if the save fails.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return clone.Clone(d).(*Document)
}

func (d *Document) Get(id string) (*Message, bool) {
	if d == nil || id == "" {
		return nil, false
	}
	msg, ok := d.Messages[id]
	if !ok || msg == nil {
		return nil, false
	}
	return msg, true
}

// Current returns the message CurrentID points to, if it resolves.
func (d *Document) Current() (*Message, bool) {
	if d == nil {
		return nil, false
	}
	return d.Get(d.CurrentID)
}

// Thread retrieves the linear conversation from the root down to the given message.
// Broken or cyclic parent links end the walk.
func (d *Document) Thread(id string) []*Message {
	var thread []*Message
	visited := map[string]struct{}{}
	for id != "" {
		if _, ok := visited[id]; ok {
			break
		}
		visited[id] = struct{}{}
		node, ok := d.Get(id)
		if !ok {
			break
		}
		thread = append([]*Message{node}, thread...)
		id = node.ParentID
	}
	return thread
}

func (d *Document) CurrentThread() []*Message {
	if d == nil {
		return nil
	}
	return d.Thread(d.CurrentID)
}

// Roots returns the ids of all messages without a resolvable parent, in no particular order.
func (d *Document) Roots() []string {
	var ret []string
	for id, msg := range d.Messages {
		if _, ok := d.Get(msg.ParentID); !ok {
			ret = append(ret, id)
		}
	}
	return ret
}
