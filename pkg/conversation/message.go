package conversation

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// RolePolicy is the whitelist of roles the mutator accepts.
type RolePolicy map[Role]struct{}

// DefaultRolePolicy accepts user and assistant messages.
func DefaultRolePolicy() RolePolicy {
	return NewRolePolicy(RoleUser, RoleAssistant)
}

func NewRolePolicy(roles ...Role) RolePolicy {
	ret := RolePolicy{}
	for _, r := range roles {
		ret[r] = struct{}{}
	}
	return ret
}

// With returns a copy of the policy that also accepts the given roles.
func (p RolePolicy) With(roles ...Role) RolePolicy {
	ret := make(RolePolicy, len(p)+len(roles))
	for r := range p {
		ret[r] = struct{}{}
	}
	for _, r := range roles {
		ret[r] = struct{}{}
	}
	return ret
}

func (p RolePolicy) Allows(r Role) bool {
	_, ok := p[r]
	return ok
}

// Message is a single node in the conversation tree.
//
// Fields the application stores that chatctl does not model (selected models,
// attached files, usage, ...) are kept in Extra so that decoding and re-encoding an
// untouched message does not lose them.
type Message struct {
	ID          string   `json:"id"`
	ParentID    string   `json:"parentId"`
	ChildrenIDs []string `json:"childrenIds"`
	Role        Role     `json:"role"`
	Content     string   `json:"content"`
	Timestamp   int64    `json:"timestamp"`
	Done        bool     `json:"done"`
	Model       string   `json:"model"`

	Extra map[string]json.RawMessage `json:"-"`

	stored *storedMessage
}

// storedMessage is a decoded message's known keys as they were read. MarshalJSON
// re-emits a key whose field still holds the decoded value verbatim, or leaves it out
// if it was absent.
type storedMessage struct {
	raw         map[string]json.RawMessage
	id          string
	parentID    string
	childrenIDs []string
	role        Role
	content     string
	timestamp   int64
	done        bool
	model       string
}

var knownMessageKeys = map[string]struct{}{
	"id":          {},
	"parentId":    {},
	"childrenIds": {},
	"role":        {},
	"content":     {},
	"timestamp":   {},
	"done":        {},
	"model":       {},
}

// Intermediate representation for unmarshaling. Pointers distinguish missing keys
// from zero values.
type messageAlias struct {
	ID          string   `json:"id"`
	ParentID    *string  `json:"parentId"`
	ChildrenIDs []string `json:"childrenIds"`
	Role        Role     `json:"role"`
	Content     *string  `json:"content"`
	Timestamp   *float64 `json:"timestamp"`
	Done        *bool    `json:"done"`
	Model       *string  `json:"model"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var ma messageAlias
	if err := json.Unmarshal(data, &ma); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message{
		ID:          ma.ID,
		ChildrenIDs: ma.ChildrenIDs,
		Role:        ma.Role,
	}
	if ma.ParentID != nil {
		m.ParentID = *ma.ParentID
	}
	if ma.Content != nil {
		m.Content = *ma.Content
	}
	if ma.Timestamp != nil {
		m.Timestamp = int64(*ma.Timestamp)
	}
	if ma.Done != nil {
		m.Done = *ma.Done
	}
	if ma.Model != nil {
		m.Model = *ma.Model
	}
	if m.ChildrenIDs == nil {
		m.ChildrenIDs = []string{}
	}

	stored := &storedMessage{
		raw:         map[string]json.RawMessage{},
		id:          m.ID,
		parentID:    m.ParentID,
		childrenIDs: slices.Clone(m.ChildrenIDs),
		role:        m.Role,
		content:     m.Content,
		timestamp:   m.Timestamp,
		done:        m.Done,
		model:       m.Model,
	}
	for k, v := range raw {
		if _, ok := knownMessageKeys[k]; ok {
			stored.raw[k] = v
			continue
		}
		if m.Extra == nil {
			m.Extra = map[string]json.RawMessage{}
		}
		m.Extra[k] = v
	}
	m.stored = stored
	return nil
}

// MarshalJSON writes every known key for a message built in memory. For a decoded
// message, unchanged keys keep their stored bytes and absent ones stay absent.
func (m Message) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(knownMessageKeys)+len(m.Extra))
	for k, v := range m.Extra {
		fields[k] = v
	}

	decoded := m.stored != nil
	s := m.stored
	if !decoded {
		s = &storedMessage{}
	}
	put := func(key string, unchanged bool, value any) {
		if decoded && unchanged {
			if raw, ok := s.raw[key]; ok {
				fields[key] = raw
			}
			return
		}
		fields[key] = value
	}

	var parentID any
	if m.ParentID != "" {
		parentID = m.ParentID
	}
	children := m.ChildrenIDs
	if children == nil {
		children = []string{}
	}

	put("id", s.id == m.ID, m.ID)
	put("parentId", s.parentID == m.ParentID, parentID)
	put("childrenIds", slices.Equal(s.childrenIDs, m.ChildrenIDs), children)
	put("role", s.role == m.Role, m.Role)
	put("content", s.content == m.Content, m.Content)
	put("timestamp", s.timestamp == m.Timestamp, m.Timestamp)
	put("done", s.done == m.Done, m.Done)
	put("model", s.model == m.Model, m.Model)

	return marshalSorted(fields)
}

func marshalSorted(fields map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
