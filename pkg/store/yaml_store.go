package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// YAMLChatStore keeps one YAML file per chat in a directory. Handy for fixtures and
// for inspecting or hand-editing a conversation.
type YAMLChatStore struct {
	mu     sync.RWMutex
	dir    string
	now    func() time.Time
	closed bool
}

var _ ChatStore = (*YAMLChatStore)(nil)

type yamlChatFile struct {
	ID           string `yaml:"id"`
	UserID       string `yaml:"user_id,omitempty"`
	Title        string `yaml:"title,omitempty"`
	InputEnabled bool   `yaml:"input_enabled"`
	Archived     bool   `yaml:"archived,omitempty"`
	CreatedAt    int64  `yaml:"created_at"`
	UpdatedAt    int64  `yaml:"updated_at"`
	Version      uint64 `yaml:"version"`
	// Chat is the JSON payload, kept as text so numbers and unknown keys survive untouched.
	Chat string `yaml:"chat"`
}

func NewYAMLChatStore(dir string) (*YAMLChatStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("yaml chat store: empty directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	return &YAMLChatStore{dir: dir, now: time.Now}, nil
}

func (s *YAMLChatStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	return s.readFile(path, id)
}

func (s *YAMLChatStore) ListChats(_ context.Context, opts ListOptions) ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.dir)
	}
	var out []*Chat
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		c, err := s.readFile(filepath.Join(s.dir, e.Name()), id)
		if err != nil {
			return nil, err
		}
		if !matchesList(c, opts) {
			continue
		}
		out = append(out, c)
	}
	sortByUpdatedDesc(out)
	return applyLimit(out, opts.Limit), nil
}

func (s *YAMLChatStore) SaveChat(_ context.Context, chat *Chat, opts SaveOptions) error {
	if err := ValidateChat(chat); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	path, err := s.pathFor(chat.ID)
	if err != nil {
		return err
	}

	var existing *Chat
	c, err := s.readFile(path, chat.ID)
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
	payload, err := encodePayload(next)
	if err != nil {
		return err
	}
	var pretty strings.Builder
	if err := indentJSON(&pretty, payload); err != nil {
		return err
	}

	f := yamlChatFile{
		ID:           next.ID,
		UserID:       next.UserID,
		Title:        next.Title,
		InputEnabled: next.InputEnabled,
		Archived:     next.Archived,
		CreatedAt:    next.CreatedAt,
		UpdatedAt:    next.UpdatedAt,
		Version:      next.Version,
		Chat:         pretty.String(),
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return errors.Wrapf(err, "encode chat %s", chat.ID)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "rename %s", tmp)
	}
	applySaved(chat, next)
	return nil
}

func (s *YAMLChatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *YAMLChatStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *YAMLChatStore) pathFor(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.Errorf("yaml chat store: invalid chat id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

func (s *YAMLChatStore) readFile(path, id string) (*Chat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var f yamlChatFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if f.ID == "" {
		f.ID = id
	}
	sc := &storedChat{
		ID:           f.ID,
		UserID:       f.UserID,
		Title:        f.Title,
		InputEnabled: f.InputEnabled,
		Archived:     f.Archived,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
		Version:      f.Version,
		Chat:         json.RawMessage(f.Chat),
	}
	return sc.toChat()
}

func indentJSON(w *strings.Builder, data []byte) error {
	var v json.RawMessage = data
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	w.Write(out)
	w.WriteByte('\n')
	return nil
}
