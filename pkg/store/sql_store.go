package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const sqlChatTableV1 = `
CREATE TABLE IF NOT EXISTS chat (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    chat TEXT NOT NULL,
    input_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    created_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1
)`

const sqlChatIndexV1 = `CREATE INDEX IF NOT EXISTS chat_user_id_idx ON chat (user_id)`

// chatColumnDefs are added to an existing chat table that lacks them. The web app's own
// table has no input_enabled or version column. Its rows start at version 1 so a loaded
// chat always carries a non-zero expected version.
var chatColumnDefs = []struct {
	name string
	def  string
}{
	{"user_id", "TEXT NOT NULL DEFAULT ''"},
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"input_enabled", "BOOLEAN NOT NULL DEFAULT TRUE"},
	{"archived", "BOOLEAN NOT NULL DEFAULT FALSE"},
	{"created_at", "BIGINT NOT NULL DEFAULT 0"},
	{"updated_at", "BIGINT NOT NULL DEFAULT 0"},
	{"version", "BIGINT NOT NULL DEFAULT 1"},
}

// SQLChatStore persists chats in a SQL database (SQLite or Postgres).
//
// The conversation lives as one JSON payload per row. Writes with an expected version
// use a conditional UPDATE so concurrent writers from other processes are detected.
type SQLChatStore struct {
	mu     sync.RWMutex
	db     *sqlx.DB
	driver string
	now    func() time.Time
	closed bool
}

var _ ChatStore = (*SQLChatStore)(nil)

type chatRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Title        string         `db:"title"`
	Chat         sql.NullString `db:"chat"`
	InputEnabled bool           `db:"input_enabled"`
	Archived     bool           `db:"archived"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
	Version      uint64         `db:"version"`
}

const chatColumns = `id, user_id, title, chat, input_enabled, archived, created_at, updated_at, version`

// NewSQLChatStore opens the database with the given driver ("sqlite3" or "postgres")
// and applies the schema.
func NewSQLChatStore(ctx context.Context, driver, dsn string) (*SQLChatStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sql chat store: empty dsn")
	}
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("sql chat store: unsupported driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", driver)
	}
	if driver == "sqlite3" {
		// single writer, WAL handles concurrent readers
		db.SetMaxOpenConns(1)
	}

	s := &SQLChatStore{
		db:     db,
		driver: driver,
		now:    time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("driver", driver).Msg("opened sql chat store")
	return s, nil
}

// migrate creates the chat table, or adds chatctl's columns to an existing one. Columns
// chatctl does not know about (share_id, pinned, meta, folder_id, ...) are left alone.
func (s *SQLChatStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlChatTableV1); err != nil {
		return errors.Wrap(err, "create chat table")
	}

	existing, err := s.columns(ctx)
	if err != nil {
		return err
	}
	for _, col := range chatColumnDefs {
		if _, ok := existing[col.name]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE chat ADD COLUMN %s %s", col.name, col.def)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "add chat column %s", col.name)
		}
		log.Info().Str("column", col.name).Msg("added column to existing chat table")
	}

	if _, err := s.db.ExecContext(ctx, sqlChatIndexV1); err != nil {
		return errors.Wrap(err, "create chat index")
	}
	return nil
}

func (s *SQLChatStore) columns(ctx context.Context) (map[string]struct{}, error) {
	q := `SELECT name FROM pragma_table_info('chat')`
	if s.driver == "postgres" {
		q = `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = 'chat'`
	}
	var names []string
	if err := s.db.SelectContext(ctx, &names, q); err != nil {
		return nil, errors.Wrap(err, "inspect chat table")
	}
	ret := make(map[string]struct{}, len(names))
	for _, n := range names {
		ret[strings.ToLower(n)] = struct{}{}
	}
	return ret, nil
}

func (s *SQLChatStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	var row chatRow
	q := s.db.Rebind(`SELECT ` + chatColumns + ` FROM chat WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, errors.Wrapf(err, "get chat %s", id)
	}
	return row.toChat()
}

func (s *SQLChatStore) ListChats(ctx context.Context, opts ListOptions) ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if !opts.IncludeArchived {
		where = append(where, "archived = ?")
		args = append(args, false)
	}
	q := `SELECT ` + chatColumns + ` FROM chat`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY updated_at DESC, id ASC`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	var rows []chatRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	out := make([]*Chat, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toChat()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLChatStore) SaveChat(ctx context.Context, chat *Chat, opts SaveOptions) error {
	if err := ValidateChat(chat); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing *Chat
	var current chatRow
	err = tx.GetContext(ctx, &current, tx.Rebind(`SELECT `+chatColumns+` FROM chat WHERE id = ?`), chat.ID)
	switch {
	case err == nil:
		existing = &Chat{ID: current.ID, Version: current.Version, CreatedAt: current.CreatedAt}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return errors.Wrapf(err, "load chat %s", chat.ID)
	}

	next, err := prepareSave(chat, existing, opts, s.now())
	if err != nil {
		return err
	}
	row, err := rowFromChat(next)
	if err != nil {
		return err
	}

	if existing == nil {
		_, err = tx.NamedExecContext(ctx, `INSERT INTO chat (`+chatColumns+`)
VALUES (:id, :user_id, :title, :chat, :input_enabled, :archived, :created_at, :updated_at, :version)`, row)
		if err != nil {
			return errors.Wrapf(err, "insert chat %s", chat.ID)
		}
	} else {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chat
SET user_id = ?, title = ?, chat = ?, input_enabled = ?, archived = ?, created_at = ?, updated_at = ?, version = ?
WHERE id = ? AND version = ?`),
			row.UserID, row.Title, row.Chat, row.InputEnabled, row.Archived, row.CreatedAt, row.UpdatedAt, row.Version,
			row.ID, existing.Version,
		)
		if err != nil {
			return errors.Wrapf(err, "update chat %s", chat.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected")
		}
		if n == 0 {
			return &VersionConflictError{ChatID: chat.ID, Expected: existing.Version}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	applySaved(chat, next)
	return nil
}

func (s *SQLChatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLChatStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return fmt.Errorf("sql chat store db is nil")
	}
	return nil
}

func rowFromChat(c *Chat) (*chatRow, error) {
	payload, err := encodePayload(c)
	if err != nil {
		return nil, err
	}
	return &chatRow{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		Chat:         sql.NullString{String: string(payload), Valid: true},
		InputEnabled: c.InputEnabled,
		Archived:     c.Archived,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Version:      c.Version,
	}, nil
}

func (r *chatRow) toChat() (*Chat, error) {
	c := &Chat{
		ID:           r.ID,
		UserID:       r.UserID,
		Title:        r.Title,
		InputEnabled: r.InputEnabled,
		Archived:     r.Archived,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
	if err := decodePayload([]byte(r.Chat.String), c); err != nil {
		return nil, err
	}
	return c, nil
}

// SQLiteDSNForFile builds a DSN with WAL journaling and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite chat store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
