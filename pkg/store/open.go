package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Open builds a ChatStore from a store source string:
//
//	memory:
//	sqlite:<path>
//	sqlite-dsn:<dsn>
//	postgres://... (or postgresql://...)
//	yaml:<dir>
//	pebble:<dir>
func Open(ctx context.Context, source string) (ChatStore, error) {
	raw := strings.TrimSpace(source)
	if raw == "" {
		return nil, errors.New("empty store source")
	}

	switch {
	case raw == "memory" || raw == "memory:":
		return NewInMemoryChatStore(), nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return NewSQLChatStore(ctx, "postgres", raw)
	}

	kind, value, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, errors.Errorf("invalid store source %q (expected <kind>:<value>)", source)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.Errorf("store source %q is missing a path", source)
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sqlite":
		dsn, err := SQLiteDSNForFile(value)
		if err != nil {
			return nil, err
		}
		return NewSQLChatStore(ctx, "sqlite3", dsn)
	case "sqlite-dsn":
		return NewSQLChatStore(ctx, "sqlite3", value)
	case "yaml":
		return NewYAMLChatStore(value)
	case "pebble":
		return NewPebbleChatStore(value)
	default:
		return nil, errors.Errorf("unsupported store kind %q in source %q", kind, source)
	}
}
