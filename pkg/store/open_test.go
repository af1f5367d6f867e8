package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cases := []struct {
		source string
		want   any
	}{
		{source: "memory:", want: &InMemoryChatStore{}},
		{source: "memory", want: &InMemoryChatStore{}},
		{source: "sqlite:" + filepath.Join(dir, "a.db"), want: &SQLChatStore{}},
		{source: "sqlite-dsn:file:" + filepath.Join(dir, "b.db") + "?_busy_timeout=1000", want: &SQLChatStore{}},
		{source: "yaml:" + filepath.Join(dir, "yaml"), want: &YAMLChatStore{}},
		{source: "pebble:" + filepath.Join(dir, "kv"), want: &PebbleChatStore{}},
	}
	for _, tc := range cases {
		t.Run(tc.source, func(t *testing.T) {
			s, err := Open(ctx, tc.source)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			assert.IsType(t, tc.want, s)
		})
	}
}

func TestOpenRejectsBadSpecs(t *testing.T) {
	ctx := context.Background()
	for _, source := range []string{"", "   ", "sqlite:", "yaml", "redis:localhost:6379"} {
		_, err := Open(ctx, source)
		assert.Error(t, err, "source %q", source)
	}
}
