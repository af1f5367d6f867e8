package cmds

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/chatctl/pkg/config"
	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) string {
	t.Helper()
	viper.Reset()
	config.SetDefaults(viper.GetViper())
	dir := t.TempDir()
	source := "yaml:" + filepath.Join(dir, "chats")
	viper.Set("store", source)
	viper.Set("env-file", filepath.Join(dir, ".env"))
	viper.Set("secret-key-file", filepath.Join(dir, ".webui_secret_key"))
	t.Cleanup(viper.Reset)

	s, err := store.Open(context.Background(), source)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.SaveChat(context.Background(), &store.Chat{
		ID:           "c1",
		UserID:       "alice",
		Title:        "Greetings",
		History:      conversation.NewDocument(),
		InputEnabled: true,
	}, store.SaveOptions{}))
	return source
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAppendShowAndList(t *testing.T) {
	source := setupStore(t)

	out, err := run(t, NewAppendCommand(), "c1", "--content", "hi there")
	require.NoError(t, err)
	assert.Contains(t, out, "under (root) in chat c1")

	_, err = run(t, NewAppendCommand(), "c1", "--role", "assistant", "--content", "hello")
	require.NoError(t, err)

	s, err := store.Open(context.Background(), source)
	require.NoError(t, err)
	chat, err := s.GetChat(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, chat.History.Messages, 2)
	assert.Len(t, chat.History.CurrentThread(), 2)

	out, err = run(t, NewShowCommand(), "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "[user]")
	assert.Contains(t, out, "  hi there")
	assert.Contains(t, out, "[assistant]")

	out, err = run(t, NewListCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "Greetings")
	assert.Contains(t, out, "alice")
}

func TestAppendRequiresContent(t *testing.T) {
	setupStore(t)
	_, err := run(t, NewAppendCommand(), "c1")
	assert.ErrorIs(t, err, conversation.ErrInvalidArgument)
}

func TestAppendEmptyContent(t *testing.T) {
	setupStore(t)
	_, err := run(t, NewAppendCommand(), "c1", "--content", "")
	require.NoError(t, err)
}

func TestAppendUnknownChat(t *testing.T) {
	setupStore(t)
	_, err := run(t, NewAppendCommand(), "nope", "--content", "x")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSetInputPrintsEvents(t *testing.T) {
	setupStore(t)
	out, err := run(t, NewSetInputCommand(), "c1", "--enabled=false", "--print-events")
	require.NoError(t, err)
	assert.Contains(t, out, "input disabled on chat c1")
}

func TestShowUnknownMessage(t *testing.T) {
	setupStore(t)
	_, err := run(t, NewShowCommand(), "c1", "--message", "ghost")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestBusTransportNeedsSubscriber(t *testing.T) {
	source := setupStore(t)
	viper.Set("notify-transport", "bus")

	_, err := run(t, NewAppendCommand(), "c1", "--content", "dropped?")
	assert.ErrorIs(t, err, conversation.ErrInvalidArgument)

	s, err := store.Open(context.Background(), source)
	require.NoError(t, err)
	chat, err := s.GetChat(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Empty(t, chat.History.Messages, "a refused transport must not change the chat")

	_, err = run(t, NewAppendCommand(), "c1", "--content", "delivered", "--print-events")
	require.NoError(t, err)
}
