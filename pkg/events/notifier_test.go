package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/chatctl/pkg/auth"
	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillNotifierPublishesMetadata(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	msgs, err := pubSub.Subscribe(context.Background(), "chat-events")
	require.NoError(t, err)

	n := NewWatermillNotifier(pubSub, "chat-events")
	ctx := helpers.ContextWithCorrelationID(context.Background(), "req-1")
	require.NoError(t, n.Notify(ctx, NewMessageAppendedEvent("c1", "alice", "m2", "m1", "user")))
	first := receive(t, msgs)
	assert.Equal(t, "alice", first.Metadata.Get("user_id"))
	assert.Equal(t, "c1", first.Metadata.Get("chat_id"))
	assert.Equal(t, string(EventTypeMessageAppended), first.Metadata.Get("event_type"))
	assert.Equal(t, "req-1", first.Metadata.Get(helpers.CorrelationIDMetadataKey))
	assert.Equal(t, "0", first.Metadata.Get("sequence_number"))

	ev, err := NewEventFromJSON(first.Payload)
	require.NoError(t, err)
	assert.Equal(t, "m2", ev.Data["message_id"])
	assert.Equal(t, "m1", ev.Data["parent_id"])
	assert.Equal(t, "req-1", ev.Meta.CorrelationID)

	require.NoError(t, n.Notify(ctx, NewInputToggledEvent("c1", "alice", false)))
	second := receive(t, msgs)
	assert.Equal(t, "1", second.Metadata.Get("sequence_number"))
	assert.Equal(t, string(EventTypeInputToggled), second.Metadata.Get("event_type"))
}

func TestWatermillNotifierRejectsInvalidEvents(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	n := NewWatermillNotifier(pubSub, "chat-events")
	err := n.Notify(context.Background(), Event{Type: EventTypeInputToggled})
	assert.Error(t, err)
}

func receive(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m := <-msgs:
		m.Ack()
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHTTPNotifierPostsWithBearerToken(t *testing.T) {
	var (
		mu       sync.Mutex
		gotAuth  string
		gotBody  map[string]interface{}
		gotCorID string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		gotCorID = r.Header.Get("X-Correlation-ID")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n, err := NewHTTPNotifier(srv.URL, "s3cret", WithTokenTTL(time.Minute))
	require.NoError(t, err)

	ctx := helpers.ContextWithCorrelationID(context.Background(), "req-2")
	require.NoError(t, n.Notify(ctx, NewMessageAppendedEvent("c1", "alice", "m1", "", "user")))

	mu.Lock()
	defer mu.Unlock()
	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	userID, err := auth.ParseToken("s3cret", strings.TrimPrefix(gotAuth, "Bearer "), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
	assert.Equal(t, "req-2", gotCorID)

	assert.Equal(t, "alice", gotBody["user_id"])
	assert.Equal(t, "c1", gotBody["chat_id"])
	event, ok := gotBody["event"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(EventTypeMessageAppended), event["type"])
	data, ok := event["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "m1", data["message_id"])
	assert.Nil(t, data["parent_id"])
}

func TestHTTPNotifierNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	n, err := NewHTTPNotifier(srv.URL, "s3cret")
	require.NoError(t, err)
	err = n.Notify(context.Background(), NewInputToggledEvent("c1", "alice", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewHTTPNotifierNeedsURLAndSecret(t *testing.T) {
	_, err := NewHTTPNotifier("", "s3cret")
	assert.Error(t, err)
	_, err = NewHTTPNotifier("http://localhost", "")
	assert.ErrorIs(t, err, auth.ErrEmptySecret)
}

func TestNewNotifierSelectsTransport(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	n, err := NewNotifier(NotifierConfig{}, "", nil)
	require.NoError(t, err)
	assert.IsType(t, NullNotifier{}, n)

	n, err = NewNotifier(NotifierConfig{Transport: "none"}, "", nil)
	require.NoError(t, err)
	assert.IsType(t, NullNotifier{}, n)

	n, err = NewNotifier(NotifierConfig{Transport: "bus"}, "", pubSub)
	require.NoError(t, err)
	require.IsType(t, &WatermillNotifier{}, n)
	assert.Equal(t, DefaultTopic, n.(*WatermillNotifier).topic)

	n, err = NewNotifier(NotifierConfig{Transport: "HTTP", URL: "http://localhost:8080/api/events", AllowLocal: true}, "s3cret", nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPNotifier{}, n)

	_, err = NewNotifier(NotifierConfig{Transport: "http", URL: "http://localhost:8080/api/events"}, "s3cret", nil)
	assert.ErrorIs(t, err, conversation.ErrInvalidArgument, "local endpoints need allow-local")

	n, err = NewNotifier(NotifierConfig{Transport: "http", URL: "https://chat.example.com/api/events"}, "s3cret", nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPNotifier{}, n)

	_, err = NewNotifier(NotifierConfig{Transport: "bus"}, "", nil)
	assert.ErrorIs(t, err, conversation.ErrInvalidArgument)

	_, err = NewNotifier(NotifierConfig{Transport: "carrier-pigeon"}, "", nil)
	assert.ErrorIs(t, err, conversation.ErrInvalidArgument)
}

type failingNotifier struct {
	calls int
}

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("unreachable")
}

func (f *failingNotifier) Close() error { return nil }

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func TestFanoutNotifierContinuesPastFailures(t *testing.T) {
	failing := &failingNotifier{}
	rec := &recordingNotifier{}
	f := NewFanoutNotifier(failing, rec)

	err := f.Notify(context.Background(), NewInputToggledEvent("c1", "alice", true))
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, rec.events, 1)
}

func TestNotifyBestEffortSwallowsErrors(t *testing.T) {
	failing := &failingNotifier{}
	assert.NotPanics(t, func() {
		assert.Error(t, NotifyBestEffort(context.Background(), failing, NewInputToggledEvent("c1", "alice", true)))
		assert.NoError(t, NotifyBestEffort(context.Background(), nil, NewInputToggledEvent("c1", "alice", true)))
	})
	assert.Equal(t, 1, failing.calls)
}

func TestEventRouterPrintsEvents(t *testing.T) {
	var out bytes.Buffer
	var mu sync.Mutex
	router, err := NewEventRouter(WithOutput(&lockedWriter{w: &out, mu: &mu}))
	require.NoError(t, err)

	received := make(chan Event, 1)
	router.AddHandler("print", DefaultTopic, router.PrintEvents)
	router.AddChatEventHandler("collect", DefaultTopic, func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	n := NewWatermillNotifier(router.Publisher, DefaultTopic)
	require.NoError(t, n.Notify(ctx, NewInputToggledEvent("c1", "alice", false)))

	select {
	case ev := <-received:
		assert.Equal(t, EventTypeInputToggled, ev.Type)
		assert.Equal(t, false, ev.Data["enabled"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	require.NoError(t, router.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, out.String(), `"type": "chat:input-toggled"`)
	assert.NotContains(t, out.String(), `"meta"`)
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
