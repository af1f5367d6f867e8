package conversation

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func strPtr(s string) *string { return &s }

func newTestMutator(t *testing.T) (*Mutator, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	m := NewMutator(
		WithIDGenerator(sequentialIDs("m")),
		WithClock(fixedClock(1700000000)),
		WithLogger(zerolog.New(&buf)),
	)
	return m, &buf
}

func TestAppendMessageToEmptyDocument(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := NewDocument()

	out, id, err := m.AppendMessage(doc, RoleUser, strPtr("hello"))
	require.NoError(t, err)
	require.Same(t, doc, out)
	require.Equal(t, "m1", id)

	require.Len(t, doc.Messages, 1)
	msg := doc.Messages["m1"]
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Empty(t, msg.ParentID)
	assert.Equal(t, []string{}, msg.ChildrenIDs)
	assert.True(t, msg.Done)
	assert.Equal(t, int64(1700000000), msg.Timestamp)
	assert.Equal(t, DefaultModel, msg.Model)
	assert.Equal(t, "m1", doc.CurrentID)
	assert.Equal(t, int64(1700000000), doc.UpdatedAt)
}

func TestAppendMessageChainsUnderCurrent(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := NewDocument()

	_, _, err := m.AppendMessage(doc, RoleUser, strPtr("hello"))
	require.NoError(t, err)
	_, id, err := m.AppendMessage(doc, RoleAssistant, strPtr("hi there"), WithModel("gpt-4o"))
	require.NoError(t, err)
	require.Equal(t, "m2", id)

	require.Len(t, doc.Messages, 2)
	assert.Equal(t, []string{"m2"}, doc.Messages["m1"].ChildrenIDs)
	assert.Equal(t, "m1", doc.Messages["m2"].ParentID)
	assert.Equal(t, "gpt-4o", doc.Messages["m2"].Model)
	assert.Equal(t, "m2", doc.CurrentID)
}

func TestAppendMessagePreservesExistingChildrenOrder(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := &Document{
		Messages: map[string]*Message{
			"p":  {ID: "p", ChildrenIDs: []string{"c1", "c2"}, Role: RoleUser},
			"c1": {ID: "c1", ParentID: "p", ChildrenIDs: []string{}, Role: RoleAssistant},
			"c2": {ID: "c2", ParentID: "p", ChildrenIDs: []string{}, Role: RoleAssistant},
		},
		CurrentID: "p",
	}

	_, id, err := m.AppendMessage(doc, RoleAssistant, strPtr("branch"))
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2", id}, doc.Messages["p"].ChildrenIDs)
	assert.Equal(t, "p", doc.Messages[id].ParentID)
	assert.Equal(t, id, doc.CurrentID)
}

func TestAppendMessageIsNotIdempotent(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := NewDocument()

	_, first, err := m.AppendMessage(doc, RoleUser, strPtr("same"))
	require.NoError(t, err)
	_, second, err := m.AppendMessage(doc, RoleUser, strPtr("same"))
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, first, doc.Messages[second].ParentID)
	assert.Equal(t, []string{second}, doc.Messages[first].ChildrenIDs)
}

func TestAppendMessageEmptyContentVersusMissing(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := NewDocument()

	_, id, err := m.AppendMessage(doc, RoleUser, strPtr(""))
	require.NoError(t, err)
	assert.Equal(t, "", doc.Messages[id].Content)

	_, _, err = m.AppendMessage(doc, RoleUser, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Len(t, doc.Messages, 1)
	assert.Equal(t, id, doc.CurrentID)
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := NewDocument()

	_, _, err := m.AppendMessage(doc, RoleSystem, strPtr("be nice"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Empty(t, doc.Messages)

	m.Roles = DefaultRolePolicy().With(RoleSystem)
	_, _, err = m.AppendMessage(doc, RoleSystem, strPtr("be nice"))
	require.NoError(t, err)
}

func TestAppendMessageRejectsNilDocument(t *testing.T) {
	m, _ := newTestMutator(t)
	_, _, err := m.AppendMessage(nil, RoleUser, strPtr("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestAppendMessageDanglingCurrentBecomesRoot(t *testing.T) {
	m, logs := newTestMutator(t)
	doc := &Document{
		Messages: map[string]*Message{
			"a": {ID: "a", ChildrenIDs: []string{}, Role: RoleUser},
		},
		CurrentID: "deleted",
	}

	_, id, err := m.AppendMessage(doc, RoleUser, strPtr("again"))
	require.NoError(t, err)

	assert.Empty(t, doc.Messages[id].ParentID)
	assert.Equal(t, []string{}, doc.Messages["a"].ChildrenIDs)
	assert.Equal(t, id, doc.CurrentID)
	assert.Contains(t, logs.String(), "current message does not exist")
	assert.Contains(t, logs.String(), "deleted")
}

func TestAppendMessageFailsOnIDCollision(t *testing.T) {
	m, _ := newTestMutator(t)
	m.NewID = func() string { return "a" }
	doc := &Document{
		Messages: map[string]*Message{
			"a": {ID: "a", ChildrenIDs: []string{}, Role: RoleUser},
		},
		CurrentID: "a",
	}

	_, _, err := m.AppendMessage(doc, RoleUser, strPtr("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentState))
	assert.Len(t, doc.Messages, 1)
	assert.Equal(t, []string{}, doc.Messages["a"].ChildrenIDs)
	assert.Equal(t, "a", doc.CurrentID)
}

func TestAppendMessageInitializesNilMessages(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := &Document{}

	_, id, err := m.AppendMessage(doc, RoleUser, strPtr("x"))
	require.NoError(t, err)
	assert.Contains(t, doc.Messages, id)
}

func TestAppendMessageRefreshesUpdatedAt(t *testing.T) {
	m, _ := newTestMutator(t)
	doc := NewDocument()

	_, _, err := m.AppendMessage(doc, RoleUser, strPtr("one"))
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), doc.UpdatedAt)

	m.Now = fixedClock(1700000100)
	_, _, err = m.AppendMessage(doc, RoleAssistant, strPtr("two"))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000100), doc.UpdatedAt)
}

func TestNewMutatorDefaultsGenerateUniqueIDs(t *testing.T) {
	m := NewMutator(WithLogger(zerolog.Nop()))
	doc := NewDocument()

	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		_, id, err := m.AppendMessage(doc, RoleUser, strPtr("x"))
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
	assert.Len(t, doc.CurrentThread(), 50)
}
