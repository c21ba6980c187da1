package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdoptFirstSessionIDOnly(t *testing.T) {
	r := NewReconciler()

	assert.True(t, r.Adopt("s1", "what is the capital of Denmark"))
	assert.Equal(t, "s1", r.Current())

	// repeats and late divergent ids never rebind the conversation
	assert.False(t, r.Adopt("s1", "ignored"))
	assert.False(t, r.Adopt("s2", "ignored"))
	assert.Equal(t, "s1", r.Current())

	sessions := r.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].SessionID)
	assert.Equal(t, "what is the capital of Denmark", sessions[0].Title)
	assert.True(t, sessions[0].Optimistic)
}

func TestAdoptEmptyIDIsNoop(t *testing.T) {
	r := NewReconciler()
	assert.False(t, r.Adopt("", "hello"))
	assert.Empty(t, r.Current())
	assert.Empty(t, r.Sessions())
}

func TestProvisionalTitle(t *testing.T) {
	assert.Equal(t, "New conversation", ProvisionalTitle("   "))
	assert.Equal(t, "hello there", ProvisionalTitle("hello\n  there"))

	long := ProvisionalTitle("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assert.Len(t, []rune(long), 61)
}

func TestMergeFetchedConfirmsOptimisticRecord(t *testing.T) {
	r := NewReconciler()
	r.Adopt("s1", "first question")

	r.MergeFetched([]Record{
		{SessionID: "s1", Title: "Capital of Denmark", CreatedAt: time.Now()},
		{SessionID: "s0", Title: "Older chat"},
	})

	sessions := r.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].SessionID)
	assert.Equal(t, "Capital of Denmark", sessions[0].Title, "server title wins")
	assert.False(t, sessions[0].Optimistic)
	assert.Equal(t, "s0", sessions[1].SessionID)
}

func TestMergeFetchedKeepsUnconfirmedOptimisticOnTop(t *testing.T) {
	r := NewReconciler()
	r.Adopt("s-new", "just asked")

	r.MergeFetched([]Record{{SessionID: "s0", Title: "Older chat"}})

	sessions := r.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-new", sessions[0].SessionID)
	assert.True(t, sessions[0].Optimistic)
	assert.Equal(t, "s0", sessions[1].SessionID)
}

func TestRollbackRemovesOnlyOptimistic(t *testing.T) {
	r := NewReconciler()
	r.Adopt("s1", "doomed question")

	assert.True(t, r.Rollback("s1"))
	assert.Empty(t, r.Sessions())
	assert.Empty(t, r.Current(), "rollback frees the conversation to adopt a new id")

	// a confirmed session survives rollback attempts
	r.MergeFetched([]Record{{SessionID: "s2", Title: "Confirmed"}})
	assert.False(t, r.Rollback("s2"))
	require.Len(t, r.Sessions(), 1)
}

func TestRenameAndRemove(t *testing.T) {
	notified := 0
	r := NewReconciler(WithNotify(func() { notified++ }))
	r.MergeFetched([]Record{{SessionID: "s1", Title: "Old name"}, {SessionID: "s2"}})

	assert.True(t, r.Rename("s1", "New name"))
	assert.Equal(t, "New name", r.Sessions()[0].Title)
	assert.False(t, r.Rename("missing", "x"))

	assert.True(t, r.Remove("s2"))
	require.Len(t, r.Sessions(), 1)
	assert.False(t, r.Remove("s2"))
	assert.GreaterOrEqual(t, notified, 3)
}

func TestStartConversationKeepsList(t *testing.T) {
	r := NewReconciler()
	r.Adopt("s1", "first")
	r.MergeFetched([]Record{{SessionID: "s1", Title: "First"}})

	r.StartConversation()
	assert.Empty(t, r.Current())
	require.Len(t, r.Sessions(), 1)

	assert.True(t, r.Adopt("s2", "second"))
	assert.Equal(t, "s2", r.Current())
	require.Len(t, r.Sessions(), 2)
	assert.Equal(t, "s2", r.Sessions()[0].SessionID)
}
