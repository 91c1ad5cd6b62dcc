package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecallStore(t *testing.T) *RecallStore {
	t.Helper()
	store, err := NewRecallStore(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRecall(t *testing.T, store *RecallStore, contents ...string) {
	t.Helper()
	messages := make([]RecallMessage, 0, len(contents))
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, RecallMessage{Role: role, Content: c})
	}
	require.NoError(t, store.Append(messages))
}

func TestRecallAppendAndCount(t *testing.T) {
	store := newTestRecallStore(t)
	seedRecall(t, store, "hello", "hi there")

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecallSearchSubstring(t *testing.T) {
	store := newTestRecallStore(t)
	seedRecall(t, store, "we talked about dragons", "dragons are cool", "unrelated")

	snippets, matchIDs, err := store.Search("dragons", 0, 5)
	require.NoError(t, err)
	assert.Len(t, matchIDs, 2)
	require.Len(t, snippets, 2)
	for _, snippet := range snippets {
		require.Len(t, snippet, 1)
		assert.Contains(t, snippet[0].Content, "dragons")
	}
}

func TestRecallSearchNeighborWindow(t *testing.T) {
	store := newTestRecallStore(t)
	seedRecall(t, store, "one", "two", "three target", "four", "five")

	// n=3: after = 1, before = 2, so the window around id 3 is [1, 4].
	snippets, matchIDs, err := store.Search("target", 3, 1)
	require.NoError(t, err)
	require.Len(t, matchIDs, 1)
	assert.Equal(t, int64(3), matchIDs[0])

	require.Len(t, snippets, 1)
	window := snippets[0]
	require.Len(t, window, 4)
	assert.Equal(t, "one", window[0].Content)
	assert.Equal(t, "four", window[3].Content)
}

func TestRecallSearchWindowClampedAtStart(t *testing.T) {
	store := newTestRecallStore(t)
	seedRecall(t, store, "target first", "two", "three")

	snippets, matchIDs, err := store.Search("target", 4, 1)
	require.NoError(t, err)
	require.Len(t, matchIDs, 1)
	assert.Equal(t, int64(1), matchIDs[0])

	// before = 2 would reach id -1; the window clamps to id 1 and extends
	// after = 2 forward.
	require.Len(t, snippets, 1)
	require.Len(t, snippets[0], 3)
	assert.Equal(t, "target first", snippets[0][0].Content)
}

func TestRecallSearchLimit(t *testing.T) {
	store := newTestRecallStore(t)
	seedRecall(t, store, "match a", "match b", "match c")

	_, matchIDs, err := store.Search("match", 0, 2)
	require.NoError(t, err)
	assert.Len(t, matchIDs, 2)
}

func TestRecallSearchNoMatches(t *testing.T) {
	store := newTestRecallStore(t)
	seedRecall(t, store, "hello")

	snippets, matchIDs, err := store.Search("absent", 0, 1)
	require.NoError(t, err)
	assert.Empty(t, snippets)
	assert.Empty(t, matchIDs)
}
