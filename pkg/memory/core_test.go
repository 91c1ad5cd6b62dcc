package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestBlock(t *testing.T, dir string, block *Block) {
	t.Helper()
	require.NoError(t, writeBlock(dir, block))
}

func newTestCoreStore(t *testing.T) (*CoreStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewCoreStore(dir), dir
}

func TestCoreEditAppend(t *testing.T) {
	store, dir := newTestCoreStore(t)
	writeTestBlock(t, dir, &Block{
		Label:    "persona",
		Content:  "I am helpful.",
		Metadata: BlockMetadata{MaxChars: 100},
	})

	result := store.Edit("persona", "I like jokes.", "")
	assert.Equal(t, "Success: Core memory block 'persona' updated.", result)

	block, err := store.Get("persona")
	require.NoError(t, err)
	assert.Equal(t, "I am helpful. I like jokes.", block.Content)
	assert.Equal(t, len(block.Content), block.Metadata.CurrentChars)
	assert.NotEmpty(t, block.Metadata.LastUpdated)
}

func TestCoreEditReplace(t *testing.T) {
	store, dir := newTestCoreStore(t)
	writeTestBlock(t, dir, &Block{
		Label:    "persona",
		Content:  "My name is Alice. Alice is curious.",
		Metadata: BlockMetadata{MaxChars: 100},
	})

	result := store.Edit("persona", "Bob", "Alice")
	assert.Equal(t, "Success: Core memory block 'persona' updated.", result)

	block, err := store.Get("persona")
	require.NoError(t, err)
	// Replacement applies to every occurrence.
	assert.Equal(t, "My name is Bob. Bob is curious.", block.Content)
}

func TestCoreEditMissingOldTextAppends(t *testing.T) {
	store, dir := newTestCoreStore(t)
	writeTestBlock(t, dir, &Block{
		Label:    "persona",
		Content:  "Base.",
		Metadata: BlockMetadata{MaxChars: 100},
	})

	result := store.Edit("persona", "Extra.", "not-present")
	assert.Equal(t, "Success: Core memory block 'persona' updated.", result)

	block, err := store.Get("persona")
	require.NoError(t, err)
	assert.Equal(t, "Base. Extra.", block.Content)
}

func TestCoreEditMissingBlockFails(t *testing.T) {
	store, _ := newTestCoreStore(t)
	result := store.Edit("nonexistent", "text", "")
	assert.Equal(t, "Failed: Core memory block 'nonexistent' does not exist.", result)
}

func TestCoreEditOverLimitLeavesStateIntact(t *testing.T) {
	store, dir := newTestCoreStore(t)
	writeTestBlock(t, dir, &Block{
		Label:    "persona",
		Content:  "short",
		Metadata: BlockMetadata{MaxChars: 10, CurrentChars: 5, LastUpdated: "2024-01-01T00:00:00Z"},
	})

	result := store.Edit("persona", "this text is far too long to fit", "")
	assert.Equal(t, "Failed: Updated content exceeds max character limit of 10.", result)

	block, err := store.Get("persona")
	require.NoError(t, err)
	assert.Equal(t, "short", block.Content)
	assert.Equal(t, "2024-01-01T00:00:00Z", block.Metadata.LastUpdated)
}

func TestCoreEditAtExactLimitBoundary(t *testing.T) {
	store, dir := newTestCoreStore(t)
	writeTestBlock(t, dir, &Block{
		Label:    "persona",
		Content:  "abcd",
		Metadata: BlockMetadata{MaxChars: 9},
	})

	// "abcd efgh" is exactly nine characters.
	result := store.Edit("persona", "efgh", "")
	assert.Equal(t, "Success: Core memory block 'persona' updated.", result)

	block, err := store.Get("persona")
	require.NoError(t, err)
	assert.Equal(t, block.Metadata.MaxChars, block.Metadata.CurrentChars)

	// One character over the cap fails.
	result = store.Edit("persona", "abcd efghi", "abcd efgh")
	assert.Equal(t, "Failed: Updated content exceeds max character limit of 9.", result)
}

func TestCoreLabels(t *testing.T) {
	store, dir := newTestCoreStore(t)
	writeTestBlock(t, dir, &Block{Label: "persona", Metadata: BlockMetadata{MaxChars: 100}})
	writeTestBlock(t, dir, &Block{Label: "human", Metadata: BlockMetadata{MaxChars: 100}})

	// Non-block files are not labels.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.embedding.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	labels, err := store.Labels()
	require.NoError(t, err)
	assert.Equal(t, []string{"human", "persona"}, labels)
}
