// Package memory implements the tiered memory model: bounded core blocks,
// vector blocks with lazily-computed embeddings, and an append-only recall
// log of trimmed conversation turns.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultMaxChars = 5000

// Block is one labeled memory unit, persisted as a JSON file named after its
// label.
type Block struct {
	Label       string        `json:"label"`
	Description string        `json:"description,omitempty"`
	Content     string        `json:"content"`
	Metadata    BlockMetadata `json:"metadata"`
}

type BlockMetadata struct {
	LastUpdated  string `json:"last_updated"`
	CurrentChars int    `json:"current_chars"`
	MaxChars     int    `json:"max_chars"`
}

func utcTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func blockPath(dir, label string) string {
	return filepath.Join(dir, label+".json")
}

func readBlock(dir, label string) (*Block, error) {
	data, err := os.ReadFile(blockPath(dir, label))
	if err != nil {
		return nil, err
	}
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to parse memory block %q: %w", label, err)
	}
	if block.Label == "" {
		block.Label = label
	}
	if block.Metadata.MaxChars == 0 {
		block.Metadata.MaxChars = defaultMaxChars
	}
	return &block, nil
}

// writeBlock persists the block and syncs it to disk before returning.
func writeBlock(dir string, block *Block) error {
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory block %q: %w", block.Label, err)
	}

	path := blockPath(dir, block.Label)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// applyEdit implements the shared replace-or-append rule: a non-empty
// oldText that occurs in content is replaced everywhere, anything else
// appends newText with a single separating space.
func applyEdit(content, newText, oldText string) string {
	if oldText != "" && strings.Contains(content, oldText) {
		return strings.ReplaceAll(content, oldText, newText)
	}
	return strings.TrimSpace(content + " " + newText)
}
