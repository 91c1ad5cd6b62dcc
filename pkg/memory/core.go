package memory

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// CoreStore manages the bounded core memory blocks. Labels are fixed at the
// set of files present in the core directory; the edit path never creates
// new blocks.
type CoreStore struct {
	dir   string
	locks *labelLocks
}

func NewCoreStore(dir string) *CoreStore {
	return &CoreStore{dir: dir, locks: newLabelLocks()}
}

// Labels enumerates the core block labels present on disk, sorted.
func (s *CoreStore) Labels() ([]string, error) {
	return listBlockLabels(s.dir)
}

// Get loads one core block.
func (s *CoreStore) Get(label string) (*Block, error) {
	unlock := s.locks.lock(label)
	defer unlock()
	return readBlock(s.dir, label)
}

// Edit applies the replace-or-append rule to a core block. The returned
// string is the status message handed back to the model verbatim.
func (s *CoreStore) Edit(label, newText, oldText string) string {
	unlock := s.locks.lock(label)
	defer unlock()

	block, err := readBlock(s.dir, label)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Failed: Core memory block '%s' does not exist.", label)
		}
		return fmt.Sprintf("Failed: Could not read core memory block '%s': %v", label, err)
	}

	content := applyEdit(block.Content, newText, oldText)
	if len(content) > block.Metadata.MaxChars {
		return fmt.Sprintf("Failed: Updated content exceeds max character limit of %d.", block.Metadata.MaxChars)
	}

	block.Content = content
	block.Metadata.LastUpdated = utcTimestamp()
	block.Metadata.CurrentChars = len(content)

	if err := writeBlock(s.dir, block); err != nil {
		return fmt.Sprintf("Failed: Could not write core memory block '%s': %v", label, err)
	}
	return fmt.Sprintf("Success: Core memory block '%s' updated.", label)
}

// All loads every core block, keyed order matching the sorted label list.
func (s *CoreStore) All() ([]*Block, error) {
	labels, err := s.Labels()
	if err != nil {
		return nil, err
	}
	blocks := make([]*Block, 0, len(labels))
	for _, label := range labels {
		block, err := s.Get(label)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func listBlockLabels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasSuffix(name, ".embedding.json") || strings.HasSuffix(name, ".cache.json") {
			continue
		}
		labels = append(labels, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(labels)
	return labels, nil
}

// labelLocks serializes writers per label without holding a single lock
// across unrelated blocks.
type labelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLabelLocks() *labelLocks {
	return &labelLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *labelLocks) lock(label string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[label]
	if !ok {
		m = &sync.Mutex{}
		l.locks[label] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
