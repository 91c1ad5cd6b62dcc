package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/walnutseal1/yk-project/pkg/embedders"
)

// VectorStore manages user-extensible vector blocks. Each block may carry a
// sibling embedding artifact; the cache set records which embeddings are
// known fresh. Any edit drops the label from the cache so the next search
// re-embeds.
type VectorStore struct {
	dir       string
	cacheFile string
	embedder  embedders.Embedder
	locks     *labelLocks

	// cacheMu guards the cache-set file; updates are idempotent.
	cacheMu sync.Mutex
}

func NewVectorStore(dir, cacheFile string, embedder embedders.Embedder) *VectorStore {
	return &VectorStore{
		dir:       dir,
		cacheFile: cacheFile,
		embedder:  embedder,
		locks:     newLabelLocks(),
	}
}

// SearchResult is one vector search hit.
type SearchResult struct {
	Label   string  `json:"label"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Labels enumerates vector block labels, excluding embedding artifacts.
func (s *VectorStore) Labels() ([]string, error) {
	return listBlockLabels(s.dir)
}

func (s *VectorStore) Get(label string) (*Block, error) {
	unlock := s.locks.lock(label)
	defer unlock()
	return readBlock(s.dir, label)
}

// Edit applies the replace-or-append rule. A missing label creates a new
// block instead of failing.
func (s *VectorStore) Edit(label, newText, oldText string) string {
	unlock := s.locks.lock(label)
	defer unlock()

	block, err := readBlock(s.dir, label)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Sprintf("Failed: Could not read vector memory block '%s': %v", label, err)
		}
		content := strings.TrimSpace(newText)
		// Creation follows the same cap rule as an edit; an oversized
		// payload leaves the block uncreated.
		if len(content) > defaultMaxChars {
			return fmt.Sprintf("Failed: Updated content exceeds max character limit of %d.", defaultMaxChars)
		}
		block = &Block{
			Label:   label,
			Content: content,
			Metadata: BlockMetadata{
				LastUpdated:  utcTimestamp(),
				CurrentChars: len(content),
				MaxChars:     defaultMaxChars,
			},
		}
		if err := writeBlock(s.dir, block); err != nil {
			return fmt.Sprintf("Failed: Could not write vector memory block '%s': %v", label, err)
		}
		s.invalidate(label)
		return fmt.Sprintf("Success: New vector memory block '%s' created.", label)
	}

	content := applyEdit(block.Content, newText, oldText)
	if len(content) > block.Metadata.MaxChars {
		return fmt.Sprintf("Failed: Updated content exceeds max character limit of %d.", block.Metadata.MaxChars)
	}

	block.Content = content
	block.Metadata.LastUpdated = utcTimestamp()
	block.Metadata.CurrentChars = len(content)

	s.invalidate(label)
	if err := writeBlock(s.dir, block); err != nil {
		return fmt.Sprintf("Failed: Could not write vector memory block '%s': %v", label, err)
	}
	return fmt.Sprintf("Success: Vector memory block '%s' updated.", label)
}

// EmbedAll computes embeddings for every block whose label is missing from
// the cache set, writing the artifact beside the block. Idempotent when no
// edits happen between calls.
func (s *VectorStore) EmbedAll(ctx context.Context) (int, error) {
	cache := s.loadCache()
	labels, err := s.Labels()
	if err != nil {
		return 0, err
	}

	embedded := 0
	for _, label := range labels {
		if _, ok := cache[label]; ok {
			continue
		}
		block, err := s.Get(label)
		if err != nil {
			return embedded, err
		}
		content := strings.TrimSpace(block.Content)
		if content == "" {
			continue
		}

		vector, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return embedded, fmt.Errorf("failed to embed block %q: %w", label, err)
		}
		if err := s.writeEmbedding(label, vector); err != nil {
			return embedded, err
		}
		s.cacheAdd(label)
		cache[label] = struct{}{}
		embedded++
	}
	return embedded, nil
}

// Search refreshes stale embeddings, embeds the query and ranks blocks by
// cosine similarity. Results below threshold are dropped; ties at equal
// score order by label.
func (s *VectorStore) Search(ctx context.Context, query string, topN int, threshold float64) ([]SearchResult, error) {
	if _, err := s.EmbedAll(ctx); err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	labels, err := s.Labels()
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, label := range labels {
		vector, err := s.readEmbedding(label)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		block, err := s.Get(label)
		if err != nil {
			return nil, err
		}
		content := strings.TrimSpace(block.Content)
		if content == "" {
			continue
		}

		score := math.Round(cosineSimilarity(queryVec, vector)*1e5) / 1e5
		if score < threshold {
			continue
		}
		results = append(results, SearchResult{Label: label, Content: content, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Label < results[j].Label
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *VectorStore) embeddingPath(label string) string {
	return filepath.Join(s.dir, label+".embedding.json")
}

func (s *VectorStore) readEmbedding(label string) ([]float32, error) {
	data, err := os.ReadFile(s.embeddingPath(label))
	if err != nil {
		return nil, err
	}
	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, fmt.Errorf("failed to parse embedding for %q: %w", label, err)
	}
	return vector, nil
}

func (s *VectorStore) writeEmbedding(label string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return os.WriteFile(s.embeddingPath(label), data, 0o644)
}

// loadCache reads the cache set, tolerating a missing or corrupt file as
// empty.
func (s *VectorStore) loadCache() map[string]struct{} {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.loadCacheLocked()
}

func (s *VectorStore) loadCacheLocked() map[string]struct{} {
	set := make(map[string]struct{})
	data, err := os.ReadFile(s.cacheFile)
	if err != nil {
		return set
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		slog.Warn("embedding cache file is malformed, ignoring", "path", s.cacheFile, "error", err)
		return set
	}
	for _, label := range labels {
		set[label] = struct{}{}
	}
	return set
}

func (s *VectorStore) saveCacheLocked(set map[string]struct{}) {
	labels := make([]string, 0, len(set))
	for label := range set {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	data, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(s.cacheFile, data, 0o644); err != nil {
		slog.Warn("failed to write embedding cache", "path", s.cacheFile, "error", err)
	}
}

func (s *VectorStore) cacheAdd(label string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	set := s.loadCacheLocked()
	set[label] = struct{}{}
	s.saveCacheLocked(set)
}

// invalidate drops one label from the cache set.
func (s *VectorStore) invalidate(label string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	set := s.loadCacheLocked()
	delete(set, label)
	s.saveCacheLocked(set)
}

// ClearCache empties the whole cache set, forcing re-embedding of every
// block on the next search.
func (s *VectorStore) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.saveCacheLocked(make(map[string]struct{}))
}

// Cached reports whether a label's embedding is known fresh.
func (s *VectorStore) Cached(label string) bool {
	cache := s.loadCache()
	_, ok := cache[label]
	return ok
}
