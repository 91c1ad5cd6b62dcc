package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSearchThreshold is the minimum cosine score a vector hit must
// reach to be reported.
const DefaultSearchThreshold = 0.4

const snapshotTimeLayout = "2006-01-02 03:04:05 PM UTC+0000"

// Store ties the three memory tiers together and renders the composite
// views the chat loop consumes.
type Store struct {
	Core   *CoreStore
	Vector *VectorStore
	Recall *RecallStore
}

func NewStore(core *CoreStore, vector *VectorStore, recall *RecallStore) *Store {
	return &Store{Core: core, Vector: vector, Recall: recall}
}

func (s *Store) Close() error {
	return s.Recall.Close()
}

// Snapshot renders the structured core-memory view that is concatenated
// with the system prompt on every chat turn.
func (s *Store) Snapshot() (string, error) {
	blocks, err := s.Core.All()
	if err != nil {
		return "", fmt.Errorf("failed to load core memory: %w", err)
	}

	now := time.Now().UTC()
	latestMod := time.Unix(0, 0).UTC()
	for _, block := range blocks {
		if t, err := time.Parse(time.RFC3339, block.Metadata.LastUpdated); err == nil && t.After(latestMod) {
			latestMod = t
		}
	}

	vectorLabels, err := s.Vector.Labels()
	if err != nil {
		return "", fmt.Errorf("failed to list vector memory: %w", err)
	}

	recallCount, err := s.Recall.Count()
	if err != nil {
		return "", fmt.Errorf("failed to count recall memory: %w", err)
	}

	var b strings.Builder
	b.WriteString("<memory_metadata>\n")
	fmt.Fprintf(&b, "- The current time is: %s\n", now.Format(snapshotTimeLayout))
	fmt.Fprintf(&b, "- Core memory blocks last modified: %s\n", latestMod.Format(snapshotTimeLayout))
	fmt.Fprintf(&b, "- %d previous messages between you and the user are stored in recall memory (use tools to view and access them)\n", recallCount)
	fmt.Fprintf(&b, "- %d total memories you created are stored in vector memory (%s). Use tools to view and access full contents.\n",
		len(vectorLabels), strings.Join(vectorLabels, ", "))
	b.WriteString("</memory_metadata>\n")

	lines := []string{
		"<memory_blocks>",
		"The following memory blocks are currently engaged in your core memory unit:",
	}
	for _, block := range blocks {
		description := block.Description
		if description == "" {
			description = "No description provided."
		}
		lines = append(lines,
			fmt.Sprintf("<%s>", block.Label),
			"<description>",
			description,
			"</description>",
			"<metadata>",
			fmt.Sprintf("- chars_current=%d", block.Metadata.CurrentChars),
			fmt.Sprintf("- chars_limit=%d", block.Metadata.MaxChars),
			"</metadata>",
			"<value>",
			block.Content,
			"</value>",
			fmt.Sprintf("</%s>", block.Label),
		)
	}
	lines = append(lines, "</memory_blocks>")

	b.WriteString(strings.Join(lines, "\n"))
	return b.String(), nil
}

// MemorySearch runs the unified search across the vector and recall tiers
// and renders the section-structured report. The exclude string suppresses
// tiers by substring: "vect" drops vector results, "rec" or "conv" drops
// recall results.
func (s *Store) MemorySearch(ctx context.Context, query string, nNeighbors, topN int, exclude string) string {
	lowered := strings.ToLower(exclude)
	useVector := !strings.Contains(lowered, "vect")
	useRecall := !strings.Contains(lowered, "rec") && !strings.Contains(lowered, "conv")

	lines := []string{"<memory_search>", "Here are the results for your memory search."}

	vectorCount := 0
	recallCount := 0

	if useVector {
		results, err := s.Vector.Search(ctx, query, topN, DefaultSearchThreshold)
		if err != nil {
			lines = append(lines, fmt.Sprintf("<vector><error>Vector search failed: %v</error></vector>", err))
		} else {
			vectorCount = len(results)
			if len(results) > 0 {
				lines = append(lines, "<vector>")
				for _, r := range results {
					lines = append(lines,
						fmt.Sprintf("<%s>", r.Label),
						"<metadata>",
						fmt.Sprintf("- embedding score: %s", strconv.FormatFloat(r.Score, 'g', -1, 64)),
						"</metadata>",
						"<value>",
						r.Content,
						"</value>",
						fmt.Sprintf("</%s>", r.Label),
					)
				}
				lines = append(lines, "</vector>")
			}
		}
	}

	if useRecall {
		snippets, matchIDs, err := s.Recall.Search(query, nNeighbors, topN)
		if err != nil {
			lines = append(lines, fmt.Sprintf("<recall>\n<error>\nRecall search failed: %v\n</error>\n</recall>", err))
		} else {
			recallCount = len(matchIDs)
			if len(snippets) > 0 {
				lines = append(lines, "<recall>")
				for _, snippet := range snippets {
					lines = append(lines, "<snippet>")
					for _, m := range snippet {
						lines = append(lines, fmt.Sprintf("<message role=%q>%s</message>", m.Role, m.Content))
					}
					lines = append(lines, "</snippet>")
				}
				lines = append(lines, "</recall>")
			}
		}
	}

	var summary string
	switch {
	case !useVector && !useRecall:
		summary = "<summary>\nNo memory types enabled for search.\n</summary>"
	case vectorCount == 0 && recallCount == 0:
		summary = fmt.Sprintf("<summary>\nNo results found for '%s'. The information may not be in memory, or you could try a different query.\n</summary>", query)
	default:
		var parts []string
		if useRecall {
			parts = append(parts, fmt.Sprintf("%d recall matches", recallCount))
		}
		if useVector {
			parts = append(parts, fmt.Sprintf("%d vector matches", vectorCount))
		}
		summary = fmt.Sprintf("<summary>\nFound %s for '%s'\n</summary>", strings.Join(parts, ", "), query)
	}

	// Summary sits right under the heading, before the result sections.
	out := append([]string{lines[0], lines[1], summary}, lines[2:]...)
	out = append(out, "</memory_search>")
	return strings.Join(out, "\n")
}

// VectorGet is the vector-only search view used by the background agent.
func (s *Store) VectorGet(ctx context.Context, query string, topN int) string {
	return s.MemorySearch(ctx, query, 0, topN, "recall")
}
