package memory

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// RecallStore is the append-only log of trimmed conversation turns, backed
// by sqlite. Ids are monotonic; timestamps default to insertion time.
type RecallStore struct {
	db *sql.DB
}

// RecallMessage is one logged turn.
type RecallMessage struct {
	Role    string
	Content string
}

func NewRecallStore(path string) (*RecallStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recall database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS recalled_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_recalled_messages_timestamp
			ON recalled_messages(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize recall database: %w", err)
	}
	return &RecallStore{db: db}, nil
}

func (s *RecallStore) Close() error {
	return s.db.Close()
}

// Append inserts each turn with the current timestamp.
func (s *RecallStore) Append(messages []RecallMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO recalled_messages (role, content) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, m := range messages {
		if _, err := stmt.Exec(m.Role, m.Content); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of logged turns. Feeds the snapshot header.
func (s *RecallStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM recalled_messages").Scan(&count)
	return count, err
}

// Search locates up to limit turns matching the query, most recent first,
// and expands each match id m to the window [max(1, m-before), m+after]
// where after = n/2 and before = n - after. Each window comes back ordered
// ascending by id.
//
// Matching prefers the FTS MATCH predicate and falls back to a substring
// LIKE when the table has no full-text index.
func (s *RecallStore) Search(query string, nNeighbors, limit int) ([][]RecallMessage, []int64, error) {
	matchIDs, err := s.findMatches(query, limit)
	if err != nil {
		return nil, nil, err
	}

	after := nNeighbors / 2
	before := nNeighbors - after

	snippets := make([][]RecallMessage, 0, len(matchIDs))
	for _, matchID := range matchIDs {
		startID := matchID - int64(before)
		if startID < 1 {
			startID = 1
		}
		endID := matchID + int64(after)

		rows, err := s.db.Query(
			"SELECT role, content FROM recalled_messages WHERE id BETWEEN ? AND ? ORDER BY id ASC",
			startID, endID,
		)
		if err != nil {
			return nil, nil, err
		}

		var window []RecallMessage
		for rows.Next() {
			var m RecallMessage
			if err := rows.Scan(&m.Role, &m.Content); err != nil {
				rows.Close()
				return nil, nil, err
			}
			window = append(window, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, err
		}
		rows.Close()
		snippets = append(snippets, window)
	}
	return snippets, matchIDs, nil
}

func (s *RecallStore) findMatches(query string, limit int) ([]int64, error) {
	rows, err := s.db.Query(
		"SELECT id FROM recalled_messages WHERE content MATCH ? ORDER BY timestamp DESC LIMIT ?",
		query, limit,
	)
	if err != nil {
		rows, err = s.db.Query(
			"SELECT id FROM recalled_messages WHERE content LIKE ? ORDER BY timestamp DESC LIMIT ?",
			"%"+query+"%", limit,
		)
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
