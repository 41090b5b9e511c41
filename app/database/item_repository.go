package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ItemRepository handles store operations for delivered news items
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// KnownGUIDs returns the set of guids already delivered. Called once per run.
func (r *ItemRepository) KnownGUIDs() (map[string]struct{}, error) {
	rows, err := r.db.Query(`SELECT guid FROM news_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to load known guids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("failed to scan guid row: %w", err)
		}
		known[guid] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guid rows: %w", err)
	}

	return known, nil
}

// RecordDelivered appends the delivered items in a single transaction, so a
// crash mid-write leaves the store either without the batch or with all of
// it, never with a corrupt schema.
func (r *ItemRepository) RecordDelivered(items []NewsItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO news_items (guid, pub_date, title, link, source, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		var pubDate sql.NullTime
		if !item.PubDate.IsZero() {
			pubDate = sql.NullTime{Time: item.PubDate.UTC(), Valid: true}
		}

		if _, err := stmt.Exec(item.GUID, pubDate, item.Title, item.Link, item.Source, now); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.GUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivered items: %w", err)
	}

	return nil
}

// ItemCount returns the total number of recorded items
func (r *ItemRepository) ItemCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM news_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}
