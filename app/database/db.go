package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection backing the dedupe store.
type DB struct {
	*sql.DB
	Path string
}

// StoreError marks the persisted state as unusable. A run receiving it must
// abort without touching the webhook, so dedupe history is never silently
// discarded.
type StoreError struct {
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Open opens (or creates) the store file at path and brings the schema up to
// date. With initialize set, any existing store is discarded first and the
// schema is recreated empty. A pre-existing file that fails the integrity
// check is fatal unless initialize is set.
func Open(path string, initialize bool) (*DB, error) {
	if initialize {
		if err := removeStoreFiles(path); err != nil {
			return nil, &StoreError{Path: path, Err: err}
		}
	}

	existed := false
	if _, err := os.Stat(path); err == nil {
		existed = true
	}

	conn, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &StoreError{Path: path, Err: err}
	}

	db := &DB{DB: conn, Path: path}

	if existed {
		if err := db.checkIntegrity(); err != nil {
			conn.Close()
			return nil, &StoreError{Path: path, Err: err}
		}
	}

	if err := RunMigrations(db); err != nil {
		conn.Close()
		return nil, &StoreError{Path: path, Err: err}
	}

	return db, nil
}

func (db *DB) checkIntegrity() error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func removeStoreFiles(path string) error {
	// SQLite sidecar files must go with the main file, otherwise a stale
	// journal can resurrect dropped data on the next open.
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
