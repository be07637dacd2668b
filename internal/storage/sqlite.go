// Stores the document in a SQLite database, one row per section.

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sections (
	position INTEGER NOT NULL,
	name     TEXT PRIMARY KEY,
	columns  TEXT NOT NULL,
	data     TEXT NOT NULL
)`

// SQLiteStore keeps each section as a row of a SQLite table.
//
// The contract stays whole-document: Write replaces every row inside one
// transaction.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore opens or creates the SQLite file at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sections table: %w", err)
	}
	return &SQLiteStore{path: path, db: db}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *SQLiteStore) Load() (*Document, error) {
	rows, err := s.db.Query("SELECT name, columns, data FROM sections ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	doc := NewDocument()
	for rows.Next() {
		var name, columns, data string
		if err := rows.Scan(&name, &columns, &data); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		doc.Set(name, Section{Columns: json.RawMessage(columns), Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sections: %w", err)
	}
	return doc, nil
}

// Write implements Store.
func (s *SQLiteStore) Write(doc *Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.Exec("DELETE FROM sections"); err != nil {
		return fmt.Errorf("failed to clear sections: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO sections (position, name, columns, data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()
	for i, name := range doc.Names() {
		sec, _ := doc.Get(name)
		if _, err := stmt.Exec(i, name, string(sec.Columns), string(sec.Data)); err != nil {
			return fmt.Errorf("failed to write section %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
