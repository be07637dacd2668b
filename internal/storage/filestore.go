package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FileStore persists the document as one indented JSON file.
//
// Writes go through a temporary file and a rename so a crash never leaves a
// truncated document behind.
type FileStore struct {
	path string
}

// NewFileStore opens the document at path, creating its directory and an
// empty document if it does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	fs := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.Write(NewDocument()); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return fs, nil
}

// Path returns the document file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load implements Store.
func (fs *FileStore) Load() (*Document, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", fs.path, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fs.path, err)
	}
	return doc, nil
}

// Write implements Store.
func (fs *FileStore) Write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(fs.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", fs.path, err)
	}
	return nil
}
