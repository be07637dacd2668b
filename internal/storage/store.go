// Package storage persists the record store document.
//
// Every backend is whole-document: Load returns the complete state and Write
// replaces it. There is no partial access and no versioning, so two writers
// on the same location silently overwrite each other (last write wins).
// Callers must ensure a single mutator per location.
package storage

import "sync"

// Store loads and writes the whole document.
type Store interface {
	Load() (*Document, error)
	Write(doc *Document) error
}

// MemStore keeps the document in memory. It is used by tests and for
// temporary tables that must never reach disk.
type MemStore struct {
	mu     sync.Mutex
	doc    *Document
	writes int
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{doc: NewDocument()}
}

// Load implements Store. It returns a copy.
func (m *MemStore) Load() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), nil
}

// Write implements Store. It stores a copy.
func (m *MemStore) Write(doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	m.writes++
	return nil
}

// Writes returns how many times Write was called.
func (m *MemStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
