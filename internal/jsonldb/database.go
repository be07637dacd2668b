package jsonldb

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/storage"
)

// Database is the catalog of the tables sharing one store.
//
// It enforces foreign keys on insert and update and propagates updates and
// deletes from parent tables to their children. Calls are serialized; other
// handles on the same store are not coordinated with.
type Database struct {
	store    storage.Store
	observer Observer

	mu     sync.Mutex
	tables map[string]*Table
	order  []string
	closed bool
}

// Option configures a Database.
type Option func(*Database)

// WithObserver reports every change, including propagated ones, to o.
func WithObserver(o Observer) Option {
	return func(db *Database) {
		db.observer = o
	}
}

// Open attaches every table persisted in store.
func Open(store storage.Store, opts ...Option) (*Database, error) {
	db := &Database{store: store, tables: map[string]*Table{}}
	for _, opt := range opts {
		opt(db)
	}
	doc, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, name := range doc.Names() {
		sec, _ := doc.Get(name)
		t, err := attachTable(store, name, sec)
		if err != nil {
			return nil, fmt.Errorf("failed to open table %s: %w", name, err)
		}
		db.register(t)
	}
	return db, nil
}

// OpenFile opens the database persisted in the JSON file at path, creating
// it when missing.
func OpenFile(path string, opts ...Option) (*Database, error) {
	store, err := storage.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return Open(store, opts...)
}

// Store returns the underlying store.
func (db *Database) Store() storage.Store {
	return db.store
}

func (db *Database) register(t *Table) {
	t.observer = db.observer
	db.tables[t.name] = t
	db.order = append(db.order, t.name)
}

// AddTable creates a table, or attaches it if it is already persisted.
func (db *Database) AddTable(name string, columns *Columns) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, errors.Closed()
	}
	if _, ok := db.tables[name]; ok {
		return nil, errors.New(errors.ClassCatalog, errors.ErrTableExists, name, "", fmt.Sprintf("table %q already exists", name))
	}
	t, err := NewTable(db.store, name, columns)
	if err != nil {
		return nil, err
	}
	db.register(t)
	return t, nil
}

// RemoveTable drops a table and its persisted rows.
//
// A table that another table references through a foreign key cannot be
// removed: drop the dependent tables first.
func (db *Database) RemoveTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errors.Closed()
	}
	if _, ok := db.tables[name]; !ok {
		return errors.NotFound(name)
	}
	for _, other := range db.order {
		if other == name {
			continue
		}
		for col, def := range db.tables[other].columns.All() {
			if def.ForeignKey != nil && def.ForeignKey.Table == name {
				return errors.New(errors.ClassCatalog, errors.ErrTableReferenced, name, "",
					fmt.Sprintf("table %q is referenced by %s.%s", name, other, col)).
					WithDetail("referenced_by", other+"."+col)
			}
		}
	}
	doc, err := db.store.Load()
	if err != nil {
		return err
	}
	doc.Delete(name)
	if err := db.store.Write(doc); err != nil {
		return fmt.Errorf("failed to remove table %s: %w", name, err)
	}
	delete(db.tables, name)
	db.order = slices.DeleteFunc(db.order, func(s string) bool { return s == name })
	return nil
}

// GetTable returns a live table.
func (db *Database) GetTable(name string) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, errors.Closed()
	}
	return db.table(name)
}

func (db *Database) table(name string) (*Table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, errors.NotFound(name)
	}
	return t, nil
}

// ListTables returns the live table names in creation order.
func (db *Database) ListTables() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.order)
}

// Insert adds a row to table after checking that every foreign key value
// exists in its parent table.
func (db *Database) Insert(table string, values []any) (Row, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, errors.Closed()
	}
	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	return t.insert(values, func(row Row) error {
		for i, def := range t.defs {
			if def.ForeignKey == nil || row[i] == nil {
				continue
			}
			if err := db.checkParent(t, i, row[i], row); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkParent verifies that value of column i of child has a parent row.
// self is the row being inserted, if any; it is called with child locked.
func (db *Database) checkParent(child *Table, i int, value any, self Row) error {
	fk := child.defs[i].ForeignKey
	parent, ok := db.tables[fk.Table]
	name := child.names[i]
	if !ok {
		return errors.Constraint(errors.ErrForeignKeyViolation, child.name, name, "parent table %q is not open", fk.Table)
	}
	pi, ok := parent.index[fk.Column]
	if !ok {
		return errors.Constraint(errors.ErrForeignKeyViolation, child.name, name, "parent column %s.%s does not exist", fk.Table, fk.Column)
	}
	var found bool
	if parent == child {
		found = child.has(pi, value) || (self != nil && self[pi] == value)
	} else {
		found = parent.contains(pi, value)
	}
	if !found {
		return errors.Constraint(errors.ErrForeignKeyViolation, child.name, name,
			"value %v has no parent row in %s.%s", value, fk.Table, fk.Column).
			WithDetail("value", value)
	}
	return nil
}

// Update updates the rows of table keyed by condColumn, then propagates the
// change to child tables.
//
// Foreign key columns being set must reference existing parent rows; they
// are only checked when at least one row matches. A propagation failure is returned as an integrity error; the parent update
// and the propagation steps that succeeded stay persisted.
func (db *Database) Update(table string, names []string, values []any, condColumn string, condValue any) (int, []Row, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, nil, errors.Closed()
	}
	t, err := db.table(table)
	if err != nil {
		return 0, nil, err
	}
	check := func(i int, v any) error {
		if t.defs[i].ForeignKey == nil {
			return nil
		}
		return db.checkParent(t, i, v, nil)
	}
	n, pre, post, err := t.update(names, values, condColumn, condValue, false, check)
	if err != nil || n == 0 {
		return n, pre, err
	}
	if err := db.propagateUpdate(t, pre, post, map[string]bool{}); err != nil {
		return n, pre, err
	}
	return n, pre, nil
}

// Delete removes the rows of table keyed by column, then propagates the
// removal to child tables.
func (db *Database) Delete(table, column string, value any) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, errors.Closed()
	}
	t, err := db.table(table)
	if err != nil {
		return 0, err
	}
	removed, err := t.delete(column, value, false)
	if err != nil || len(removed) == 0 {
		return 0, err
	}
	if err := db.propagateDelete(t, removed, map[string]bool{}); err != nil {
		return len(removed), err
	}
	return len(removed), nil
}

// Save writes the current rows of every live table.
func (db *Database) Save() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errors.Closed()
	}
	doc, err := db.store.Load()
	if err != nil {
		return err
	}
	for _, name := range db.order {
		sec, err := db.tables[name].section()
		if err != nil {
			return err
		}
		doc.Set(name, sec)
	}
	if err := db.store.Write(doc); err != nil {
		return fmt.Errorf("failed to save database: %w", err)
	}
	return nil
}

// Reset drops every table and empties the document.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errors.Closed()
	}
	if err := db.store.Write(storage.NewDocument()); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	db.tables = map[string]*Table{}
	db.order = nil
	return nil
}

// Close releases the store. Later calls return a CLOSED error.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if c, ok := db.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
