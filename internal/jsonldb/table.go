package jsonldb

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/storage"
)

// Table holds the rows of one table in memory and persists them as a section
// of the store document after every mutation.
//
// Each mutation is validated completely before anything is written: on error
// the rows and the document are left unchanged.
type Table struct {
	name      string
	store     storage.Store
	columns   *Columns
	colsJSON  json.RawMessage
	names     []string
	defs      []Column
	index     map[string]int
	pk        int
	temporary bool
	observer  Observer

	mu   sync.RWMutex
	rows []Row
}

// NewTable validates the definition and opens the table in store.
//
// If the document has no section for name, an empty one is written.
// Otherwise the persisted rows are loaded; the persisted schema is not
// compared with columns.
func NewTable(store storage.Store, name string, columns *Columns) (*Table, error) {
	doc, err := store.Load()
	if err != nil {
		return nil, err
	}
	cols, err := normalizeColumns(name, columns, doc)
	if err != nil {
		return nil, err
	}
	t, err := newTable(store, name, cols)
	if err != nil {
		return nil, err
	}
	if sec, ok := doc.Get(name); ok {
		if t.rows, err = decodeRows(name, t.defs, t.names, sec.Data); err != nil {
			return nil, err
		}
		return t, nil
	}
	doc.Set(name, storage.NewSection(t.colsJSON))
	if err := store.Write(doc); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", name, err)
	}
	return t, nil
}

// attachTable opens a table from its persisted section.
func attachTable(store storage.Store, name string, sec storage.Section) (*Table, error) {
	cols := NewColumns()
	if err := json.Unmarshal(sec.Columns, cols); err != nil {
		return nil, errors.Corrupt(name, "", fmt.Sprintf("failed to decode columns: %v", err))
	}
	cols, err := normalizeColumns(name, cols, nil)
	if err != nil {
		return nil, err
	}
	t, err := newTable(store, name, cols)
	if err != nil {
		return nil, err
	}
	if t.rows, err = decodeRows(name, t.defs, t.names, sec.Data); err != nil {
		return nil, err
	}
	return t, nil
}

func newTable(store storage.Store, name string, cols *Columns) (*Table, error) {
	colsJSON, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns: %w", err)
	}
	t := &Table{
		name:     name,
		store:    store,
		columns:  cols,
		colsJSON: colsJSON,
		index:    make(map[string]int, cols.Len()),
		pk:       -1,
		rows:     []Row{},
	}
	for n, col := range cols.All() {
		t.index[n] = len(t.names)
		if col.PrimaryKey {
			t.pk = len(t.names)
		}
		t.names = append(t.names, n)
		t.defs = append(t.defs, col)
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Columns returns a copy of the table definition.
func (t *Table) Columns() *Columns {
	return t.columns.Clone()
}

// Temporary reports whether the table only lives in memory (join results).
func (t *Table) Temporary() bool {
	return t.temporary
}

// SetObserver sets the observer notified after each mutation. nil disables it.
func (t *Table) SetObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = o
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Last returns a clone of the last row, or false if empty.
func (t *Table) Last() (Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		return nil, false
	}
	return t.rows[len(t.rows)-1].Clone(), true
}

// All returns an iterator over clones of all rows.
func (t *Table) All() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// Rows returns clones of all rows.
func (t *Table) Rows() []Row {
	return slices.Collect(t.All())
}

// Reload replaces the in-memory rows with the persisted ones.
func (t *Table) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, err := t.store.Load()
	if err != nil {
		return err
	}
	sec, ok := doc.Get(t.name)
	if !ok {
		t.rows = []Row{}
		return nil
	}
	rows, err := decodeRows(t.name, t.defs, t.names, sec.Data)
	if err != nil {
		return err
	}
	t.rows = rows
	return nil
}

// Insert validates and appends a row.
//
// values may omit every auto-increment column; each omitted one is set to the
// last row's value plus one, or 0 for an empty table. Otherwise values must
// hold one value per column.
func (t *Table) Insert(values []any) (Row, error) {
	return t.insert(values, nil)
}

// insert runs check on the fully validated row before it is persisted.
func (t *Table) insert(values []any, check func(Row) error) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, err := t.prepareInsert(values)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(row); err != nil {
			return nil, err
		}
	}
	rows := append(slices.Clip(t.rows), row)
	if err := t.save(rows); err != nil {
		return nil, err
	}
	t.rows = rows
	if t.observer != nil {
		t.observer.OnInsert(t.name, row.Clone())
	}
	return row.Clone(), nil
}

func (t *Table) prepareInsert(values []any) (Row, error) {
	n := len(t.defs)
	var row Row
	switch {
	case len(values) > n:
		return nil, t.countError(len(values), n)
	case len(values) < n:
		row = make(Row, 0, n)
		next := 0
		for i, def := range t.defs {
			if def.AutoIncrement {
				row = append(row, t.nextAutoValue(i))
				continue
			}
			if next == len(values) {
				return nil, t.countError(len(values)+t.autoCount(), n)
			}
			row = append(row, values[next])
			next++
		}
		if next != len(values) {
			return nil, t.countError(len(values)+t.autoCount(), n)
		}
	default:
		row = Row(slices.Clone(values))
	}

	var firstErr error
	for i := range row {
		v, err := t.checkValue(i, row[i])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		row[i] = v
	}
	if t.pk >= 0 && row[t.pk] != nil {
		for _, r := range t.rows {
			if r[t.pk] == row[t.pk] {
				return nil, t.duplicateKeyError(row[t.pk])
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return row, nil
}

// nextAutoValue returns the value synthesized for auto-increment column i.
func (t *Table) nextAutoValue(i int) int64 {
	if len(t.rows) == 0 {
		return 0
	}
	if v, ok := t.rows[len(t.rows)-1][i].(int64); ok {
		return v + 1
	}
	return 0
}

func (t *Table) autoCount() int {
	n := 0
	for _, def := range t.defs {
		if def.AutoIncrement {
			n++
		}
	}
	return n
}

// Update sets names to values on every row where condColumn equals condValue.
//
// condColumn must be the primary key when the table has one. It returns the
// number of matched rows and a copy of each matched row taken before the
// change. No match is not an error.
func (t *Table) Update(names []string, values []any, condColumn string, condValue any) (int, []Row, error) {
	n, pre, _, err := t.update(names, values, condColumn, condValue, false, nil)
	return n, pre, err
}

// update implements Update. cascade lifts the primary key condition for
// changes propagated from a parent table. It also returns the updated rows.
// check, when set, is called with t locked for every non-null new value once
// at least one row matched.
func (t *Table) update(names []string, values []any, condColumn string, condValue any, cascade bool, check func(i int, v any) error) (int, []Row, []Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(names) != len(values) {
		return 0, nil, nil, errors.Constraint(errors.ErrColumnCountMismatch, t.name, "", "%d columns but %d values", len(names), len(values))
	}
	autoNamed := 0
	for _, name := range names {
		if i, ok := t.index[name]; ok && t.defs[i].AutoIncrement {
			autoNamed++
		}
	}
	if budget := len(t.defs) - t.autoCount() + autoNamed; len(names) > budget {
		return 0, nil, nil, errors.Constraint(errors.ErrColumnCountMismatch, t.name, "", "%d columns in update, table allows %d", len(names), budget)
	}
	idx := make([]int, 0, len(names))
	for _, name := range names {
		i, ok := t.index[name]
		if !ok {
			return 0, nil, nil, t.unknownColumnError(name)
		}
		if slices.Contains(idx, i) {
			return 0, nil, nil, errors.Constraint(errors.ErrDuplicateColumn, t.name, name, "column %s is updated twice", name)
		}
		idx = append(idx, i)
	}
	ci, cv, err := t.condition(condColumn, condValue, cascade)
	if err != nil {
		return 0, nil, nil, err
	}

	newValues := make([]any, len(idx))
	var firstErr error
	for k, i := range idx {
		v, err := t.checkValue(i, values[k])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		newValues[k] = v
	}

	var matched []int
	for r, row := range t.rows {
		if row[ci] == cv {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return 0, nil, nil, nil
	}
	if k := slices.Index(idx, t.pk); t.pk >= 0 && k >= 0 {
		if len(matched) > 1 {
			return 0, nil, nil, errors.Constraint(errors.ErrPrimaryKeyCollisionRisk, t.name, t.names[t.pk],
				"%d rows match %s = %v, cannot give them the same primary key", len(matched), condColumn, cv)
		}
		for r, row := range t.rows {
			if r != matched[0] && newValues[k] != nil && row[t.pk] == newValues[k] {
				return 0, nil, nil, t.duplicateKeyError(newValues[k])
			}
		}
	}
	if firstErr != nil {
		return 0, nil, nil, firstErr
	}
	if check != nil {
		for k, i := range idx {
			if newValues[k] == nil {
				continue
			}
			if err := check(i, newValues[k]); err != nil {
				return 0, nil, nil, err
			}
		}
	}

	rows := slices.Clone(t.rows)
	pre := make([]Row, 0, len(matched))
	post := make([]Row, 0, len(matched))
	for _, r := range matched {
		prev := rows[r]
		curr := prev.Clone()
		for k, i := range idx {
			curr[i] = newValues[k]
		}
		rows[r] = curr
		pre = append(pre, prev.Clone())
		post = append(post, curr.Clone())
	}
	if err := t.save(rows); err != nil {
		return 0, nil, nil, err
	}
	t.rows = rows
	if t.observer != nil {
		for k := range pre {
			t.observer.OnUpdate(t.name, pre[k].Clone(), post[k].Clone())
		}
	}
	return len(matched), pre, post, nil
}

// Delete removes every row where column equals value and returns how many
// were removed. column must be the primary key when the table has one.
func (t *Table) Delete(column string, value any) (int, error) {
	removed, err := t.delete(column, value, false)
	return len(removed), err
}

// delete implements Delete and returns the removed rows. cascade lifts the
// primary key condition for deletes propagated from a parent table.
func (t *Table) delete(column string, value any, cascade bool) ([]Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value == nil {
		if _, ok := t.index[column]; !ok {
			return nil, t.unknownColumnError(column)
		}
		return nil, errors.Constraint(errors.ErrTypeMismatch, t.name, column, "cannot delete by null value")
	}
	ci, cv, err := t.condition(column, value, cascade)
	if err != nil {
		return nil, err
	}
	var removed []Row
	rows := make([]Row, 0, len(t.rows))
	for _, row := range t.rows {
		if row[ci] == cv {
			removed = append(removed, row)
			continue
		}
		rows = append(rows, row)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := t.save(rows); err != nil {
		return nil, err
	}
	t.rows = rows
	if t.observer != nil {
		for _, row := range removed {
			t.observer.OnDelete(t.name, row.Clone())
		}
	}
	return removed, nil
}

// condition resolves the column and value rows are matched on.
func (t *Table) condition(column string, value any, cascade bool) (int, any, error) {
	ci, ok := t.index[column]
	if !ok {
		return 0, nil, t.unknownColumnError(column)
	}
	if !cascade && t.pk >= 0 && ci != t.pk {
		return 0, nil, errors.Constraint(errors.ErrConditionNotPrimaryKey, t.name, column,
			"condition column %s is not the primary key %s", column, t.names[t.pk])
	}
	cv, ok := coerceValue(t.defs[ci].Type, value)
	if !ok {
		return 0, nil, errors.Constraint(errors.ErrTypeMismatch, t.name, column,
			"condition on %s column %s cannot match %s %v", t.defs[ci].Type, column, typeName(value), value)
	}
	return ci, cv, nil
}

// contains reports whether some row has value in column i.
func (t *Table) contains(i int, value any) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.has(i, value)
}

// has is contains for callers already holding the lock.
func (t *Table) has(i int, value any) bool {
	for _, row := range t.rows {
		if row[i] == value {
			return true
		}
	}
	return false
}

// checkValue validates v for column i and returns it in canonical form.
func (t *Table) checkValue(i int, v any) (any, error) {
	def := t.defs[i]
	if v == nil {
		if !def.Nullable {
			return nil, errors.Constraint(errors.ErrNullConstraint, t.name, t.names[i], "column %s cannot be null", t.names[i])
		}
		return nil, nil
	}
	c, ok := coerceValue(def.Type, v)
	if !ok {
		return nil, errors.Constraint(errors.ErrTypeMismatch, t.name, t.names[i],
			"column %s expects %s, got %s %v", t.names[i], def.Type, typeName(v), v)
	}
	return c, nil
}

// save writes rows as the table section of the document.
func (t *Table) save(rows []Row) error {
	data, err := encodeRows(rows)
	if err != nil {
		return err
	}
	doc, err := t.store.Load()
	if err != nil {
		return err
	}
	doc.Set(t.name, storage.Section{Columns: t.colsJSON, Data: data})
	if err := t.store.Write(doc); err != nil {
		return fmt.Errorf("failed to save table %s: %w", t.name, err)
	}
	return nil
}

// section returns the current persisted form of the table.
func (t *Table) section() (storage.Section, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	data, err := encodeRows(t.rows)
	if err != nil {
		return storage.Section{}, err
	}
	return storage.Section{Columns: t.colsJSON, Data: data}, nil
}

func (t *Table) countError(got, want int) error {
	return errors.Constraint(errors.ErrValueCountMismatch, t.name, "", "attempting to insert %d values, expected %d", got, want).
		WithDetail("got", got).WithDetail("want", want)
}

func (t *Table) duplicateKeyError(v any) error {
	return errors.Constraint(errors.ErrDuplicatePrimaryKey, t.name, t.names[t.pk], "primary key value %v already exists", v)
}

func (t *Table) unknownColumnError(name string) error {
	return errors.Constraint(errors.ErrUnknownColumn, t.name, name, "column %q does not exist in table %s", name, t.name)
}
