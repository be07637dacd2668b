// Equality-filtered selects and joins. Both scan every row; there is no index.

package jsonldb

import (
	"fmt"
	"maps"
	"slices"

	"github.com/maruel/ksid"
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/storage"
)

// Filter maps column names to the value they must equal. A nil value
// matches null. An empty filter matches every row.
type Filter map[string]any

// predicate is a resolved filter entry.
type predicate struct {
	index int
	value any
}

// predicates resolves the entries of f that name a column of t. With strict,
// an entry naming no column is an error; otherwise it is ignored.
func (t *Table) predicates(f Filter, strict bool) ([]predicate, error) {
	var out []predicate
	for _, name := range slices.Sorted(maps.Keys(f)) {
		i, ok := t.index[name]
		if !ok {
			if strict {
				return nil, t.unknownColumnError(name)
			}
			continue
		}
		v, ok := coerceValue(t.defs[i].Type, f[name])
		if !ok {
			return nil, errors.Constraint(errors.ErrTypeMismatch, t.name, name,
				"filter on %s column %s cannot match %s %v", t.defs[i].Type, name, typeName(f[name]), f[name])
		}
		out = append(out, predicate{index: i, value: v})
	}
	return out, nil
}

func matches(row Row, preds []predicate) bool {
	for _, p := range preds {
		if row[p.index] != p.value {
			return false
		}
	}
	return true
}

// Select returns the rows matching every filter entry, projected to columns.
// An empty columns returns whole rows.
func (t *Table) Select(columns []string, filter Filter) ([]Row, error) {
	proj := make([]int, 0, len(columns))
	for _, name := range columns {
		i, ok := t.index[name]
		if !ok {
			return nil, t.unknownColumnError(name)
		}
		proj = append(proj, i)
	}
	preds, err := t.predicates(filter, true)
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for row := range t.All() {
		if !matches(row, preds) {
			continue
		}
		if len(proj) == 0 {
			out = append(out, row)
			continue
		}
		p := make(Row, len(proj))
		for k, i := range proj {
			p[k] = row[i]
		}
		out = append(out, p)
	}
	return out, nil
}

// Select runs Table.Select on a live table.
func (db *Database) Select(table string, columns []string, filter Filter) ([]Row, error) {
	t, err := db.GetTable(table)
	if err != nil {
		return nil, err
	}
	return t.Select(columns, filter)
}

// Join pairs every row of left with every row of right, keeping the pairs
// where both rows match filter. Each filter entry applies to the tables that
// have the column and must exist in at least one of them.
//
// The result is a new temporary table backed by memory: its columns are the
// columns of left followed by the columns of right that left lacks, without
// keys and marked temporary. It is not part of the catalog.
func (db *Database) Join(left, right string, filter Filter) (*Table, error) {
	l, err := db.GetTable(left)
	if err != nil {
		return nil, err
	}
	r, err := db.GetTable(right)
	if err != nil {
		return nil, err
	}
	for name := range filter {
		_, inLeft := l.index[name]
		_, inRight := r.index[name]
		if !inLeft && !inRight {
			return nil, errors.Constraint(errors.ErrUnknownColumn, left, name, "column %q exists in neither %s nor %s", name, left, right)
		}
	}
	lp, err := l.predicates(filter, false)
	if err != nil {
		return nil, err
	}
	rp, err := r.predicates(filter, false)
	if err != nil {
		return nil, err
	}

	cols := NewColumns()
	for name, col := range l.columns.All() {
		cols.Add(name, joinColumn(col))
	}
	var extra []int
	for i, name := range r.names {
		if _, ok := l.index[name]; ok {
			continue
		}
		cols.Add(name, joinColumn(r.defs[i]))
		extra = append(extra, i)
	}

	name := fmt.Sprintf("join_%s_%s_%s", left, right, ksid.NewID().String())
	t, err := NewTable(storage.NewMemStore(), name, cols)
	if err != nil {
		return nil, err
	}
	t.temporary = true

	rrows := slices.Collect(r.All())
	var rows []Row
	for lrow := range l.All() {
		if !matches(lrow, lp) {
			continue
		}
		for _, rrow := range rrows {
			if !matches(rrow, rp) {
				continue
			}
			row := make(Row, 0, len(t.defs))
			row = append(row, lrow...)
			for _, i := range extra {
				row = append(row, rrow[i])
			}
			rows = append(rows, row)
		}
	}
	if len(rows) > 0 {
		if err := t.save(rows); err != nil {
			return nil, err
		}
		t.rows = rows
	}
	return t, nil
}

// joinColumn returns the definition of a join result column.
func joinColumn(c Column) Column {
	return Column{Type: c.Type, Nullable: true, Temporary: true}
}
