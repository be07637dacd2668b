// Propagates parent updates and deletes to the tables referencing them.

package jsonldb

import (
	"github.com/maruel/recdb/internal/errors"
)

// reference is a child column holding a foreign key to a parent column.
type reference struct {
	child  *Table
	column string
	parent int // index of the referenced column in the parent
	fk     ForeignKey
}

// references returns the columns of other live tables that point to parent,
// in table creation order.
func (db *Database) references(parent *Table) []reference {
	var refs []reference
	for _, name := range db.order {
		child := db.tables[name]
		if child == parent {
			continue
		}
		for i, def := range child.defs {
			if def.ForeignKey == nil || def.ForeignKey.Table != parent.name {
				continue
			}
			pi, ok := parent.index[def.ForeignKey.Column]
			if !ok {
				continue
			}
			refs = append(refs, reference{child: child, column: child.names[i], parent: pi, fk: *def.ForeignKey})
		}
	}
	return refs
}

// propagateUpdate applies the on_update action of every reference to parent
// for each row whose referenced value changed from pre to post.
//
// visited holds the tables on the current propagation path; a table already
// on it is not entered again.
func (db *Database) propagateUpdate(parent *Table, pre, post []Row, visited map[string]bool) error {
	if visited[parent.name] {
		return nil
	}
	visited[parent.name] = true
	defer delete(visited, parent.name)

	for _, ref := range db.references(parent) {
		if ref.fk.OnUpdate == ActionDoNothing {
			continue
		}
		for k := range pre {
			old, curr := pre[k][ref.parent], post[k][ref.parent]
			if old == nil || old == curr {
				continue
			}
			var v any
			if ref.fk.OnUpdate == ActionCascade {
				v = curr
			}
			n, cpre, cpost, err := ref.child.update([]string{ref.column}, []any{v}, ref.column, old, true, nil)
			if err != nil {
				return errors.Propagation(ref.child.name, ref.column, err).
					WithDetail("parent", parent.name).WithDetail("value", old)
			}
			if n == 0 {
				continue
			}
			db.notifyCascade(Cascade{Op: "update", Action: ref.fk.OnUpdate, Parent: parent.name, Child: ref.child.name, Column: ref.column, Value: old, Rows: n})
			if err := db.propagateUpdate(ref.child, cpre, cpost, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// propagateDelete applies the on_delete action of every reference to parent
// for each removed row.
func (db *Database) propagateDelete(parent *Table, removed []Row, visited map[string]bool) error {
	if visited[parent.name] {
		return nil
	}
	visited[parent.name] = true
	defer delete(visited, parent.name)

	for _, ref := range db.references(parent) {
		for _, row := range removed {
			old := row[ref.parent]
			if old == nil {
				continue
			}
			switch ref.fk.OnDelete {
			case ActionCascade:
				gone, err := ref.child.delete(ref.column, old, true)
				if err != nil {
					return errors.Propagation(ref.child.name, ref.column, err).
						WithDetail("parent", parent.name).WithDetail("value", old)
				}
				if len(gone) == 0 {
					continue
				}
				db.notifyCascade(Cascade{Op: "delete", Action: ActionCascade, Parent: parent.name, Child: ref.child.name, Column: ref.column, Value: old, Rows: len(gone)})
				if err := db.propagateDelete(ref.child, gone, visited); err != nil {
					return err
				}
			case ActionSetNull:
				n, cpre, cpost, err := ref.child.update([]string{ref.column}, []any{nil}, ref.column, old, true, nil)
				if err != nil {
					return errors.Propagation(ref.child.name, ref.column, err).
						WithDetail("parent", parent.name).WithDetail("value", old)
				}
				if n == 0 {
					continue
				}
				db.notifyCascade(Cascade{Op: "delete", Action: ActionSetNull, Parent: parent.name, Child: ref.child.name, Column: ref.column, Value: old, Rows: n})
				if err := db.propagateUpdate(ref.child, cpre, cpost, visited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (db *Database) notifyCascade(c Cascade) {
	if db.observer != nil {
		db.observer.OnCascade(c)
	}
}
