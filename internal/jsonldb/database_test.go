package jsonldb

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/storage"
)

func parentColumns() *Columns {
	return NewColumns().
		Add("id", Column{Type: ColumnTypeInteger, PrimaryKey: true, AutoIncrement: true}).
		Add("name", Column{Type: ColumnTypeText})
}

func childColumns(nullable bool, onUpdate, onDelete Action) *Columns {
	return NewColumns().
		Add("id", Column{Type: ColumnTypeInteger, PrimaryKey: true, AutoIncrement: true}).
		Add("parent_id", Column{
			Type:       ColumnTypeInteger,
			Nullable:   nullable,
			ForeignKey: &ForeignKey{Table: "parent", Column: "id", OnUpdate: onUpdate, OnDelete: onDelete},
		})
}

// newFamily opens a database holding parent and child tables.
func newFamily(t *testing.T, child *Columns, opts ...Option) (*Database, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	db, err := Open(store, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTable("parent", parentColumns()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTable("child", child); err != nil {
		t.Fatal(err)
	}
	return db, store
}

func dbInsert(t *testing.T, db *Database, table string, values ...any) Row {
	t.Helper()
	row, err := db.Insert(table, values)
	if err != nil {
		t.Fatalf("Insert(%s, %v) failed: %v", table, values, err)
	}
	return row
}

func selectAll(t *testing.T, db *Database, table string) []Row {
	t.Helper()
	rows, err := db.Select(table, nil, nil)
	if err != nil {
		t.Fatalf("Select(%s) failed: %v", table, err)
	}
	return rows
}

func TestDatabase_Catalog(t *testing.T) {
	db, _ := newFamily(t, childColumns(true, "", ""))

	if diff := cmp.Diff([]string{"parent", "child"}, db.ListTables()); diff != "" {
		t.Errorf("ListTables mismatch (-want +got):\n%s", diff)
	}
	_, err := db.AddTable("parent", parentColumns())
	wantCode(t, err, errors.ErrTableExists)
	_, err = db.GetTable("nope")
	wantCode(t, err, errors.ErrTableNotFound)
	wantCode(t, db.RemoveTable("nope"), errors.ErrTableNotFound)
	wantCode(t, db.RemoveTable("parent"), errors.ErrTableReferenced)
	_, err = db.Insert("nope", []any{1})
	wantCode(t, err, errors.ErrTableNotFound)

	if err := db.RemoveTable("child"); err != nil {
		t.Fatalf("RemoveTable(child) failed: %v", err)
	}
	if err := db.RemoveTable("parent"); err != nil {
		t.Fatalf("RemoveTable(parent) failed: %v", err)
	}
	if got := db.ListTables(); len(got) != 0 {
		t.Errorf("ListTables() = %v after removal", got)
	}
	doc, err := db.Store().Load()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Len() != 0 {
		t.Errorf("document still has %v", doc.Names())
	}
}

func TestDatabase_ForeignKeyCheck(t *testing.T) {
	db, _ := newFamily(t, childColumns(true, ActionCascade, ActionCascade))
	dbInsert(t, db, "parent", "A")

	dbInsert(t, db, "child", 0)
	dbInsert(t, db, "child", nil)
	_, err := db.Insert("child", []any{42})
	wantCode(t, err, errors.ErrForeignKeyViolation)
	if n := len(selectAll(t, db, "child")); n != 2 {
		t.Errorf("child has %d rows, want 2", n)
	}

	_, _, err = db.Update("child", []string{"parent_id"}, []any{42}, "id", 0)
	wantCode(t, err, errors.ErrForeignKeyViolation)

	t.Run("update without match", func(t *testing.T) {
		store := db.Store().(*storage.MemStore)
		writes := store.Writes()
		n, pre, err := db.Update("child", []string{"parent_id"}, []any{99}, "id", 42)
		if err != nil || n != 0 || len(pre) != 0 {
			t.Fatalf("Update() = %d, %v, %v; want 0 rows and no error", n, pre, err)
		}
		if got := store.Writes(); got != writes {
			t.Errorf("store written %d times, want %d", got, writes)
		}
	})

	t.Run("update to existing parent", func(t *testing.T) {
		n, _, err := db.Update("child", []string{"parent_id"}, []any{0}, "id", 1)
		if err != nil || n != 1 {
			t.Fatalf("Update() = %d, %v", n, err)
		}
		want := []Row{{int64(0), int64(0)}, {int64(1), int64(0)}}
		if diff := cmp.Diff(want, selectAll(t, db, "child")); diff != "" {
			t.Errorf("child rows mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("to non primary key", func(t *testing.T) {
		_, err := db.AddTable("bad", NewColumns().Add("p", Column{
			Type:       ColumnTypeText,
			ForeignKey: &ForeignKey{Table: "parent", Column: "name"},
		}))
		wantCode(t, err, errors.ErrParentNotPrimaryKey)
	})
}

func TestDatabase_CascadeDelete(t *testing.T) {
	rec := &recorder{}
	db, _ := newFamily(t, childColumns(false, "", ActionCascade), WithObserver(rec))
	dbInsert(t, db, "parent", "A")
	dbInsert(t, db, "parent", "B")
	dbInsert(t, db, "child", 0)
	dbInsert(t, db, "child", 1)

	n, err := db.Delete("parent", "id", 0)
	if err != nil || n != 1 {
		t.Fatalf("Delete() = %d, %v; want 1, nil", n, err)
	}
	if got, _ := db.Select("child", nil, Filter{"parent_id": 0}); len(got) != 0 {
		t.Errorf("child rows of deleted parent remain: %v", got)
	}
	if diff := cmp.Diff([]Row{{int64(1), int64(1)}}, selectAll(t, db, "child")); diff != "" {
		t.Errorf("child mismatch (-want +got):\n%s", diff)
	}
	want := []Cascade{{Op: "delete", Action: ActionCascade, Parent: "parent", Child: "child", Column: "parent_id", Value: int64(0), Rows: 1}}
	if diff := cmp.Diff(want, rec.cascades); diff != "" {
		t.Errorf("cascades mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_SetNullDelete(t *testing.T) {
	db, _ := newFamily(t, childColumns(true, "", ActionSetNull))
	dbInsert(t, db, "parent", "A")
	dbInsert(t, db, "child", 0)

	if _, err := db.Delete("parent", "id", 0); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Row{{int64(0), nil}}, selectAll(t, db, "child")); diff != "" {
		t.Errorf("child mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_DoNothing(t *testing.T) {
	db, _ := newFamily(t, childColumns(false, "", ""))
	dbInsert(t, db, "parent", "A")
	dbInsert(t, db, "child", 0)

	if _, err := db.Delete("parent", "id", 0); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Row{{int64(0), int64(0)}}, selectAll(t, db, "child")); diff != "" {
		t.Errorf("child mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_CascadeUpdate(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   any
	}{
		{"cascade", ActionCascade, int64(5)},
		{"set null", ActionSetNull, nil},
		{"do nothing", ActionDoNothing, int64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _ := newFamily(t, childColumns(true, tt.action, ""))
			dbInsert(t, db, "parent", "A")
			dbInsert(t, db, "child", 0)

			n, pre, err := db.Update("parent", []string{"id"}, []any{5}, "id", 0)
			if err != nil || n != 1 {
				t.Fatalf("Update() = %d, %v", n, err)
			}
			if diff := cmp.Diff([]Row{{int64(0), "A"}}, pre); diff != "" {
				t.Errorf("pre-images mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]Row{{int64(0), tt.want}}, selectAll(t, db, "child")); diff != "" {
				t.Errorf("child mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("unchanged key", func(t *testing.T) {
		db, _ := newFamily(t, childColumns(true, ActionSetNull, ""))
		dbInsert(t, db, "parent", "A")
		dbInsert(t, db, "child", 0)
		if _, _, err := db.Update("parent", []string{"name"}, []any{"B"}, "id", 0); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]Row{{int64(0), int64(0)}}, selectAll(t, db, "child")); diff != "" {
			t.Errorf("child mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDatabase_TransitiveCascade(t *testing.T) {
	db, _ := newFamily(t, childColumns(false, ActionCascade, ActionCascade))
	if _, err := db.AddTable("grandchild", NewColumns().
		Add("id", Column{Type: ColumnTypeInteger, PrimaryKey: true, AutoIncrement: true}).
		Add("child_id", Column{
			Type:       ColumnTypeInteger,
			ForeignKey: &ForeignKey{Table: "child", Column: "id", OnDelete: ActionCascade},
		})); err != nil {
		t.Fatal(err)
	}
	dbInsert(t, db, "parent", "A")
	dbInsert(t, db, "parent", "B")
	dbInsert(t, db, "child", 0)
	dbInsert(t, db, "child", 1)
	dbInsert(t, db, "grandchild", 0)
	dbInsert(t, db, "grandchild", 1)

	if _, err := db.Delete("parent", "id", 0); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Row{{int64(1), int64(1)}}, selectAll(t, db, "child")); diff != "" {
		t.Errorf("child mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Row{{int64(1), int64(1)}}, selectAll(t, db, "grandchild")); diff != "" {
		t.Errorf("grandchild mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_PropagationIsNotAtomic(t *testing.T) {
	// set_null on a non-nullable column fails after the parent row is gone.
	path := filepath.Join(t.TempDir(), "db.json")
	db, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTable("parent", parentColumns()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTable("child", childColumns(false, "", ActionSetNull)); err != nil {
		t.Fatal(err)
	}
	dbInsert(t, db, "parent", "A")
	dbInsert(t, db, "child", 0)

	n, err := db.Delete("parent", "id", 0)
	wantCode(t, err, errors.ErrPropagation)
	wantCode(t, err, errors.ErrNullConstraint)
	if errors.ClassOf(err) != errors.ClassIntegrity {
		t.Errorf("class = %q, want integrity", errors.ClassOf(err))
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}

	db2, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := selectAll(t, db2, "parent"); len(got) != 0 {
		t.Errorf("parent delete was not persisted: %v", got)
	}
	if diff := cmp.Diff([]Row{{int64(0), int64(0)}}, selectAll(t, db2, "child")); diff != "" {
		t.Errorf("child mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "db.json")
	db, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTable("parent", parentColumns()); err != nil {
		t.Fatal(err)
	}
	want := []Row{dbInsert(t, db, "parent", "A"), dbInsert(t, db, "parent", "B")}
	if err := db.Save(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	_, err = db.Insert("parent", []any{"C"})
	wantCode(t, err, errors.ErrClosed)
	wantCode(t, db.Save(), errors.ErrClosed)

	db, err = OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"parent"}, db.ListTables()); diff != "" {
		t.Errorf("ListTables mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, selectAll(t, db, "parent")); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if row := dbInsert(t, db, "parent", "C"); row[0] != int64(2) {
		t.Errorf("synthesized id = %v, want 2", row[0])
	}

	if err := db.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := db.ListTables(); len(got) != 0 {
		t.Errorf("ListTables() = %v after Reset", got)
	}
	db, err = OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := db.ListTables(); len(got) != 0 {
		t.Errorf("ListTables() = %v after reopening a reset database", got)
	}
}

func TestDatabase_SQLiteStore(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := Open(store)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddTable("parent", parentColumns()); err != nil {
		t.Fatal(err)
	}
	dbInsert(t, db, "parent", "A")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = storage.NewSQLiteStore(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	db, err = Open(store)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if diff := cmp.Diff([]Row{{int64(0), "A"}}, selectAll(t, db, "parent")); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}
