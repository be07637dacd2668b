// Handles schema definition, column types, foreign keys and schema validation.

package jsonldb

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/storage"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ColumnType is the scalar type of a column.
type ColumnType string

const (
	// ColumnTypeText stores strings.
	ColumnTypeText ColumnType = "text"
	// ColumnTypeInteger stores int64 values.
	ColumnTypeInteger ColumnType = "integer"
	// ColumnTypeReal stores float64 values.
	ColumnTypeReal ColumnType = "real"
)

// ParseColumnType returns the canonical column type for s.
func ParseColumnType(s string) (ColumnType, bool) {
	switch strings.ToLower(s) {
	case "text", "str", "string":
		return ColumnTypeText, true
	case "integer", "int":
		return ColumnTypeInteger, true
	case "real", "float":
		return ColumnTypeReal, true
	default:
		return "", false
	}
}

// Action is what happens to child rows when the parent row changes.
type Action string

const (
	// ActionCascade applies the parent change to child rows.
	ActionCascade Action = "cascade"
	// ActionSetNull sets the child foreign key to null.
	ActionSetNull Action = "set_null"
	// ActionDoNothing leaves child rows untouched.
	ActionDoNothing Action = "do_nothing"
)

// ParseAction returns the action for s. An empty string is ActionDoNothing.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case "", ActionDoNothing:
		return ActionDoNothing, true
	case ActionCascade, ActionSetNull:
		return Action(s), true
	default:
		return "", false
	}
}

// ForeignKey references the primary key of another table.
type ForeignKey struct {
	Table    string `json:"target_table"`
	Column   string `json:"target_column"`
	OnUpdate Action `json:"on_update"`
	OnDelete Action `json:"on_delete"`
}

// Column is the definition of one column.
type Column struct {
	Type          ColumnType  `json:"type"`
	PrimaryKey    bool        `json:"primary_key"`
	Nullable      bool        `json:"nullable"`
	AutoIncrement bool        `json:"auto_increment"`
	ForeignKey    *ForeignKey `json:"foreign_key"`
	// Temporary is set on the columns of join results.
	Temporary bool `json:"temporary,omitempty"`
}

func (c Column) clone() Column {
	if c.ForeignKey != nil {
		fk := *c.ForeignKey
		c.ForeignKey = &fk
	}
	return c
}

// Columns is the ordered set of column definitions of a table.
//
// The order is the positional order of values in every row.
type Columns struct {
	m *orderedmap.OrderedMap[string, Column]
}

// NewColumns returns an empty column set.
func NewColumns() *Columns {
	return &Columns{m: orderedmap.New[string, Column]()}
}

// Add appends a column and returns c for chaining. Adding an existing name
// replaces its definition in place.
func (c *Columns) Add(name string, col Column) *Columns {
	c.m.Set(name, col)
	return c
}

// Len returns the number of columns.
func (c *Columns) Len() int {
	return c.m.Len()
}

// Get returns the definition of a column.
func (c *Columns) Get(name string) (Column, bool) {
	col, ok := c.m.Get(name)
	return col.clone(), ok
}

// Names returns the column names in order.
func (c *Columns) Names() []string {
	names := make([]string, 0, c.m.Len())
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// All iterates over the columns in order.
func (c *Columns) All() iter.Seq2[string, Column] {
	return func(yield func(string, Column) bool) {
		for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value.clone()) {
				return
			}
		}
	}
}

// PrimaryKey returns the name of the primary key column, or "".
func (c *Columns) PrimaryKey() string {
	for name, col := range c.All() {
		if col.PrimaryKey {
			return name
		}
	}
	return ""
}

// Clone returns a deep copy.
func (c *Columns) Clone() *Columns {
	out := NewColumns()
	for name, col := range c.All() {
		out.m.Set(name, col)
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (c *Columns) MarshalJSON() ([]byte, error) {
	return c.m.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Columns) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, Column]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	c.m = m
	return nil
}

// normalizeColumns applies defaults to a table definition and validates it.
// Foreign keys are checked against the tables persisted in doc; a nil doc
// skips foreign key resolution (used when reattaching persisted tables).
func normalizeColumns(table string, columns *Columns, doc *storage.Document) (*Columns, error) {
	if table == "" {
		return nil, errors.Schema(errors.ErrEmptyName, table, "", "table name is required")
	}
	if columns == nil || columns.Len() == 0 {
		return nil, errors.Schema(errors.ErrNoColumns, table, "", "table %s has no columns", table)
	}
	out := NewColumns()
	var pk []string
	for name, col := range columns.All() {
		if name == "" {
			return nil, errors.Schema(errors.ErrEmptyName, table, "", "column name is required")
		}
		ct, ok := ParseColumnType(string(col.Type))
		if !ok {
			return nil, errors.Schema(errors.ErrInvalidType, table, name, "unsupported column type %q", col.Type)
		}
		col.Type = ct
		if col.PrimaryKey {
			pk = append(pk, name)
		}
		if col.AutoIncrement && (ct != ColumnTypeInteger || col.Nullable) {
			return nil, errors.Schema(errors.ErrInvalidAutoIncrement, table, name, "auto-increment column must be a non-nullable integer")
		}
		if col.ForeignKey != nil {
			if err := normalizeForeignKey(table, name, &col, doc); err != nil {
				return nil, err
			}
		}
		out.m.Set(name, col)
	}
	if len(pk) > 1 {
		return nil, errors.Schema(errors.ErrMultiplePrimaryKeys, table, "", "multiple primary keys found: %s", strings.Join(pk, ", ")).
			WithDetail("columns", pk)
	}
	return out, nil
}

func normalizeForeignKey(table, name string, col *Column, doc *storage.Document) error {
	fk := col.ForeignKey
	onUpdate, ok := ParseAction(string(fk.OnUpdate))
	if !ok {
		return errors.Schema(errors.ErrInvalidAction, table, name, "invalid on_update action %q", fk.OnUpdate)
	}
	onDelete, ok := ParseAction(string(fk.OnDelete))
	if !ok {
		return errors.Schema(errors.ErrInvalidAction, table, name, "invalid on_delete action %q", fk.OnDelete)
	}
	fk.OnUpdate, fk.OnDelete = onUpdate, onDelete
	if doc == nil {
		return nil
	}
	sec, ok := doc.Get(fk.Table)
	if !ok {
		return errors.Schema(errors.ErrUnknownParentTable, table, name, "foreign key parent table %q does not exist", fk.Table)
	}
	parent := NewColumns()
	if err := json.Unmarshal(sec.Columns, parent); err != nil {
		return errors.Corrupt(fk.Table, "", fmt.Sprintf("failed to decode columns: %v", err))
	}
	target, ok := parent.Get(fk.Column)
	if !ok {
		return errors.Schema(errors.ErrUnknownParentColumn, table, name, "foreign key column %q does not exist in parent table %q", fk.Column, fk.Table)
	}
	if pt, _ := ParseColumnType(string(target.Type)); pt != col.Type {
		return errors.Schema(errors.ErrTypeMismatch, table, name, "foreign key type %s does not match %s.%s type %s", col.Type, fk.Table, fk.Column, target.Type)
	}
	if !target.PrimaryKey {
		return errors.Schema(errors.ErrParentNotPrimaryKey, table, name, "foreign key target %s.%s is not a primary key", fk.Table, fk.Column)
	}
	return nil
}
