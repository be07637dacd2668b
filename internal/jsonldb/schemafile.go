package jsonldb

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseColumns reads a table definition from YAML or JSON. The document is a
// mapping from column name to definition and its key order is the column
// order:
//
//	id:
//	  type: integer
//	  primary_key: true
//	  auto_increment: true
//	parent_id:
//	  type: integer
//	  nullable: true
//	  foreign_key: {target_table: parent, target_column: id, on_delete: cascade}
//
// The result is not validated; NewTable does it.
func ParseColumns(data []byte) (*Columns, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse columns: %w", err)
	}
	if root.Kind == 0 {
		return NewColumns(), nil
	}
	m := &root
	if m.Kind == yaml.DocumentNode && len(m.Content) == 1 {
		m = m.Content[0]
	}
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse columns: line %d: expected a mapping of column names", m.Line)
	}
	cols := NewColumns()
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]
		var def columnFile
		if err := value.Decode(&def); err != nil {
			return nil, fmt.Errorf("failed to parse column %q: %w", key.Value, err)
		}
		if _, ok := cols.Get(key.Value); ok {
			return nil, fmt.Errorf("failed to parse columns: line %d: column %q is defined twice", key.Line, key.Value)
		}
		cols.Add(key.Value, def.column())
	}
	return cols, nil
}

// columnFile is the YAML form of a Column.
type columnFile struct {
	Type          string          `yaml:"type"`
	PrimaryKey    bool            `yaml:"primary_key"`
	Nullable      bool            `yaml:"nullable"`
	AutoIncrement bool            `yaml:"auto_increment"`
	ForeignKey    *foreignKeyFile `yaml:"foreign_key"`
}

type foreignKeyFile struct {
	Table    string `yaml:"target_table"`
	Column   string `yaml:"target_column"`
	OnUpdate string `yaml:"on_update"`
	OnDelete string `yaml:"on_delete"`
}

func (c *columnFile) column() Column {
	col := Column{
		Type:          ColumnType(c.Type),
		PrimaryKey:    c.PrimaryKey,
		Nullable:      c.Nullable,
		AutoIncrement: c.AutoIncrement,
	}
	if fk := c.ForeignKey; fk != nil {
		col.ForeignKey = &ForeignKey{
			Table:    fk.Table,
			Column:   fk.Column,
			OnUpdate: Action(fk.OnUpdate),
			OnDelete: Action(fk.OnDelete),
		}
	}
	return col
}
