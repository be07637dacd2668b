package jsonldb

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/maruel/recdb/internal/errors"
)

// ColumnsFromType derives a table definition from the struct T.
//
// Columns follow the JSON field order. A field is nullable when it is a
// pointer or not required by its JSON Schema (omitempty). Keys are declared
// with the recdb tag:
//
//	ID       int64  `json:"id" recdb:"pk,auto_increment"`
//	ParentID *int64 `json:"parent_id" recdb:"fk=parent.id,on_delete=cascade"`
func ColumnsFromType[T any]() (*Columns, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type must be a struct or pointer to struct, got %s", t.Kind())
	}

	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.ReflectFromType(t)
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	fields := make(map[string]reflect.StructField, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if f.IsExported() {
			fields[jsonFieldName(&f)] = f
		}
	}

	cols := NewColumns()
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		f, ok := fields[name]
		if !ok {
			continue
		}
		ct, ok := goTypeToColumnType(f.Type)
		if !ok {
			return nil, errors.Schema(errors.ErrInvalidType, t.Name(), name, "unsupported Go type %s", f.Type)
		}
		col := Column{Type: ct, Nullable: f.Type.Kind() == reflect.Pointer || !required[name]}
		if err := parseTag(&col, f.Tag.Get("recdb")); err != nil {
			return nil, errors.Schema(errors.ErrInvalidType, t.Name(), name, "invalid recdb tag: %v", err)
		}
		cols.Add(name, col)
	}
	return cols, nil
}

// parseTag applies the comma separated options of a recdb struct tag.
func parseTag(col *Column, tag string) error {
	if tag == "" {
		return nil
	}
	for opt := range strings.SplitSeq(tag, ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "pk":
			col.PrimaryKey = true
			col.Nullable = false
		case "auto_increment":
			col.AutoIncrement = true
			col.Nullable = false
		case "nullable":
			col.Nullable = true
		case "fk":
			table, column, ok := strings.Cut(value, ".")
			if !ok || table == "" || column == "" {
				return fmt.Errorf("fk must be table.column, got %q", value)
			}
			if col.ForeignKey == nil {
				col.ForeignKey = &ForeignKey{}
			}
			col.ForeignKey.Table, col.ForeignKey.Column = table, column
		case "on_update", "on_delete":
			if col.ForeignKey == nil {
				return fmt.Errorf("%s requires fk", key)
			}
			if key == "on_update" {
				col.ForeignKey.OnUpdate = Action(value)
			} else {
				col.ForeignKey.OnDelete = Action(value)
			}
		case "":
		default:
			return fmt.Errorf("unknown option %q", key)
		}
	}
	return nil
}

// jsonFieldName returns the JSON field name for a struct field.
func jsonFieldName(field *reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// goTypeToColumnType maps a Go field type to a column type.
func goTypeToColumnType(t reflect.Type) (ColumnType, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return ColumnTypeText, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return ColumnTypeInteger, true
	case reflect.Float32, reflect.Float64:
		return ColumnTypeReal, true
	default:
		return "", false
	}
}
