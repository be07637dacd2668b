// Package handlers implements the JSON API over a database catalog.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/maruel/recdb/internal/jsonldb"
)

// InvalidRequestError is returned for malformed request parameters.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Err.Error() }

func (e *InvalidRequestError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &InvalidRequestError{Err: fmt.Errorf(format, args...)}
}

// TableHandler serves the tables of a database and their rows.
type TableHandler struct {
	db *jsonldb.Database
}

// NewTableHandler creates a new table handler.
func NewTableHandler(db *jsonldb.Database) *TableHandler {
	return &TableHandler{db: db}
}

// EmptyResponse is returned by operations that have nothing to report.
type EmptyResponse struct{}

// ListTablesRequest is the request to list the live tables.
type ListTablesRequest struct{}

// ListTablesResponse lists the live tables in creation order.
type ListTablesResponse struct {
	Tables []string `json:"tables"`
}

// ListTables returns the names of the live tables.
func (h *TableHandler) ListTables(ctx context.Context, req ListTablesRequest) (*ListTablesResponse, error) {
	tables := h.db.ListTables()
	if tables == nil {
		tables = []string{}
	}
	return &ListTablesResponse{Tables: tables}, nil
}

// CreateTableRequest defines a new table.
type CreateTableRequest struct {
	Name    string           `json:"name"`
	Columns *jsonldb.Columns `json:"columns"`
}

// TableResponse describes a table.
type TableResponse struct {
	Name    string           `json:"name"`
	Columns *jsonldb.Columns `json:"columns"`
	Rows    int              `json:"rows"`
}

func tableResponse(t *jsonldb.Table) *TableResponse {
	return &TableResponse{Name: t.Name(), Columns: t.Columns(), Rows: t.Len()}
}

// CreateTable adds a table to the catalog.
func (h *TableHandler) CreateTable(ctx context.Context, req CreateTableRequest) (*TableResponse, error) {
	if req.Columns == nil {
		return nil, invalid("columns are required")
	}
	t, err := h.db.AddTable(req.Name, req.Columns)
	if err != nil {
		return nil, err
	}
	return tableResponse(t), nil
}

// GetTableRequest names a table.
type GetTableRequest struct {
	Table string `path:"table" json:"-"`
}

// GetTable returns the columns and row count of a table.
func (h *TableHandler) GetTable(ctx context.Context, req GetTableRequest) (*TableResponse, error) {
	t, err := h.db.GetTable(req.Table)
	if err != nil {
		return nil, err
	}
	return tableResponse(t), nil
}

// DeleteTable removes a table that no other table references.
func (h *TableHandler) DeleteTable(ctx context.Context, req GetTableRequest) (*EmptyResponse, error) {
	if err := h.db.RemoveTable(req.Table); err != nil {
		return nil, err
	}
	return &EmptyResponse{}, nil
}

// SelectRowsRequest filters the rows of a table.
//
// Filter is a JSON object mapping column names to values and Columns a comma
// separated projection.
type SelectRowsRequest struct {
	Table   string `path:"table" json:"-"`
	Filter  string `query:"filter" json:"-"`
	Columns string `query:"columns" json:"-"`
}

// RowsResponse holds rows in column order.
type RowsResponse struct {
	Rows []jsonldb.Row `json:"rows"`
}

// SelectRows returns the rows matching every filter entry.
func (h *TableHandler) SelectRows(ctx context.Context, req SelectRowsRequest) (*RowsResponse, error) {
	var filter jsonldb.Filter
	if req.Filter != "" {
		d := json.NewDecoder(bytes.NewReader([]byte(req.Filter)))
		d.UseNumber()
		if err := d.Decode(&filter); err != nil {
			return nil, invalid("filter: %w", err)
		}
	}
	var columns []string
	if req.Columns != "" {
		columns = strings.Split(req.Columns, ",")
	}
	rows, err := h.db.Select(req.Table, columns, filter)
	if err != nil {
		return nil, err
	}
	return &RowsResponse{Rows: rows}, nil
}

// InsertRowRequest appends a row. Trailing auto-increment values may be omitted.
type InsertRowRequest struct {
	Table  string `path:"table" json:"-"`
	Values []any  `json:"values"`
}

// RowResponse holds a single row.
type RowResponse struct {
	Row jsonldb.Row `json:"row"`
}

// InsertRow inserts a row after checking its foreign keys.
func (h *TableHandler) InsertRow(ctx context.Context, req InsertRowRequest) (*RowResponse, error) {
	row, err := h.db.Insert(req.Table, req.Values)
	if err != nil {
		return nil, err
	}
	return &RowResponse{Row: row}, nil
}

// UpdateRowsRequest sets columns on the rows where Column equals Value.
type UpdateRowsRequest struct {
	Table  string         `path:"table" json:"-"`
	Set    map[string]any `json:"set"`
	Column string         `json:"column"`
	Value  any            `json:"value"`
}

// UpdateRowsResponse reports the updated rows as they were before the update.
type UpdateRowsResponse struct {
	Updated  int           `json:"updated"`
	Previous []jsonldb.Row `json:"previous"`
}

// UpdateRows updates the matching rows and propagates primary key changes.
func (h *TableHandler) UpdateRows(ctx context.Context, req UpdateRowsRequest) (*UpdateRowsResponse, error) {
	if len(req.Set) == 0 {
		return nil, invalid("set is required")
	}
	names := slices.Sorted(maps.Keys(req.Set))
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = req.Set[name]
	}
	n, pre, err := h.db.Update(req.Table, names, values, req.Column, req.Value)
	if err != nil {
		return nil, err
	}
	if pre == nil {
		pre = []jsonldb.Row{}
	}
	return &UpdateRowsResponse{Updated: n, Previous: pre}, nil
}

// DeleteRowsRequest deletes the rows where Column equals Value.
type DeleteRowsRequest struct {
	Table  string `path:"table" json:"-"`
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// DeleteRowsResponse reports the number of deleted rows.
type DeleteRowsResponse struct {
	Deleted int `json:"deleted"`
}

// DeleteRows deletes the matching rows and propagates to child tables.
func (h *TableHandler) DeleteRows(ctx context.Context, req DeleteRowsRequest) (*DeleteRowsResponse, error) {
	n, err := h.db.Delete(req.Table, req.Column, req.Value)
	if err != nil {
		return nil, err
	}
	return &DeleteRowsResponse{Deleted: n}, nil
}

// JoinRequest joins two tables on a filter.
type JoinRequest struct {
	Left   string         `json:"left"`
	Right  string         `json:"right"`
	Filter jsonldb.Filter `json:"filter"`
}

// JoinResponse holds the columns and rows of a join.
type JoinResponse struct {
	Columns []string      `json:"columns"`
	Rows    []jsonldb.Row `json:"rows"`
}

// Join returns the rows of the cross product of both tables matching the filter.
func (h *TableHandler) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	t, err := h.db.Join(req.Left, req.Right, req.Filter)
	if err != nil {
		return nil, err
	}
	rows := t.Rows()
	if rows == nil {
		rows = []jsonldb.Row{}
	}
	return &JoinResponse{Columns: t.Columns().Names(), Rows: rows}, nil
}
