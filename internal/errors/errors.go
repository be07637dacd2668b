// Package errors defines structured error types for the record store.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Class groups error codes by the layer that raises them.
type Class string

const (
	// ClassSchema is raised while building a table definition. The table is not created.
	ClassSchema Class = "schema"
	// ClassConstraint is raised by a single mutation. The table is left unchanged.
	ClassConstraint Class = "constraint"
	// ClassIntegrity is raised while propagating a change to child tables,
	// after the parent mutation was already persisted.
	ClassIntegrity Class = "integrity"
	// ClassCatalog is raised by table registration and lookup.
	ClassCatalog Class = "catalog"
	// ClassStorage is raised when the persisted document cannot be decoded.
	ClassStorage Class = "storage"
)

// ErrorCode identifies the nature of a violation.
type ErrorCode string

const (
	// ErrEmptyName is returned when a table or column name is empty
	ErrEmptyName ErrorCode = "EMPTY_NAME"
	// ErrNoColumns is returned when a table is defined without columns
	ErrNoColumns ErrorCode = "NO_COLUMNS"
	// ErrInvalidType is returned when a column type is not text, integer or real
	ErrInvalidType ErrorCode = "INVALID_TYPE"
	// ErrMultiplePrimaryKeys is returned when more than one column is a primary key
	ErrMultiplePrimaryKeys ErrorCode = "MULTIPLE_PRIMARY_KEYS"
	// ErrInvalidAutoIncrement is returned for auto-increment columns that are not non-null integers
	ErrInvalidAutoIncrement ErrorCode = "INVALID_AUTO_INCREMENT"
	// ErrUnknownParentTable is returned when a foreign key targets a table that is not persisted
	ErrUnknownParentTable ErrorCode = "UNKNOWN_PARENT_TABLE"
	// ErrUnknownParentColumn is returned when a foreign key targets a missing column
	ErrUnknownParentColumn ErrorCode = "UNKNOWN_PARENT_COLUMN"
	// ErrParentNotPrimaryKey is returned when a foreign key targets a non primary key column
	ErrParentNotPrimaryKey ErrorCode = "PARENT_NOT_PRIMARY_KEY"
	// ErrInvalidAction is returned for on_update/on_delete values that are not recognized
	ErrInvalidAction ErrorCode = "INVALID_ACTION"

	// ErrTypeMismatch is returned when a value or a foreign key does not match the column type
	ErrTypeMismatch ErrorCode = "TYPE_MISMATCH"
	// ErrValueCountMismatch is returned when an inserted row has the wrong number of values
	ErrValueCountMismatch ErrorCode = "VALUE_COUNT_MISMATCH"
	// ErrColumnCountMismatch is returned when update names and values disagree or exceed the table
	ErrColumnCountMismatch ErrorCode = "COLUMN_COUNT_MISMATCH"
	// ErrDuplicateColumn is returned when an update names the same column twice
	ErrDuplicateColumn ErrorCode = "DUPLICATE_COLUMN"
	// ErrUnknownColumn is returned when a column name does not exist in the table
	ErrUnknownColumn ErrorCode = "UNKNOWN_COLUMN"
	// ErrDuplicatePrimaryKey is returned when a primary key value is already used
	ErrDuplicatePrimaryKey ErrorCode = "DUPLICATE_PRIMARY_KEY"
	// ErrNullConstraint is returned when nil is stored in a non-nullable column
	ErrNullConstraint ErrorCode = "NULL_CONSTRAINT"
	// ErrPrimaryKeyCollisionRisk is returned when a primary key update matches several rows
	ErrPrimaryKeyCollisionRisk ErrorCode = "PRIMARY_KEY_COLLISION_RISK"
	// ErrConditionNotPrimaryKey is returned when an update or delete is not keyed by the primary key
	ErrConditionNotPrimaryKey ErrorCode = "CONDITION_NOT_PRIMARY_KEY"
	// ErrForeignKeyViolation is returned when a foreign key value has no parent row
	ErrForeignKeyViolation ErrorCode = "FOREIGN_KEY_VIOLATION"

	// ErrPropagation is returned when a change cannot be applied to a child table
	ErrPropagation ErrorCode = "PROPAGATION_FAILED"

	// ErrTableExists is returned when adding a table that is already live
	ErrTableExists ErrorCode = "TABLE_EXISTS"
	// ErrTableNotFound is returned when a table is not live in the catalog
	ErrTableNotFound ErrorCode = "TABLE_NOT_FOUND"
	// ErrTableReferenced is returned when removing a table other tables point to
	ErrTableReferenced ErrorCode = "TABLE_REFERENCED"
	// ErrClosed is returned when the database was closed
	ErrClosed ErrorCode = "CLOSED"

	// ErrCorruptDocument is returned when persisted data does not match its schema
	ErrCorruptDocument ErrorCode = "CORRUPT_DOCUMENT"
)

// Error is a violation with its class, code, location and optional details.
type Error struct {
	class      Class
	code       ErrorCode
	table      string
	column     string
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error.
func New(class Class, code ErrorCode, table, column, message string) *Error {
	return &Error{
		class:   class,
		code:    code,
		table:   table,
		column:  column,
		message: message,
	}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
//
// Formats as "<class> error on <table>.<column>: <message>[: <cause>]".
func (e *Error) Error() string {
	loc := e.table
	if e.column != "" {
		loc += "." + e.column
	}
	s := string(e.class) + " error"
	if loc != "" {
		s += " on " + loc
	}
	s += ": " + e.message
	if e.wrappedErr != nil {
		s += ": " + e.wrappedErr.Error()
	}
	return s
}

// Class returns the error class.
func (e *Error) Class() Class {
	return e.class
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Table returns the offending table name.
func (e *Error) Table() string {
	return e.table
}

// Column returns the offending column name, if any.
func (e *Error) Column() string {
	return e.column
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// HasCode reports whether err or any error it wraps is an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.code == code {
			return true
		}
		err = e.wrappedErr
	}
	return false
}

// ClassOf returns the class of the outermost *Error in err, or "".
func ClassOf(err error) Class {
	var e *Error
	if stderrors.As(err, &e) {
		return e.class
	}
	return ""
}

// Predefined error constructors for common cases

// Schema creates a schema error raised while defining table.
func Schema(code ErrorCode, table, column, format string, args ...any) *Error {
	return New(ClassSchema, code, table, column, fmt.Sprintf(format, args...))
}

// Constraint creates a constraint error raised by a mutation of table.
func Constraint(code ErrorCode, table, column, format string, args ...any) *Error {
	return New(ClassConstraint, code, table, column, fmt.Sprintf(format, args...))
}

// Propagation creates an integrity error for a change that could not be
// applied to child.column. cause is the error returned by the child table.
func Propagation(child, column string, cause error) *Error {
	return New(ClassIntegrity, ErrPropagation, child, column, "failed to propagate change").Wrap(cause)
}

// NotFound creates a catalog error for a table that is not live.
func NotFound(table string) *Error {
	return New(ClassCatalog, ErrTableNotFound, table, "", fmt.Sprintf("table %q does not exist", table))
}

// Closed creates a catalog error for a closed database.
func Closed() *Error {
	return New(ClassCatalog, ErrClosed, "", "", "database is closed")
}

// Corrupt creates a storage error for persisted data that does not decode.
func Corrupt(table, column, message string) *Error {
	return New(ClassStorage, ErrCorruptDocument, table, column, message)
}
