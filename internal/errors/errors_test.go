package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		tests := []struct {
			name string
			err  *Error
			want string
		}{
			{
				"table and column",
				Constraint(ErrNullConstraint, "users", "name", "column %s cannot be null", "name"),
				"constraint error on users.name: column name cannot be null",
			},
			{
				"table only",
				NotFound("users"),
				`catalog error on users: table "users" does not exist`,
			},
			{
				"no location",
				Closed(),
				"catalog error: database is closed",
			},
			{
				"wrapped",
				Propagation("orders", "user_id", stderrors.New("boom")),
				"integrity error on orders.user_id: failed to propagate change: boom",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.err.Error(); got != tt.want {
					t.Errorf("Error() = %q, want %q", got, tt.want)
				}
			})
		}
	})

	t.Run("accessors", func(t *testing.T) {
		e := Schema(ErrParentNotPrimaryKey, "child", "parent_id", "not a key").WithDetail("target", "parent.name")
		if e.Class() != ClassSchema {
			t.Errorf("Class() = %q", e.Class())
		}
		if e.Code() != ErrParentNotPrimaryKey {
			t.Errorf("Code() = %q", e.Code())
		}
		if e.Table() != "child" || e.Column() != "parent_id" {
			t.Errorf("location = %s.%s", e.Table(), e.Column())
		}
		if e.Details()["target"] != "parent.name" {
			t.Errorf("Details() = %v", e.Details())
		}
	})
}

func TestHasCode(t *testing.T) {
	inner := Constraint(ErrNullConstraint, "orders", "user_id", "cannot be null")
	outer := Propagation("orders", "user_id", inner)
	wrapped := fmt.Errorf("delete users: %w", outer)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct", inner, ErrNullConstraint, true},
		{"outer code", outer, ErrPropagation, true},
		{"cause code", outer, ErrNullConstraint, true},
		{"through fmt wrap", wrapped, ErrNullConstraint, true},
		{"other code", wrapped, ErrTypeMismatch, false},
		{"plain error", stderrors.New("x"), ErrNullConstraint, false},
		{"nil", nil, ErrNullConstraint, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCode(tt.err, tt.code); got != tt.want {
				t.Errorf("HasCode() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := ClassOf(wrapped); got != ClassIntegrity {
		t.Errorf("ClassOf() = %q, want %q", got, ClassIntegrity)
	}
	if got := ClassOf(stderrors.New("x")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
}
