package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/server/handlers"
	"github.com/maruel/recdb/internal/storage"
)

func newServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	db, err := jsonldb.Open(storage.NewMemStore())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(db, opts))
	t.Cleanup(srv.Close)
	return srv
}

// call sends a request and decodes the JSON response.
func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	s, _ := e["code"].(string)
	return s
}

const (
	usersTable = `{"name": "users", "columns": {
		"id": {"type": "integer", "primary_key": true, "auto_increment": true},
		"name": {"type": "text"}}}`
	postsTable = `{"name": "posts", "columns": {
		"id": {"type": "integer", "primary_key": true, "auto_increment": true},
		"author": {"type": "integer", "nullable": true, "foreign_key": {"target_table": "users", "target_column": "id", "on_update": "cascade", "on_delete": "cascade"}},
		"title": {"type": "text"}}}`
)

func TestRouter(t *testing.T) {
	srv := newServer(t, Options{})
	steps := []struct {
		method, path, body string
		want               map[string]any
	}{
		{"GET", "/api/health", "", map[string]any{"status": "ok", "tables": 0.0}},
		{"GET", "/api/tables", "", map[string]any{"tables": []any{}}},
		{"POST", "/api/tables", usersTable, nil},
		{"POST", "/api/tables", postsTable, nil},
		{"GET", "/api/tables", "", map[string]any{"tables": []any{"users", "posts"}}},
		{"POST", "/api/tables/users/rows", `{"values": ["alice"]}`, map[string]any{"row": []any{0.0, "alice"}}},
		{"POST", "/api/tables/users/rows", `{"values": ["bob"]}`, map[string]any{"row": []any{1.0, "bob"}}},
		{"POST", "/api/tables/posts/rows", `{"values": [0, "hello"]}`, map[string]any{"row": []any{0.0, 0.0, "hello"}}},
		{"POST", "/api/tables/posts/rows", `{"values": [1, "world"]}`, map[string]any{"row": []any{1.0, 1.0, "world"}}},
		{
			"GET", "/api/tables/users/rows?filter=" + url.QueryEscape(`{"name": "bob"}`) + "&columns=id", "",
			map[string]any{"rows": []any{[]any{1.0}}},
		},
		{
			"PATCH", "/api/tables/users/rows", `{"set": {"id": 5}, "column": "id", "value": 0}`,
			map[string]any{"updated": 1.0, "previous": []any{[]any{0.0, "alice"}}},
		},
		{
			"GET", "/api/tables/posts/rows", "",
			map[string]any{"rows": []any{[]any{0.0, 5.0, "hello"}, []any{1.0, 1.0, "world"}}},
		},
		{
			"POST", "/api/join", `{"left": "users", "right": "posts", "filter": {"title": "world"}}`,
			map[string]any{
				"columns": []any{"id", "name", "author", "title"},
				"rows":    []any{[]any{5.0, "alice", 1.0, "world"}, []any{1.0, "bob", 1.0, "world"}},
			},
		},
		{"DELETE", "/api/tables/users/rows", `{"column": "id", "value": 5}`, map[string]any{"deleted": 1.0}},
		{"GET", "/api/tables/posts/rows", "", map[string]any{"rows": []any{[]any{1.0, 1.0, "world"}}}},
		{"DELETE", "/api/tables/posts", "", map[string]any{}},
	}
	for i, s := range steps {
		status, got := call(t, srv, s.method, s.path, s.body)
		if status != http.StatusOK {
			t.Fatalf("#%d %s %s: status %d: %v", i, s.method, s.path, status, got)
		}
		if s.want == nil {
			continue
		}
		if diff := cmp.Diff(s.want, got); diff != "" {
			t.Errorf("#%d %s %s mismatch (-want +got):\n%s", i, s.method, s.path, diff)
		}
	}

	status, got := call(t, srv, "GET", "/api/tables/users", "")
	if status != http.StatusOK || got["name"] != "users" || got["rows"] != 1.0 {
		t.Errorf("GET /api/tables/users = %d %v", status, got)
	}
}

func TestRouter_Errors(t *testing.T) {
	srv := newServer(t, Options{})
	for _, body := range []string{usersTable, postsTable} {
		if status, out := call(t, srv, "POST", "/api/tables", body); status != http.StatusOK {
			t.Fatalf("create failed: %d %v", status, out)
		}
	}
	tests := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"unknown table", "GET", "/api/tables/nope", "", http.StatusNotFound, string(errors.ErrTableNotFound)},
		{"table exists", "POST", "/api/tables", usersTable, http.StatusConflict, string(errors.ErrTableExists)},
		{"missing columns", "POST", "/api/tables", `{"name": "x"}`, http.StatusBadRequest, string(codeBadRequest)},
		{"invalid type", "POST", "/api/tables", `{"name": "x", "columns": {"a": {"type": "blob"}}}`, http.StatusBadRequest, string(errors.ErrInvalidType)},
		{"table referenced", "DELETE", "/api/tables/users", "", http.StatusConflict, string(errors.ErrTableReferenced)},
		{"malformed body", "POST", "/api/tables/users/rows", `{"values": [`, http.StatusBadRequest, string(codeBadRequest)},
		{"unknown field", "POST", "/api/tables/users/rows", `{"values": ["a"], "extra": 1}`, http.StatusBadRequest, string(codeBadRequest)},
		{"type mismatch", "POST", "/api/tables/users/rows", `{"values": [1]}`, http.StatusBadRequest, string(errors.ErrTypeMismatch)},
		{"foreign key", "POST", "/api/tables/posts/rows", `{"values": [7, "x"]}`, http.StatusConflict, string(errors.ErrForeignKeyViolation)},
		{"bad filter", "GET", "/api/tables/users/rows?filter=nope", "", http.StatusBadRequest, string(codeBadRequest)},
		{"empty set", "PATCH", "/api/tables/users/rows", `{"column": "id", "value": 0}`, http.StatusBadRequest, string(codeBadRequest)},
		{"not keyed", "PATCH", "/api/tables/users/rows", `{"set": {"name": "x"}, "column": "name", "value": "a"}`, http.StatusBadRequest, string(errors.ErrConditionNotPrimaryKey)},
		{"unknown column", "DELETE", "/api/tables/users/rows", `{"column": "nope", "value": 0}`, http.StatusBadRequest, string(errors.ErrUnknownColumn)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := call(t, srv, tt.method, tt.path, tt.body)
			if status != tt.status {
				t.Errorf("status = %d, want %d: %v", status, tt.status, out)
			}
			if got := errorCode(out); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	srv := newServer(t, Options{RateLimit: 0.001, Burst: 1})
	if status, _ := call(t, srv, "GET", "/api/health", ""); status != http.StatusOK {
		t.Fatalf("first request: status %d", status)
	}
	status, out := call(t, srv, "GET", "/api/health", "")
	if status != http.StatusTooManyRequests || errorCode(out) != "RATE_LIMITED" {
		t.Errorf("second request = %d %v", status, out)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NotFound("t"), http.StatusNotFound},
		{errors.Closed(), http.StatusServiceUnavailable},
		{errors.Constraint(errors.ErrDuplicatePrimaryKey, "t", "id", "dup"), http.StatusConflict},
		{errors.Propagation("c", "p", errors.Constraint(errors.ErrNullConstraint, "c", "p", "null")), http.StatusConflict},
		{errors.Constraint(errors.ErrNullConstraint, "t", "a", "null"), http.StatusBadRequest},
		{errors.Schema(errors.ErrNoColumns, "t", "", "none"), http.StatusBadRequest},
		{errors.Corrupt("t", "", "bad"), http.StatusInternalServerError},
		{&handlers.InvalidRequestError{Err: io.EOF}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", errors.NotFound("t")), http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for i, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("#%d statusFor(%v) = %d, want %d", i, tt.err, got, tt.want)
		}
	}
}
