package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/storage"
)

func newCLI(t *testing.T, store storage.Store) (*cli, *bytes.Buffer) {
	t.Helper()
	db, err := jsonldb.Open(store)
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	return &cli{db: db, store: store, out: out, interval: defaultWatchInterval}, out
}

const usersSchema = `{"id": {"type": "integer", "primary_key": true, "auto_increment": true}, "name": {"type": "text"}, "score": {"type": "real", "nullable": true}}`

func TestCLI(t *testing.T) {
	c, out := newCLI(t, storage.NewMemStore())
	steps := []struct {
		args []string
		want string
	}{
		{[]string{"create", "users", usersSchema}, "created users (3 columns)\n"},
		{[]string{"insert", "users", `["alice", 1.5]`}, "[0,\"alice\",1.5]\n"},
		{[]string{"insert", "users", `["bob", null]`}, "[1,\"bob\",null]\n"},
		{[]string{"update", "users", `{"name": "robert", "score": 2.5}`, "id", "1"}, "updated 1 rows\n"},
		{[]string{"select", "users"}, "[0,\"alice\",1.5]\n[1,\"robert\",2.5]\n"},
		{[]string{"select", "users", `{"name": "robert"}`, "id"}, "[1]\n"},
		{[]string{"join", "users", "users", `{"id": 0}`}, "[\"id\",\"name\",\"score\"]\n[0,\"alice\",1.5]\n"},
		{[]string{"delete", "users", "id", "0"}, "deleted 1 rows\n"},
		{[]string{"tables"}, "users\n"},
		{[]string{"drop", "users"}, ""},
		{[]string{"tables"}, ""},
	}
	for _, s := range steps {
		out.Reset()
		if err := c.run(t.Context(), s.args); err != nil {
			t.Fatalf("%v failed: %v", s.args, err)
		}
		if diff := cmp.Diff(s.want, out.String()); diff != "" {
			t.Errorf("%v output mismatch (-want +got):\n%s", s.args, diff)
		}
	}
}

func TestCLI_Schema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.yaml")
	writeFile(t, path, "id:\n  type: integer\n  primary_key: true\nname:\n  type: text\n")
	c, out := newCLI(t, storage.NewMemStore())
	if err := c.run(t.Context(), []string{"create", "users", path}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := c.run(t.Context(), []string{"schema", "users"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"primary_key": true`) || strings.Index(out.String(), `"id"`) > strings.Index(out.String(), `"name"`) {
		t.Errorf("schema output:\n%s", out.String())
	}
}

func TestCLI_Errors(t *testing.T) {
	c, _ := newCLI(t, storage.NewMemStore())
	if err := c.run(t.Context(), []string{"create", "users", usersSchema}); err != nil {
		t.Fatal(err)
	}
	tests := [][]string{
		{},
		{"bogus"},
		{"insert", "users"},
		{"insert", "users", `["alice"`},
		{"insert", "users", `["alice"] []`},
		{"insert", "users", `[1, "alice", null, 4]`},
		{"select", "nope"},
		{"delete", "users", "name", `"alice"`},
		{"history"},
		{"watch"},
		{"serve", "extra"},
	}
	for _, args := range tests {
		if err := c.run(t.Context(), args); err == nil {
			t.Errorf("%v succeeded", args)
		}
	}
}

func TestCLI_History(t *testing.T) {
	store, err := storage.NewGitStore(filepath.Join(t.TempDir(), "data.json"), storage.DefaultAuthor)
	if err != nil {
		t.Fatal(err)
	}
	c, out := newCLI(t, store)
	for _, args := range [][]string{
		{"create", "users", usersSchema},
		{"insert", "users", `["alice", null]`},
	} {
		if err := c.run(t.Context(), args); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
	}
	out.Reset()
	if err := c.run(t.Context(), []string{"history", "1"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "recdb: update users") {
		t.Errorf("history output:\n%s", out.String())
	}
}

func TestCLI_Serve(t *testing.T) {
	c, _ := newCLI(t, storage.NewMemStore())
	c.addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := c.run(ctx, []string{"serve"}); err != nil {
		t.Fatal(err)
	}
	c.addr = "invalid address"
	if err := c.run(t.Context(), []string{"serve"}); err == nil {
		t.Error("expected listen error")
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"tables", []string{"tables"}},
		{"  select   users ", []string{"select", "users"}},
		{`insert users '["a b", 1]'`, []string{"insert", "users", `["a b", 1]`}},
		{`select users '{}' ''`, []string{"select", "users", "{}", ""}},
	}
	for _, tt := range tests {
		got, err := splitArgs(tt.in)
		if err != nil {
			t.Errorf("splitArgs(%q) failed: %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("splitArgs(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
	for _, in := range []string{"", "   ", "select 'users"} {
		if _, err := splitArgs(in); err == nil {
			t.Errorf("splitArgs(%q) succeeded", in)
		}
	}
}

func TestComplete(t *testing.T) {
	c, _ := newCLI(t, storage.NewMemStore())
	if err := c.run(t.Context(), []string{"create", "users", usersSchema}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"schema", "select"}, c.complete("s")); diff != "" {
		t.Errorf("complete(s) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"select users"}, c.complete("select u")); diff != "" {
		t.Errorf("complete(select u) mismatch (-want +got):\n%s", diff)
	}
}
