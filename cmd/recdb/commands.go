package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/storage"
)

const commandHelp = `  tables                                list tables
  schema <table>                        print the columns of a table
  create <table> <file|json>            create a table from a YAML or JSON column mapping
  drop <table>                          remove a table
  insert <table> <json array>           insert a row
  update <table> <json object> <column> <json value>
                                        set columns on the rows where column equals value
  delete <table> <column> <json value>  delete the rows where column equals value
  select <table> [json filter] [column...]
                                        print matching rows
  join <left> <right> [json filter]     print the rows of both tables matching filter
  reset                                 drop every table
  history [n]                           print the last commits (-git only)
  shell                                 interactive prompt
  watch                                 log the tables each time the file changes
  serve                                 serve the JSON HTTP API on -http
`

var errUsage = errors.New("invalid arguments")

// cli runs commands against an open database.
type cli struct {
	db       *jsonldb.Database
	store    storage.Store
	out      io.Writer
	interval time.Duration
	// addr and rateLimit configure serve.
	addr      string
	rateLimit float64
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "tables":
		return c.tables(args)
	case "schema":
		return c.schema(args)
	case "create":
		return c.create(args)
	case "drop":
		return c.drop(args)
	case "insert":
		return c.insert(args)
	case "update":
		return c.update(args)
	case "delete":
		return c.delete(args)
	case "select":
		return c.selectRows(args)
	case "join":
		return c.join(args)
	case "reset":
		return c.reset(args)
	case "history":
		return c.history(args)
	case "shell":
		return c.shell(ctx)
	case "watch":
		return c.watch(ctx)
	case "serve":
		if err := wantArgs(args, 0, 0, "serve"); err != nil {
			return err
		}
		return c.serve(ctx)
	case "help":
		_, err := io.WriteString(c.out, commandHelp)
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func wantArgs(args []string, lo, hi int, usage string) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		return fmt.Errorf("%w: usage: %s", errUsage, usage)
	}
	return nil
}

func (c *cli) tables(args []string) error {
	if err := wantArgs(args, 0, 0, "tables"); err != nil {
		return err
	}
	for _, name := range c.db.ListTables() {
		if _, err := fmt.Fprintln(c.out, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) schema(args []string) error {
	if err := wantArgs(args, 1, 1, "schema <table>"); err != nil {
		return err
	}
	t, err := c.db.GetTable(args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(t.Columns(), "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}

func (c *cli) create(args []string) error {
	if err := wantArgs(args, 2, 2, "create <table> <file|json>"); err != nil {
		return err
	}
	src := []byte(args[1])
	if s := strings.TrimSpace(args[1]); !strings.HasPrefix(s, "{") {
		data, err := os.ReadFile(args[1]) //nolint:gosec // G304: the schema path is the user's argument
		if err != nil {
			return fmt.Errorf("failed to read schema: %w", err)
		}
		src = data
	}
	cols, err := jsonldb.ParseColumns(src)
	if err != nil {
		return err
	}
	t, err := c.db.AddTable(args[0], cols)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "created %s (%d columns)\n", t.Name(), t.Columns().Len())
	return err
}

func (c *cli) drop(args []string) error {
	if err := wantArgs(args, 1, 1, "drop <table>"); err != nil {
		return err
	}
	return c.db.RemoveTable(args[0])
}

func (c *cli) insert(args []string) error {
	if err := wantArgs(args, 2, 2, "insert <table> <json array>"); err != nil {
		return err
	}
	var values []any
	if err := decodeJSON(args[1], &values); err != nil {
		return err
	}
	row, err := c.db.Insert(args[0], values)
	if err != nil {
		return err
	}
	return c.printRow(row)
}

func (c *cli) update(args []string) error {
	if err := wantArgs(args, 4, 4, "update <table> <json object> <column> <json value>"); err != nil {
		return err
	}
	var set map[string]any
	if err := decodeJSON(args[1], &set); err != nil {
		return err
	}
	var cond any
	if err := decodeJSON(args[3], &cond); err != nil {
		return err
	}
	names := slices.Sorted(maps.Keys(set))
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = set[name]
	}
	n, _, err := c.db.Update(args[0], names, values, args[2], cond)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "updated %d rows\n", n)
	return err
}

func (c *cli) delete(args []string) error {
	if err := wantArgs(args, 3, 3, "delete <table> <column> <json value>"); err != nil {
		return err
	}
	var v any
	if err := decodeJSON(args[2], &v); err != nil {
		return err
	}
	n, err := c.db.Delete(args[0], args[1], v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "deleted %d rows\n", n)
	return err
}

func (c *cli) selectRows(args []string) error {
	if err := wantArgs(args, 1, -1, "select <table> [json filter] [column...]"); err != nil {
		return err
	}
	var filter jsonldb.Filter
	var columns []string
	if len(args) > 1 {
		if err := decodeJSON(args[1], &filter); err != nil {
			return err
		}
		columns = args[2:]
	}
	rows, err := c.db.Select(args[0], columns, filter)
	if err != nil {
		return err
	}
	return c.printRows(rows)
}

func (c *cli) join(args []string) error {
	if err := wantArgs(args, 2, 3, "join <left> <right> [json filter]"); err != nil {
		return err
	}
	var filter jsonldb.Filter
	if len(args) == 3 {
		if err := decodeJSON(args[2], &filter); err != nil {
			return err
		}
	}
	t, err := c.db.Join(args[0], args[1], filter)
	if err != nil {
		return err
	}
	header, err := json.Marshal(t.Columns().Names())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.out, "%s\n", header); err != nil {
		return err
	}
	return c.printRows(t.Rows())
}

func (c *cli) reset(args []string) error {
	if err := wantArgs(args, 0, 0, "reset"); err != nil {
		return err
	}
	return c.db.Reset()
}

func (c *cli) history(args []string) error {
	if err := wantArgs(args, 0, 1, "history [n]"); err != nil {
		return err
	}
	g, ok := c.store.(*storage.GitStore)
	if !ok {
		return errors.New("history requires -git")
	}
	n := 10
	if len(args) == 1 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
			return fmt.Errorf("%w: history count must be a positive integer, got %q", errUsage, args[0])
		}
	}
	commits, err := g.History(n)
	if err != nil {
		return err
	}
	for _, cm := range commits {
		if _, err := fmt.Fprintf(c.out, "%.8s %s %s\n", cm.Hash, cm.When.Format("2006-01-02 15:04:05"), cm.Message); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) printRow(row jsonldb.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}

func (c *cli) printRows(rows []jsonldb.Row) error {
	for _, row := range rows {
		if err := c.printRow(row); err != nil {
			return err
		}
	}
	return nil
}

// decodeJSON decodes a command argument, keeping numbers as json.Number so
// that integers and reals are told apart by the column type.
func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON argument %q: %w", s, err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON argument %q: trailing data", s)
	}
	return nil
}
