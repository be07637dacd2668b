package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/peterh/liner"
)

var commandNames = []string{
	"tables", "schema", "create", "drop", "insert", "update", "delete",
	"select", "join", "reset", "history", "help", "exit",
}

// historyFile returns the path of the shell history, or "" if unknown.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".recdb_history")
}

// shell reads commands until EOF, Ctrl-C or exit. Command errors are
// printed and do not stop the loop.
func (c *cli) shell(ctx context.Context) error {
	l := liner.NewLiner()
	defer func() { _ = l.Close() }()
	l.SetCtrlCAborts(true)
	l.SetCompleter(c.complete)
	if path := historyFile(); path != "" {
		if f, err := os.Open(path); err == nil { //nolint:gosec // G304: fixed file in the home directory
			_, _ = l.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(path); err == nil { //nolint:gosec // G304: fixed file in the home directory
				_, _ = l.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	for ctx.Err() == nil {
		line, err := l.Prompt("recdb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		l.AppendHistory(line)
		args, err := splitArgs(line)
		if err != nil {
			_, _ = fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		case "shell", "watch", "serve":
			_, _ = fmt.Fprintf(c.out, "error: %s is not available in the shell\n", args[0])
			continue
		}
		if err := c.run(ctx, args); err != nil {
			slog.DebugContext(ctx, "Command failed", "cmd", args[0], "err", err)
			_, _ = fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return ctx.Err()
}

// complete suggests command names, then table names.
func (c *cli) complete(line string) []string {
	fields := strings.Fields(line)
	var candidates []string
	prefix := ""
	switch {
	case len(fields) == 0:
		candidates = commandNames
	case len(fields) == 1 && !strings.HasSuffix(line, " "):
		candidates = commandNames
		prefix = fields[0]
		line = ""
	default:
		candidates = c.db.ListTables()
		if !strings.HasSuffix(line, " ") {
			prefix = fields[len(fields)-1]
			line = strings.TrimSuffix(line, prefix)
		}
	}
	var out []string
	for _, cand := range candidates {
		if strings.HasPrefix(cand, prefix) {
			out = append(out, line+cand)
		}
	}
	return out
}

// splitArgs splits a shell line on spaces. Single quotes group text
// verbatim, so JSON values can be written as '{"name": "a b"}'.
func splitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inArg, quoted := false, false
	for _, r := range line {
		switch {
		case r == '\'':
			quoted = !quoted
			inArg = true
		case unicode.IsSpace(r) && !quoted:
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inArg {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}
