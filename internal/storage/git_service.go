// Records every document write as a git commit using go-git (pure Go, no git binary dependency).

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Author identifies who commits document changes.
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when no author is configured.
var DefaultAuthor = Author{Name: "recdb", Email: "recdb@localhost"}

// Commit is one entry of the document history.
type Commit struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// GitStore is a FileStore whose directory is a git work tree. Every Write
// that changes the document is committed, with a message naming the
// sections that were created, updated or removed.
type GitStore struct {
	file   *FileStore
	repo   *gogit.Repository
	rel    string
	author Author
	mu     sync.Mutex
}

// NewGitStore opens the document at path and the git repository in its
// directory, initializing the repository when needed.
func NewGitStore(path string, author Author) (*GitStore, error) {
	if author.Name == "" {
		author.Name = DefaultAuthor.Name
	}
	if author.Email == "" {
		author.Email = DefaultAuthor.Email
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet, initialize it.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = author.Name
		cfg.User.Email = author.Email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	file, err := NewFileStore(abs)
	if err != nil {
		return nil, err
	}
	return &GitStore{file: file, repo: repo, rel: filepath.Base(abs), author: author}, nil
}

// Path returns the document file path.
func (g *GitStore) Path() string {
	return g.file.Path()
}

// Load implements Store.
func (g *GitStore) Load() (*Document, error) {
	return g.file.Load()
}

// Write implements Store.
func (g *GitStore) Write(doc *Document) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, err := g.file.Load()
	if err != nil {
		return err
	}
	if err := g.file.Write(doc); err != nil {
		return err
	}
	if err := g.commit(commitMessage(diff(prev, doc))); err != nil {
		// The file must keep matching what callers consider persisted.
		if rerr := g.file.Write(prev); rerr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore %s: %w", g.rel, rerr))
		}
		return err
	}
	return nil
}

func (g *GitStore) commit(msg string) error {
	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(g.rel); err != nil {
		return fmt.Errorf("failed to stage %s: %w", g.rel, err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if fs, ok := status[g.rel]; !ok || fs.Staging == gogit.Unmodified {
		return nil
	}
	now := time.Now()
	sig := &object.Signature{Name: g.author.Name, Email: g.author.Email, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// History returns up to n commits that touched the document, newest first.
func (g *GitStore) History(n int) ([]Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	iter, err := g.repo.Log(&gogit.LogOptions{FileName: &g.rel})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// No commit yet.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	for range n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

func commitMessage(c changes) string {
	if c.empty() {
		return "recdb: save"
	}
	var parts []string
	if len(c.created) > 0 {
		parts = append(parts, "create "+strings.Join(c.created, ", "))
	}
	if len(c.updated) > 0 {
		parts = append(parts, "update "+strings.Join(c.updated, ", "))
	}
	if len(c.removed) > 0 {
		parts = append(parts, "remove "+strings.Join(c.removed, ", "))
	}
	return "recdb: " + strings.Join(parts, "; ")
}
