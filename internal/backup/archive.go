// Package backup keeps versioned snapshots of the whole datastore in a local
// git archive and mirrors them to object storage.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

const snapshotFile = "snapshot.json"

// Snapshot is the full datastore state written into each backup commit.
type Snapshot struct {
	Records  []store.Record       `json:"records"`
	Services []store.ServiceEntry `json:"services"`
	Catalogs []store.DocCatalog   `json:"catalogs"`
}

// Info describes one backup commit.
type Info struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Archive is a single git repository holding the snapshot history.
type Archive struct {
	path string
	mu   sync.Mutex
}

// NewArchive opens or initializes the backup repository at path.
func NewArchive(path string) (*Archive, error) {
	a := &Archive{path: path}
	if err := a.ensureRepo(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureRepo() error {
	if _, err := os.Stat(filepath.Join(a.path, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat backup repo: %w", err)
	}

	if err := os.MkdirAll(a.path, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	repo, err := git.PlainInit(a.path, false)
	if err != nil {
		return fmt.Errorf("init backup repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// Commit writes the snapshot and records it as a new backup. It returns the
// commit info of the created backup.
func (a *Archive) Commit(snap Snapshot, author, message string) (Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	repo, err := git.PlainOpen(a.path)
	if err != nil {
		return Info{}, fmt.Errorf("open backup repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Info{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Info{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Info{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@dvc.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Info{}, fmt.Errorf("read commit object: %w", err)
	}
	return toInfo(commitObj), nil
}

// History lists backups, newest first.
func (a *Archive) History(limit int) ([]Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	repo, err := git.PlainOpen(a.path)
	if err != nil {
		return nil, fmt.Errorf("open backup repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Info, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt loads the snapshot stored in a given backup commit.
func (a *Archive) SnapshotAt(hash string) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	repo, err := git.PlainOpen(a.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open backup repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toInfo(commitObj *object.Commit) Info {
	return Info{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "clerk"
	}
	return string(out)
}
