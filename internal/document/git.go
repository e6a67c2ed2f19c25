package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"cfgedit/internal/cfgedit"
)

// GitService stores documents as files in a git repository. Every publish
// is one commit authored by the editor. The version stamp is the file's
// blob hash at HEAD, so commits to other files never conflict.
type GitService struct {
	dir   string
	clock cfgedit.Clock

	mu   sync.Mutex
	repo *git.Repository
}

// NewGitService opens the repository at dir, initializing it if needed.
func NewGitService(dir string, clk cfgedit.Clock) (*GitService, error) {
	if clk == nil {
		clk = cfgedit.RealClock{}
	}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("init repo: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return nil, fmt.Errorf("set HEAD to main: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return &GitService{dir: dir, clock: clk, repo: repo}, nil
}

func gitPath(id string) (string, error) {
	p := path.Clean(filepath.ToSlash(id))
	if id == "" || p == "." || strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") || p == ".git" || strings.HasPrefix(p, ".git/") {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return p, nil
}

// headFile returns the file at HEAD, or nil if the repository is empty or
// the file does not exist.
func (g *GitService) headFile(p string) (*object.File, error) {
	ref, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := g.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	file, err := commit.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s at HEAD: %w", p, err)
	}
	return file, nil
}

func (g *GitService) Load(ctx context.Context, id string) (*cfgedit.Document, error) {
	p, err := gitPath(id)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	file, err := g.headFile(p)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("loading %s: %w", id, cfgedit.ErrDocumentNotFound)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", file.Hash, err)
	}
	return &cfgedit.Document{ID: id, Content: content, VersionStamp: file.Hash.String()}, nil
}

func (g *GitService) Save(ctx context.Context, req cfgedit.SaveRequest) (string, error) {
	p, err := gitPath(req.DocumentID)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	file, err := g.headFile(p)
	if err != nil {
		return "", err
	}
	switch {
	case file == nil && req.BasedOn != "":
		return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrDocumentNotFound)
	case file != nil && file.Hash.String() != req.BasedOn:
		return "", fmt.Errorf("saving %s based on %s, HEAD has %s: %w", req.DocumentID, req.BasedOn, file.Hash, cfgedit.ErrVersionConflict)
	}

	worktree, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	full := filepath.Join(g.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(req.Content), 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	if _, err := worktree.Add(p); err != nil {
		return "", fmt.Errorf("git add %s: %w", p, err)
	}

	editor := req.Editor
	if editor == "" {
		editor = "cfgedit"
	}
	_, err = worktree.Commit(fmt.Sprintf("Update %s", p), &git.CommitOptions{
		Author: &object.Signature{
			Name:  editor,
			Email: fmt.Sprintf("%s@cfgedit.local", sanitizeEmail(editor)),
			When:  g.clock.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", p, err)
	}
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(req.Content)).String(), nil
}

// Revision is one commit that touched a document.
type Revision struct {
	Hash    string
	Author  string
	Message string
	When    time.Time
}

// History returns up to limit commits that touched id, newest first.
func (g *GitService) History(ctx context.Context, id string, limit int) ([]Revision, error) {
	p, err := gitPath(id)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	iter, err := g.repo.Log(&git.LogOptions{FileName: &p})
	if err != nil {
		return nil, fmt.Errorf("git log %s: %w", p, err)
	}
	defer iter.Close()

	var revs []Revision
	for len(revs) < limit || limit <= 0 {
		c, err := iter.Next()
		if err != nil {
			break
		}
		revs = append(revs, Revision{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Message: strings.TrimSpace(c.Message),
			When:    c.Author.When,
		})
	}
	return revs, nil
}

// List returns the ids of all files at HEAD, minus those matched by the
// ignore file in the work tree.
func (g *GitService) List(ctx context.Context) ([]string, error) {
	ignore, err := loadIgnoreFile(filepath.Join(g.dir, IgnoreFile))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ref, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := g.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	files, err := commit.Files()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	var ids []string
	err = files.ForEach(func(f *object.File) error {
		ids = append(ids, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.Strings(ids)
	return ignore.Filter(ids), nil
}

func sanitizeEmail(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "editor"
	}
	return b.String()
}

var _ cfgedit.DocumentService = (*GitService)(nil)
