package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cfgedit/internal/cfgedit"
)

// FilesystemService stores documents as files under a root directory. The
// version stamp is the SHA-256 of the file content. Writes go through a
// temp file and rename so readers never see a partial document.
type FilesystemService struct {
	root string
	mu   sync.Mutex
}

// NewFilesystemService creates a FilesystemService rooted at root, creating
// the directory if needed.
func NewFilesystemService(root string) (*FilesystemService, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document root: %w", err)
	}
	return &FilesystemService{root: root}, nil
}

// ContentStamp returns the version stamp FilesystemService assigns to content.
func ContentStamp(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// resolve maps a document id to a path inside root.
func (f *FilesystemService) resolve(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if id == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *FilesystemService) read(path, id string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("loading %s: %w", id, cfgedit.ErrDocumentNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return string(data), nil
}

func (f *FilesystemService) Load(ctx context.Context, id string) (*cfgedit.Document, error) {
	path, err := f.resolve(id)
	if err != nil {
		return nil, err
	}
	content, err := f.read(path, id)
	if err != nil {
		return nil, err
	}
	return &cfgedit.Document{ID: id, Content: content, VersionStamp: ContentStamp(content)}, nil
}

func (f *FilesystemService) Save(ctx context.Context, req cfgedit.SaveRequest) (string, error) {
	path, err := f.resolve(req.DocumentID)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read(path, req.DocumentID)
	switch {
	case errors.Is(err, cfgedit.ErrDocumentNotFound):
		if req.BasedOn != "" {
			return "", err
		}
	case err != nil:
		return "", err
	case req.BasedOn != ContentStamp(current):
		return "", fmt.Errorf("saving %s: %w", req.DocumentID, cfgedit.ErrVersionConflict)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create document directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cfgedit-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(req.Content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to replace document: %w", err)
	}
	return ContentStamp(req.Content), nil
}

// List returns the ids of all documents under root, skipping dot files
// and anything matched by the root's ignore file.
func (f *FilesystemService) List(ctx context.Context) ([]string, error) {
	ignore, err := loadIgnoreFile(filepath.Join(f.root, IgnoreFile))
	if err != nil {
		return nil, err
	}

	var ids []string
	err = filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != f.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		if id := filepath.ToSlash(rel); !ignore.Match(id) {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ cfgedit.DocumentService = (*FilesystemService)(nil)
