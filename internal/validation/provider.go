package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"cfgedit/internal/cfgedit"
)

// ErrRuleSetNotFound is returned when no rule set has the requested id.
var ErrRuleSetNotFound = errors.New("rule set not found")

// RuleSetProvider resolves rule set ids.
type RuleSetProvider interface {
	RuleSet(ctx context.Context, id string) (*RuleSet, error)
}

// MemoryProvider serves rule sets registered in code.
type MemoryProvider struct {
	mu   sync.RWMutex
	sets map[string]*RuleSet
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{sets: make(map[string]*RuleSet)}
}

// Add registers rs under its id.
func (p *MemoryProvider) Add(rs *RuleSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[rs.ID] = rs
}

func (p *MemoryProvider) RuleSet(ctx context.Context, id string) (*RuleSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rs, ok := p.sets[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrRuleSetNotFound)
	}
	return rs, nil
}

var schemaSuffixes = []string{".schema.json", ".schema.yaml", ".schema.yml"}

// DirProvider loads rule sets from <dir>/<id>.schema.json (or .yaml/.yml)
// and caches them. Watch drops cache entries when their files change.
type DirProvider struct {
	dir    string
	logger cfgedit.Logger

	mu      sync.Mutex
	cache   map[string]*RuleSet
	watcher *fsnotify.Watcher
}

// NewDirProvider creates a provider for dir.
func NewDirProvider(dir string, logger cfgedit.Logger) *DirProvider {
	if logger == nil {
		logger = cfgedit.NopLogger{}
	}
	return &DirProvider{dir: dir, logger: logger, cache: make(map[string]*RuleSet)}
}

func (p *DirProvider) RuleSet(ctx context.Context, id string) (*RuleSet, error) {
	if strings.ContainsAny(id, `/\`) || id == "" || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid rule set id %q", id)
	}

	p.mu.Lock()
	rs, ok := p.cache[id]
	p.mu.Unlock()
	if ok {
		return rs, nil
	}

	rs, err := p.load(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[id] = rs
	p.mu.Unlock()
	p.logger.Debug("rule set loaded", "rule_set", id)
	return rs, nil
}

func (p *DirProvider) load(id string) (*RuleSet, error) {
	for _, suffix := range schemaSuffixes {
		path := filepath.Join(p.dir, id+suffix)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read rule set %s: %w", id, err)
		}
		if suffix == ".schema.json" {
			return CompileRuleSet(id, data)
		}
		return CompileYAMLRuleSet(id, data)
	}
	return nil, fmt.Errorf("%s in %s: %w", id, p.dir, ErrRuleSetNotFound)
}

// List returns the ids of the rule sets in the directory.
func (p *DirProvider) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if id, ok := ruleSetID(e.Name()); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func ruleSetID(name string) (string, bool) {
	for _, suffix := range schemaSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

// Invalidate drops a cached rule set so the next lookup rereads it.
func (p *DirProvider) Invalidate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, id)
}

// Watch invalidates cached rule sets when their files are written,
// created, renamed or removed, until ctx is done or Close is called.
func (p *DirProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules dir: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	go p.watchLoop(ctx, watcher)
	return nil
}

func (p *DirProvider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			watcher.Close()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			id, ok := ruleSetID(filepath.Base(event.Name))
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			p.Invalidate(id)
			p.logger.Info("rule set changed", "rule_set", id, "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("rules watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (p *DirProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}
