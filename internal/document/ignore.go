package document

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// IgnoreFile lists patterns of files under a document root that are not
// documents, one per line.
const IgnoreFile = ".cfgeditignore"

// defaultIgnorePatterns always apply.
var defaultIgnorePatterns = []string{IgnoreFile, "README*", "*.md"}

type ignorePattern struct {
	pattern   string
	matchPath bool // match against the full id instead of the base name
}

// IgnoreMatcher decides which ids List leaves out. Patterns without '/'
// match the base name; patterns with '/' match the whole slash-separated id.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw patterns. Blank lines and '#' comments are
// skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   strings.TrimPrefix(raw, "/"),
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the document id should be left out.
func (m *IgnoreMatcher) Match(id string) bool {
	base := path.Base(id)
	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = id
		}
		if ok, err := path.Match(p.pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

// Filter returns ids without the ignored ones, keeping order.
func (m *IgnoreMatcher) Filter(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if !m.Match(id) {
			out = append(out, id)
		}
	}
	return out
}

// ParseIgnore reads patterns from r.
func ParseIgnore(r io.Reader) ([]string, error) {
	var patterns []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

// loadIgnoreFile builds the matcher for a root directory. A missing ignore
// file leaves only the defaults.
func loadIgnoreFile(filename string) (*IgnoreMatcher, error) {
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return NewIgnoreMatcher(defaultIgnorePatterns), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	patterns, err := ParseIgnore(f)
	if err != nil {
		return nil, err
	}
	return NewIgnoreMatcher(append(patterns, defaultIgnorePatterns...)), nil
}
