package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"cfgedit/internal/cfgedit"
)

// Format is a configuration document syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from a document id's extension. Unknown
// extensions are treated as YAML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// ParseFormat converts a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatTOML:
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown format: %s", name)
}

// Parsed is a decoded document. Value uses JSON types (map[string]any,
// []any, json.Number, string, bool, nil) so it can be checked against a
// JSON Schema.
type Parsed struct {
	Value any
	lines map[string]int
	text  string
}

// Line returns the 1-based line of the value at the JSON pointer path, or
// of its nearest ancestor that has one. Returns 0 if nothing matches.
func (p *Parsed) Line(path string) int {
	for {
		if line, ok := p.lines[path]; ok {
			return line
		}
		if path == "" || path == "/" {
			break
		}
		i := strings.LastIndex(path, "/")
		if i < 0 {
			break
		}
		path = path[:i]
	}
	if strings.TrimSpace(p.text) != "" {
		return 1
	}
	return 0
}

// Parse decodes text. A document that does not parse is returned as a
// single path-less error issue anchored to the offending line.
func Parse(text string, format Format) (*Parsed, []cfgedit.ValidationIssue) {
	switch format {
	case FormatJSON:
		return parseJSON(text)
	case FormatTOML:
		return parseTOML(text)
	default:
		return parseYAML(text)
	}
}

var yamlLineRE = regexp.MustCompile(`line (\d+)`)

func syntaxIssue(message string, line int) []cfgedit.ValidationIssue {
	return []cfgedit.ValidationIssue{{
		Severity: cfgedit.SeverityError,
		Message:  message,
		Line:     line,
	}}
}

func parseYAML(text string) (*Parsed, []cfgedit.ValidationIssue) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		line := 0
		if m := yamlLineRE.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return nil, syntaxIssue(strings.TrimPrefix(err.Error(), "yaml: "), line)
	}

	var raw any
	if err := root.Decode(&raw); err != nil {
		return nil, syntaxIssue(err.Error(), root.Line)
	}
	value, err := normalize(raw)
	if err != nil {
		return nil, syntaxIssue(err.Error(), 0)
	}

	lines := make(map[string]int)
	indexNode(&root, "", lines)
	return &Parsed{Value: value, lines: lines, text: text}, nil
}

func parseJSON(text string) (*Parsed, []cfgedit.ValidationIssue) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value any
	err := dec.Decode(&value)
	if err == nil {
		if _, trailing := dec.Token(); trailing != io.EOF {
			return nil, syntaxIssue("unexpected data after top-level value", lineAt(text, int(dec.InputOffset())))
		}
	}
	if err != nil {
		var syntaxErr *json.SyntaxError
		switch {
		case errors.As(err, &syntaxErr):
			return nil, syntaxIssue(syntaxErr.Error(), lineAt(text, int(syntaxErr.Offset)))
		case errors.Is(err, io.EOF) && strings.TrimSpace(text) == "":
			return &Parsed{text: text}, nil
		default:
			return nil, syntaxIssue(err.Error(), strings.Count(text, "\n")+1)
		}
	}

	// JSON is valid YAML flow syntax, so the YAML node tree gives line anchors.
	lines := make(map[string]int)
	var root yaml.Node
	if yaml.Unmarshal([]byte(text), &root) == nil {
		indexNode(&root, "", lines)
	}
	return &Parsed{Value: value, lines: lines, text: text}, nil
}

func parseTOML(text string) (*Parsed, []cfgedit.ValidationIssue) {
	var raw map[string]any
	if _, err := toml.Decode(text, &raw); err != nil {
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return nil, syntaxIssue(parseErr.Message, parseErr.Position.Line)
		}
		return nil, syntaxIssue(err.Error(), 0)
	}
	value, err := normalize(raw)
	if err != nil {
		return nil, syntaxIssue(err.Error(), 0)
	}
	return &Parsed{Value: value, lines: tomlLines(text), text: text}, nil
}

// normalize converts decoded YAML or TOML into JSON types.
func normalize(v any) (any, error) {
	data, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("unsupported value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}

func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

// indexNode records the line of every mapping key and sequence item under
// path. For mapping entries the key's line is used, which is where an
// editor wants the cursor.
func indexNode(n *yaml.Node, path string, lines map[string]int) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			indexNode(c, path, lines)
		}
	case yaml.MappingNode:
		if _, ok := lines[path]; !ok {
			lines[path] = n.Line
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			child := path + "/" + escapePointer(key.Value)
			lines[child] = key.Line
			indexNode(val, child, lines)
		}
	case yaml.SequenceNode:
		if _, ok := lines[path]; !ok {
			lines[path] = n.Line
		}
		for i, item := range n.Content {
			child := path + "/" + strconv.Itoa(i)
			lines[child] = item.Line
			indexNode(item, child, lines)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			indexNode(n.Alias, path, lines)
		}
	}
}

var (
	tomlTableRE = regexp.MustCompile(`^\s*\[\[?\s*([^\]]+?)\s*\]\]?`)
	tomlKeyRE   = regexp.MustCompile(`^\s*("[^"]*"|'[^']*'|[A-Za-z0-9_.-]+)\s*=`)
)

// tomlLines approximates a path index for TOML: table headers and keys
// directly under them. Arrays of tables share the header's path.
func tomlLines(text string) map[string]int {
	lines := make(map[string]int)
	table := ""
	for i, line := range strings.Split(text, "\n") {
		if m := tomlTableRE.FindStringSubmatch(line); m != nil {
			table = tomlPath("", m[1])
			if _, ok := lines[table]; !ok {
				lines[table] = i + 1
			}
			continue
		}
		if m := tomlKeyRE.FindStringSubmatch(line); m != nil {
			path := tomlPath(table, m[1])
			if _, ok := lines[path]; !ok {
				lines[path] = i + 1
			}
		}
	}
	return lines
}

func tomlPath(prefix, dotted string) string {
	path := prefix
	for _, part := range strings.Split(dotted, ".") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		path += "/" + escapePointer(part)
	}
	return path
}

func lineAt(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}
	return strings.Count(text[:offset], "\n") + 1
}
