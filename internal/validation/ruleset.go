package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"cfgedit/internal/cfgedit"
)

// RuleSet is a compiled JSON Schema plus the deprecated property paths it
// declares.
type RuleSet struct {
	ID     string
	schema *jsonschema.Schema
	// deprecated holds pointer patterns; "*" matches any key or index.
	deprecated []string
}

// CompileRuleSet compiles a JSON Schema document.
func CompileRuleSet(id string, schemaJSON []byte) (*RuleSet, error) {
	url := "cfgedit://rules/" + id + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", id, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", id, err)
	}

	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", id, err)
	}
	var deprecated []string
	collectDeprecated(doc, "", &deprecated)
	sort.Strings(deprecated)

	return &RuleSet{ID: id, schema: schema, deprecated: deprecated}, nil
}

// CompileYAMLRuleSet compiles a JSON Schema written in YAML.
func CompileYAMLRuleSet(id string, schemaYAML []byte) (*RuleSet, error) {
	var raw any
	if err := yaml.Unmarshal(schemaYAML, &raw); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", id, err)
	}
	value, err := normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", id, err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", id, err)
	}
	return CompileRuleSet(id, data)
}

// Check validates a parsed value. Issues carry a path but no line.
func (r *RuleSet) Check(value any) []cfgedit.ValidationIssue {
	var issues []cfgedit.ValidationIssue

	if err := r.schema.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return []cfgedit.ValidationIssue{{
				Severity: cfgedit.SeverityError,
				Message:  err.Error(),
				Path:     "/",
			}}
		}
		for _, leaf := range leaves(verr) {
			issues = append(issues, cfgedit.ValidationIssue{
				Severity: cfgedit.SeverityError,
				Message:  leaf.Message,
				Path:     instancePath(leaf.InstanceLocation),
			})
		}
	}

	for _, pattern := range r.deprecated {
		for _, path := range matchPaths(value, splitPointer(pattern), "") {
			issues = append(issues, cfgedit.ValidationIssue{
				Severity: cfgedit.SeverityWarning,
				Message:  "property is deprecated",
				Path:     path,
			})
		}
	}
	return issues
}

func leaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// instancePath maps the root location to "/" so that every schema finding
// carries a non-empty path.
func instancePath(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

// collectDeprecated walks a schema and records the instance pointer
// patterns of properties marked "deprecated": true.
func collectDeprecated(node any, path string, out *[]string) {
	schema, ok := node.(map[string]any)
	if !ok {
		return
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for name, sub := range props {
			child := path + "/" + escapePointer(name)
			if m, ok := sub.(map[string]any); ok && m["deprecated"] == true {
				*out = append(*out, child)
			}
			collectDeprecated(sub, child, out)
		}
	}
	if items, ok := schema["items"]; ok {
		collectDeprecated(items, path+"/*", out)
	}
	if extra, ok := schema["additionalProperties"]; ok {
		collectDeprecated(extra, path+"/*", out)
	}
	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		if subs, ok := schema[key].([]any); ok {
			for _, sub := range subs {
				collectDeprecated(sub, path, out)
			}
		}
	}
}

func splitPointer(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func unescapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~1", "/"), "~0", "~")
}

// matchPaths returns the concrete pointers in value that match segments.
func matchPaths(value any, segments []string, prefix string) []string {
	if len(segments) == 0 {
		return []string{prefix}
	}
	seg, rest := segments[0], segments[1:]
	var out []string
	switch v := value.(type) {
	case map[string]any:
		if seg == "*" {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, matchPaths(v[k], rest, prefix+"/"+escapePointer(k))...)
			}
			return out
		}
		if child, ok := v[unescapePointer(seg)]; ok {
			out = append(out, matchPaths(child, rest, prefix+"/"+seg)...)
		}
	case []any:
		if seg != "*" {
			return nil
		}
		for i, item := range v {
			out = append(out, matchPaths(item, rest, prefix+"/"+strconv.Itoa(i))...)
		}
	}
	return out
}
