// Package template manages the library of workflow templates submitted to
// the generation backend.
//
// A template is an opaque, pre-validated JSON graph. cardforge never
// interprets the graph: the only structure it knows about are the named
// injection points the backend resolves at submit time. The asset injection
// point is "{{asset}}"; parameter injection points are "{{param:NAME}}".
// Scanning for these tokens at load time lets the manifest layer reject
// unknown parameter names before any remote call.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// AssetToken is the injection point the backend replaces with the uploaded
// asset reference.
const AssetToken = "{{asset}}"

var paramTokenRe = regexp.MustCompile(`\{\{param:([A-Za-z0-9_.-]+)\}\}`)

// Template is one immutable workflow graph from the template library.
type Template struct {
	// ID is the template identifier (file name without extension).
	ID string

	// Raw is the graph blob, submitted verbatim.
	Raw json.RawMessage

	// params is the set of parameter names the graph declares.
	params map[string]struct{}
}

// Params returns the sorted parameter names the template declares.
func (t *Template) Params() []string {
	names := make([]string, 0, len(t.params))
	for name := range t.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasParam reports whether the template declares the named injection point.
func (t *Template) HasParam(name string) bool {
	_, ok := t.params[name]
	return ok
}

// Store is an immutable, load-once template library.
type Store struct {
	templates map[string]*Template
}

// LoadDir reads every *.json file in dir as a template.
//
// Each file must be valid JSON and must contain the asset injection point;
// a template with no place to put the input asset cannot drive an
// image-to-image workflow. Errors name the offending file.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("template directory not found: %s", dir)
		}
		return nil, fmt.Errorf("read template directory: %w", err)
	}

	store := &Store{templates: make(map[string]*Template)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		tpl, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		store.templates[tpl.ID] = tpl
	}

	if len(store.templates) == 0 {
		return nil, fmt.Errorf("no templates found in %s", dir)
	}
	return store, nil
}

// loadFile parses and validates a single template file.
func loadFile(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}

	// Validate well-formedness only. The graph stays opaque.
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("template %s is not valid JSON: %w", path, err)
	}

	text := string(raw)
	if !strings.Contains(text, AssetToken) {
		return nil, fmt.Errorf("template %s has no %s injection point", path, AssetToken)
	}

	params := make(map[string]struct{})
	for _, m := range paramTokenRe.FindAllStringSubmatch(text, -1) {
		params[m[1]] = struct{}{}
	}

	id := strings.TrimSuffix(filepath.Base(path), ".json")
	return &Template{ID: id, Raw: json.RawMessage(raw), params: params}, nil
}

// Get returns the template with the given ID.
func (s *Store) Get(id string) (*Template, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown template %q (have: %s)", id, strings.Join(s.IDs(), ", "))
	}
	return tpl, nil
}

// IDs returns the sorted template identifiers in the library.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded templates.
func (s *Store) Len() int {
	return len(s.templates)
}
