package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/printloft/cardforge/pkg/template"
)

// Entry is one concrete generation request produced by expanding the
// manifest's card specs: a single existing source file paired with a
// resolved template.
type Entry struct {
	// Name labels the card and derives the artifact file name.
	Name string

	// SourcePath is the absolute path of the input asset.
	SourcePath string

	// Template is the resolved workflow template.
	Template *template.Template

	// Params are the named parameter values for the template.
	Params map[string]any
}

// ArtifactName returns the collision-safe output file name for the entry.
func (e Entry) ArtifactName() string {
	return SanitizeName(e.Name) + ".png"
}

// EntryError records a card spec that failed local validation. The batch
// proceeds without the entry; nothing is sent to the backend on its behalf.
type EntryError struct {
	// Index is the card's position in the manifest.
	Index int

	// Name is the card name, if any.
	Name string

	// Source is the card's source field as written.
	Source string

	// Err describes the precondition failure.
	Err error
}

// Error implements the error interface.
func (e EntryError) Error() string {
	label := e.Name
	if label == "" {
		label = e.Source
	}
	return fmt.Sprintf("cards[%d] %s: %v", e.Index, label, e.Err)
}

// Unwrap returns the underlying error.
func (e EntryError) Unwrap() error {
	return e.Err
}

// Expand resolves the manifest's card specs into concrete entries.
//
// Relative source paths are resolved against baseDir (the manifest's
// directory). Sources containing glob metacharacters are expanded with
// doublestar; a glob that matches nothing is a validation failure for that
// spec, as is a missing file, an unknown template, or a parameter the
// template does not declare.
//
// All local validation happens here, before any remote call. Failures are
// collected per entry rather than aborting the whole expansion.
func Expand(m *Manifest, baseDir string, store *template.Store) ([]Entry, []EntryError) {
	var entries []Entry
	var failures []EntryError

	fail := func(i int, spec CardSpec, err error) {
		failures = append(failures, EntryError{Index: i, Name: spec.Name, Source: spec.Source, Err: err})
	}

	for i, spec := range m.Cards {
		tpl, err := store.Get(spec.Template)
		if err != nil {
			fail(i, spec, err)
			continue
		}
		if err := checkParams(tpl, spec.Params); err != nil {
			fail(i, spec, err)
			continue
		}

		pattern := spec.Source
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}

		if !isGlob(spec.Source) {
			if err := checkSource(pattern); err != nil {
				fail(i, spec, err)
				continue
			}
			name := spec.Name
			if name == "" {
				name = fileStem(pattern)
			}
			entries = append(entries, Entry{Name: name, SourcePath: pattern, Template: tpl, Params: spec.Params})
			continue
		}

		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			fail(i, spec, fmt.Errorf("invalid source pattern: %w", err))
			continue
		}
		var files []string
		for _, match := range matches {
			if checkSource(match) == nil {
				files = append(files, match)
			}
		}
		if len(files) == 0 {
			fail(i, spec, fmt.Errorf("source pattern matched no files"))
			continue
		}
		sort.Strings(files)
		for _, f := range files {
			entries = append(entries, Entry{Name: fileStem(f), SourcePath: f, Template: tpl, Params: spec.Params})
		}
	}

	return entries, failures
}

// checkSource verifies the source asset exists and is a regular file.
func checkSource(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source file not found: %s", path)
		}
		return fmt.Errorf("source file not readable: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("source is a directory: %s", path)
	}
	return nil
}

// checkParams verifies every supplied parameter has an injection point in
// the template.
func checkParams(tpl *template.Template, params map[string]any) error {
	for name := range params {
		if !tpl.HasParam(name) {
			return fmt.Errorf("template %q does not declare parameter %q (declares: %s)",
				tpl.ID, name, strings.Join(tpl.Params(), ", "))
		}
	}
	return nil
}

// isGlob reports whether the source uses glob metacharacters.
func isGlob(source string) bool {
	return strings.ContainsAny(source, "*?[{")
}

// fileStem returns the file name without its extension.
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizeName converts a card name to a safe artifact file stem, matching
// the naming used by the downstream layout tooling: alphanumerics kept,
// everything else collapsed to underscores, lowercased.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "card"
	}
	return out
}
