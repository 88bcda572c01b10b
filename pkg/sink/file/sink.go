package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/printloft/cardforge/pkg/sink"
)

// Sink implements sink.Sink for a local output directory.
//
// Names that collide within a run get a numeric suffix rather than
// overwriting: two cards named "ada" produce ada.png and ada_2.png.
type Sink struct {
	dir string

	mu    sync.Mutex
	taken map[string]int
}

var _ sink.Sink = (*Sink)(nil)

// Config configures the file sink.
type Config struct {
	// Dir is the output directory. Created if it does not exist.
	Dir string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("output dir is required")
	}
	return nil
}

// New creates a file sink rooted at cfg.Dir.
func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir := filepath.Clean(cfg.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &sink.SinkError{Op: "New", Err: fmt.Errorf("create output dir: %w", err)}
	}
	return &Sink{dir: dir, taken: make(map[string]int)}, nil
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.dir
}

// Put writes the artifact atomically: a temp file in the same directory,
// renamed into place once fully written.
func (s *Sink) Put(ctx context.Context, name string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	final := filepath.Join(s.dir, s.reserve(name))

	tmp, err := os.CreateTemp(s.dir, ".cardforge-*.tmp")
	if err != nil {
		return "", &sink.SinkError{Op: "Put", Name: name, Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return "", &sink.SinkError{Op: "Put", Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &sink.SinkError{Op: "Put", Name: name, Err: err}
	}
	if err := os.Rename(tmpName, final); err != nil {
		return "", &sink.SinkError{Op: "Put", Name: name, Err: err}
	}
	return final, nil
}

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }

// reserve claims a unique file name for this run.
func (s *Sink) reserve(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.taken[name]
	s.taken[name] = n + 1
	if n == 0 {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d%s", stem, n+1, ext)
}
