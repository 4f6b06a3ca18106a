// Package scratch allocates temporary paths for intermediate artifacts.
//
// Paths are never removed by this package: intermediate models and
// checkpoints outlive the invocation that created them so they can be
// inspected after a failure.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// prefix starts every generated path name.
const prefix = "quantflow-"

// NameGenerator produces unique path names.
type NameGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 names, so scratch
// directories list in creation order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined names for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu    sync.Mutex
	names []string
	idx   int
}

// NewFixedGenerator creates a generator that returns names in order.
func NewFixedGenerator(names ...string) *FixedGenerator {
	return &FixedGenerator{names: names}
}

// Generate returns the next predetermined name.
//
// Panics if all names have been consumed, which means a test allocated more
// scratch paths than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.names) {
		panic("FixedGenerator: all names exhausted")
	}
	name := g.names[g.idx]
	g.idx++
	return name
}

// Manager hands out scratch paths under one root directory.
type Manager struct {
	root string
	gen  NameGenerator
}

// New creates a manager rooted at root. An empty root means os.TempDir and
// a nil gen means UUIDv7 names.
func New(root string, gen NameGenerator) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Manager{root: root, gen: gen}
}

// Root returns the directory scratch paths are created under.
func (m *Manager) Root() string {
	return m.root
}

// CreateTmpDir creates a fresh, empty directory.
func (m *Manager) CreateTmpDir() (string, error) {
	dir := filepath.Join(m.root, prefix+m.gen.Generate())
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("create scratch root: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// LocalTmpFileName returns a fresh path that does not exist yet. The
// caller decides whether it becomes a file or a directory.
func (m *Manager) LocalTmpFileName() (string, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", fmt.Errorf("create scratch root: %w", err)
	}
	path := filepath.Join(m.root, prefix+m.gen.Generate())
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("scratch path %s already exists", path)
	}
	return path, nil
}
