// Package localfs manages the local mirror of a remote project.
//
// Remote paths are flat names that may contain '/'; the mirror lays them
// out as a real directory tree under a single resolved root so users can
// edit files with normal tooling and track them in git. All access is
// confined to the root; path traversal outside it is rejected.
package localfs

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Directories never mirrored: git metadata and flatsync's own state.
var alwaysIgnored = []string{".git", ".flatsync"}

// Mirror is a confined view over one mirror root.
type Mirror struct {
	root   string
	ignore []glob.Glob
}

// New creates a Mirror at root, compiling the given ignore globs (matched
// against slash-separated relative paths, e.g. "**/*.tmp"). The root
// directory is created if missing.
func New(root string, ignoreGlobs []string) (*Mirror, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mirror root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create mirror root: %w", err)
	}

	compiled := make([]glob.Glob, 0, len(ignoreGlobs))
	for _, pattern := range ignoreGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}

	return &Mirror{root: abs, ignore: compiled}, nil
}

// Root returns the resolved absolute mirror root.
func (m *Mirror) Root() string {
	return m.root
}

// Ignored reports whether the slash-separated relative path is excluded
// from mirroring.
func (m *Mirror) Ignored(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, skip := range alwaysIgnored {
		if parts[0] == skip {
			return true
		}
	}
	for _, g := range m.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// resolve maps a remote path to an absolute filesystem path under the
// root, rejecting anything that would escape it.
func (m *Mirror) resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)[1:] // collapse any ".." inward
	if clean == "" || clean != strings.TrimSuffix(rel, "/") {
		return "", fmt.Errorf("invalid mirror path %q", rel)
	}
	return filepath.Join(m.root, filepath.FromSlash(clean)), nil
}

// Scan walks the mirror and returns a snapshot of every non-ignored file,
// keyed by slash-separated relative path.
func (m *Mirror) Scan() (map[string]string, error) {
	files := make(map[string]string)

	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if m.Ignored(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if m.Ignored(rel) {
			return nil
		}
		// #nosec G304 - p is confined to the walked root
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		files[rel] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan mirror: %w", err)
	}
	return files, nil
}

// Read returns the content of one mirrored file.
func (m *Mirror) Read(rel string) (string, error) {
	full, err := m.resolve(rel)
	if err != nil {
		return "", err
	}
	// #nosec G304 - resolve confines the path to the root
	content, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(content), nil
}

// Exists reports whether the mirrored file is present.
func (m *Mirror) Exists(rel string) bool {
	full, err := m.resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Write stores content at the mirrored path, creating parent directories
// as needed.
func (m *Mirror) Write(rel, content string) error {
	full, err := m.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", rel, err)
	}
	// #nosec G306 - mirrored files are user content
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// Delete removes the mirrored file and prunes any directories left empty,
// so the tree never accumulates husks of moved or deleted remote files.
// Deleting an absent file is a no-op.
func (m *Mirror) Delete(rel string) error {
	full, err := m.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", rel, err)
	}

	for dir := filepath.Dir(full); dir != m.root; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty or not removable
		}
	}
	return nil
}
