package rulefile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Meta describes one rule file found under a Dir.
type Meta struct {
	Path      string // slash-separated, relative to the rule dir
	Checksum  string
	UpdatedAt time.Time
}

// Dir is a directory of rule files.
type Dir struct {
	root string // absolute
}

// NewDir opens the rule directory at root, which must already exist.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("rulefile: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("rulefile: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("rulefile: root is not a directory: %s", abs)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

// IsRuleFile reports whether name carries a rule document extension.
func IsRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}

func (d *Dir) safePath(rel string) (string, error) {
	if rel == "" {
		return d.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("rulefile: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) && abs != d.root {
		return "", fmt.Errorf("rulefile: path escapes rule dir: %s", rel)
	}
	return abs, nil
}

// Rel converts an absolute path inside the dir to its source key.
func (d *Dir) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(d.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("rulefile: %s is outside %s", abs, d.root)
	}
	return filepath.ToSlash(rel), nil
}

// List walks the dir and returns metadata for every rule file.
func (d *Dir) List() ([]Meta, error) {
	var out []Meta
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if e.IsDir() || !IsRuleFile(e.Name()) {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := d.Rel(p)
		if err != nil {
			return err
		}
		out = append(out, Meta{Path: rel, Checksum: checksum(data), UpdatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rulefile: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a rule file.
func (d *Dir) Read(rel string) ([]byte, error) {
	abs, err := d.safePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("rulefile: read %s: %w", rel, err)
	}
	return data, nil
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
