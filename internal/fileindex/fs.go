// Package fileindex serves file records from a local directory tree.
package fileindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/dates"
	"github.com/starford/ansuz/internal/models"
)

// FS implements resolver.FileIndex over a directory. Logical record paths are
// slash-separated and rooted at "/", which maps to root on disk.
type FS struct {
	root      string // absolute
	ignore    []string
	extractor *dates.Extractor
}

// Option configures an FS.
type Option func(*FS)

// WithIgnore hides records whose root-relative path matches any doublestar
// pattern, e.g. "**/.git/**" or "**/*.tmp".
func WithIgnore(patterns ...string) Option {
	return func(f *FS) { f.ignore = append(f.ignore, patterns...) }
}

// WithExtractor fills ExtractedDate on returned records.
func WithExtractor(e *dates.Extractor) Option {
	return func(f *FS) { f.extractor = e }
}

// New creates an FS rooted at root, which must be an existing directory.
func New(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fileindex: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fileindex: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fileindex: root is not a directory: %s", abs)
	}
	f := &FS{root: abs}
	for _, opt := range opts {
		opt(f)
	}
	for _, p := range f.ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("fileindex: bad ignore pattern %q: %w", p, apperr.ErrInvalid)
		}
	}
	return f, nil
}

// logical cleans p into a rooted slash path. Relative paths are taken from
// the root, and ".." can never climb above it.
func logical(p string) string {
	return path.Clean("/" + filepath.ToSlash(p))
}

func (f *FS) ignored(logicalPath string) bool {
	rel := strings.TrimPrefix(logicalPath, "/")
	if rel == "" {
		return false
	}
	for _, p := range f.ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// GetRecord stats the file behind path. Missing and ignored paths yield
// apperr.ErrNotFound.
func (f *FS) GetRecord(ctx context.Context, p string) (models.FileContext, error) {
	if err := ctx.Err(); err != nil {
		return models.FileContext{}, err
	}
	lp := logical(p)
	if f.ignored(lp) {
		return models.FileContext{}, fmt.Errorf("fileindex: %s: %w", lp, apperr.ErrNotFound)
	}
	info, err := os.Lstat(filepath.Join(f.root, filepath.FromSlash(lp)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.FileContext{}, fmt.Errorf("fileindex: %s: %w", lp, apperr.ErrNotFound)
		}
		return models.FileContext{}, fmt.Errorf("fileindex: stat %s: %w", lp, err)
	}
	return f.record(lp, info), nil
}

func (f *FS) record(lp string, info fs.FileInfo) models.FileContext {
	fc := models.FileContext{
		Path:         lp,
		Directory:    path.Dir(lp),
		Name:         path.Base(lp),
		Size:         info.Size(),
		ItemType:     itemType(info.Mode()),
		LastModified: info.ModTime().UTC().Truncate(time.Second),
	}
	if f.extractor != nil {
		if d, ok := f.extractor.Extract(lp); ok {
			fc.ExtractedDate = &d
		}
	}
	return fc
}

func itemType(m fs.FileMode) models.ItemType {
	switch {
	case m&fs.ModeSymlink != 0:
		return models.ItemLink
	case m.IsDir():
		return models.ItemDir
	}
	return models.ItemFile
}

// Glob returns the logical paths of records matching a doublestar pattern
// evaluated from the root, skipping ignored ones. Results are sorted.
func (f *FS) Glob(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "/")
	matches, err := doublestar.Glob(os.DirFS(f.root), pattern, doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("fileindex: glob %q: %w: %v", pattern, apperr.ErrInvalid, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		lp := logical(m)
		if !f.ignored(lp) {
			out = append(out, lp)
		}
	}
	sort.Strings(out)
	return out, nil
}
