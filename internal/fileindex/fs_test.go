package fileindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/dates"
	"github.com/starford/ansuz/internal/models"
)

func newTestFS(t *testing.T, opts ...Option) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	for name, size := range map[string]int{
		"data/cmip5/file123.nc":    234,
		"data/obs/tas_20240315.nc": 10,
		"data/.cache/blob.tmp":     5,
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	f, err := New(dir, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return f, dir
}

func TestGetRecord_File(t *testing.T) {
	f, _ := newTestFS(t)
	fc, err := f.GetRecord(context.Background(), "/data/cmip5/file123.nc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.Path != "/data/cmip5/file123.nc" || fc.Directory != "/data/cmip5" || fc.Name != "file123.nc" {
		t.Errorf("record = %+v", fc)
	}
	if fc.Size != 234 {
		t.Errorf("size = %d, want 234", fc.Size)
	}
	if fc.ItemType != models.ItemFile {
		t.Errorf("item type = %q", fc.ItemType)
	}
	if fc.ExtractedDate != nil {
		t.Errorf("extracted date = %v, want none without extractor", fc.ExtractedDate)
	}
}

func TestGetRecord_Directory(t *testing.T) {
	f, _ := newTestFS(t)
	fc, err := f.GetRecord(context.Background(), "data/cmip5/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.Path != "/data/cmip5" || fc.ItemType != models.ItemDir {
		t.Errorf("record = %+v", fc)
	}
}

func TestGetRecord_Link(t *testing.T) {
	f, dir := newTestFS(t)
	if err := os.Symlink(filepath.Join(dir, "data", "cmip5", "file123.nc"), filepath.Join(dir, "latest.nc")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	fc, err := f.GetRecord(context.Background(), "/latest.nc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.ItemType != models.ItemLink {
		t.Errorf("item type = %q, want link", fc.ItemType)
	}
}

func TestGetRecord_ExtractsDate(t *testing.T) {
	f, _ := newTestFS(t, WithExtractor(dates.MustExtractor()))
	fc, err := f.GetRecord(context.Background(), "/data/obs/tas_20240315.nc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if fc.ExtractedDate == nil || !fc.ExtractedDate.Equal(want) {
		t.Errorf("extracted date = %v, want %v", fc.ExtractedDate, want)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	f, _ := newTestFS(t, WithIgnore("**/.cache/**"))
	for _, p := range []string{"/data/missing.nc", "/data/.cache/blob.tmp"} {
		if _, err := f.GetRecord(context.Background(), p); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", p, err)
		}
	}
}

func TestGetRecord_CannotEscapeRoot(t *testing.T) {
	f, dir := newTestFS(t)
	outside := filepath.Join(filepath.Dir(dir), "outside.nc")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(outside) })

	_, err := f.GetRecord(context.Background(), "../outside.nc")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNew_BadIgnorePattern(t *testing.T) {
	if _, err := New(t.TempDir(), WithIgnore("[")); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestGlob(t *testing.T) {
	f, _ := newTestFS(t, WithIgnore("**/*.tmp"))
	got, err := f.Glob("/data/**/*.{nc,tmp}")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/data/cmip5/file123.nc", "/data/obs/tas_20240315.nc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
