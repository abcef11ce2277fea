package models

import (
	"path"
	"time"
)

// ItemType distinguishes the kinds of record the file index tracks.
type ItemType string

const (
	ItemFile ItemType = "file"
	ItemDir  ItemType = "dir"
	ItemLink ItemType = "link"
)

// FileContext is a file-index record, immutable for one resolution.
type FileContext struct {
	Path          string     `json:"path"`
	Directory     string     `json:"directory"`
	Name          string     `json:"name"`
	Size          int64      `json:"size"`
	ItemType      ItemType   `json:"item_type"`
	LastModified  time.Time  `json:"last_modified"`
	ExtractedDate *time.Time `json:"extracted_date,omitempty"`
}

// Dir returns the record directory, deriving it from Path when unset.
func (fc FileContext) Dir() string {
	if fc.Directory != "" {
		return fc.Directory
	}
	return path.Dir(fc.Path)
}

// BaseName returns the record name, deriving it from Path when unset.
func (fc FileContext) BaseName() string {
	if fc.Name != "" {
		return fc.Name
	}
	return path.Base(fc.Path)
}

// Fields flattens the record into a mapping for annotated output.
func (fc FileContext) Fields() map[string]any {
	out := map[string]any{
		"path":          fc.Path,
		"directory":     fc.Dir(),
		"name":          fc.BaseName(),
		"size":          fc.Size,
		"item_type":     string(fc.ItemType),
		"last_modified": fc.LastModified,
	}
	if fc.ExtractedDate != nil {
		out["extracted_date"] = fc.ExtractedDate.Format(time.DateOnly)
	}
	return out
}
