package rulefile

import (
	"context"
	"log/slog"

	"github.com/starford/ansuz/internal/models"
)

// Index is the slice of the rule store that file sync needs.
type Index interface {
	ReplaceSource(ctx context.Context, source, checksum string, rules []models.AnnotationRule) error
	DeleteSource(ctx context.Context, source string) error
	SourceChecksums(ctx context.Context) (map[string]string, error)
}

// Report summarises one sync pass.
type Report struct {
	Loaded    []string `json:"loaded"`
	Unchanged int      `json:"unchanged"`
	Removed   []string `json:"removed"`
	Failed    []string `json:"failed"`
}

// Changed reports whether the pass touched the store.
func (r Report) Changed() bool {
	return len(r.Loaded) > 0 || len(r.Removed) > 0
}

// Sync walks the rule dir and brings the store up to date:
//   - new or changed files are parsed and their rules replaced wholesale
//   - sources whose file is gone have their rules deleted
//
// A file that fails to parse is logged and left as previously loaded.
func Sync(ctx context.Context, idx Index, dir *Dir, logger *slog.Logger) (Report, error) {
	var rep Report
	metas, err := dir.List()
	if err != nil {
		return rep, err
	}
	checksums, err := idx.SourceChecksums(ctx)
	if err != nil {
		return rep, err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == m.Checksum {
			rep.Unchanged++
			continue
		}
		if err := load(ctx, idx, dir, m.Path); err != nil {
			logger.Warn("sync: load failed", slog.String("source", m.Path), slog.String("error", err.Error()))
			rep.Failed = append(rep.Failed, m.Path)
			continue
		}
		logger.Debug("sync: loaded", slog.String("source", m.Path))
		rep.Loaded = append(rep.Loaded, m.Path)
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := idx.DeleteSource(ctx, p); err != nil {
			logger.Warn("sync: delete failed", slog.String("source", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("source", p))
		rep.Removed = append(rep.Removed, p)
	}
	return rep, nil
}

// load parses one file and swaps its rules into the store.
func load(ctx context.Context, idx Index, dir *Dir, rel string) error {
	data, err := dir.Read(rel)
	if err != nil {
		return err
	}
	rules, err := Parse(data)
	if err != nil {
		return err
	}
	return idx.ReplaceSource(ctx, rel, checksum(data), rules)
}
