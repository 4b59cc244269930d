package extract

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover walks dir recursively and returns files whose extension matches
// one of exts (case-insensitive). Paths are deduplicated by their resolved
// location, so symlinked copies are returned once, and sorted. A missing
// directory yields no files. Unreadable entries below dir are logged and
// skipped.
func Discover(dir string, exts []string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[strings.ToLower(e)] = true
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return walkError(dir, p, d, err, logger)
		}
		if d.IsDir() || !want[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			logger.Warn("skip unresolvable path", "path", p, "error", err)
			return nil
		}
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}
		if seen[resolved] {
			return nil
		}
		seen[resolved] = true
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// walkError decides how a failed entry affects the walk: a failure on the
// root aborts it, anything deeper is logged and its subtree skipped.
func walkError(root, p string, d fs.DirEntry, err error, logger *slog.Logger) error {
	if p == root {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("skip unreadable path", "path", p, "error", err)
	if d != nil && d.IsDir() {
		return fs.SkipDir
	}
	return nil
}
