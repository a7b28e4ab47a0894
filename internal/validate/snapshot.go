package validate

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Snapshot maps relative file paths under a task's scope to a cheap
// fingerprint. Two snapshots taken around an execution attempt give an
// independent view of what actually changed on disk.
type Snapshot map[string]fileStamp

type fileStamp struct {
	size    int64
	modUnix int64
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
}

// Capture walks root and fingerprints every regular file. Returns nil
// when root does not exist or is not a directory; callers treat a nil
// snapshot as "cross-check unavailable".
func Capture(root string) Snapshot {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}

	snap := make(Snapshot)
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		snap[filepath.ToSlash(rel)] = fileStamp{size: fi.Size(), modUnix: fi.ModTime().UnixNano()}
		return nil
	})
	return snap
}

// Changes is the observed difference between two snapshots
type Changes struct {
	Created  []string
	Modified []string
	Deleted  []string
}

// Empty reports whether nothing changed between the snapshots
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// All returns every touched path regardless of change type
func (c Changes) All() []string {
	out := make([]string, 0, len(c.Created)+len(c.Modified)+len(c.Deleted))
	out = append(out, c.Created...)
	out = append(out, c.Modified...)
	out = append(out, c.Deleted...)
	return out
}

// Diff compares a before and after snapshot of the same root
func Diff(before, after Snapshot) Changes {
	var c Changes
	for path, stamp := range after {
		prev, ok := before[path]
		switch {
		case !ok:
			c.Created = append(c.Created, path)
		case prev != stamp:
			c.Modified = append(c.Modified, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			c.Deleted = append(c.Deleted, path)
		}
	}
	return c
}
