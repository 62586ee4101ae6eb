package fusefs

import (
	"path/filepath"
	"strings"

	"github.com/winfsp/cgofuse/fuse"
)

// ignored reports whether a name is host metadata noise. Ignored names
// are never hidden, queued, or categorized; they pass through as-is.
func ignored(name string) bool {
	return name == ".DS_Store" || strings.HasPrefix(name, "._")
}

// splitVirtual splits a virtual path into its segments.
// "/" yields nil, "/a" yields ["a"], "/a/b" yields ["a", "b"].
func splitVirtual(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// rootName returns the basename of a single-segment virtual path.
func rootName(path string) (string, bool) {
	segs := splitVirtual(path)
	if len(segs) == 1 {
		return segs[0], true
	}
	return "", false
}

// baseName returns the final segment of a one- or two-segment path.
func baseName(path string) (string, bool) {
	segs := splitVirtual(path)
	if len(segs) == 0 || len(segs) > 2 {
		return "", false
	}
	return segs[len(segs)-1], true
}

// realPath translates a virtual path to its backing-store path. The
// category segment of a two-segment path is semantic only: the file
// bytes always live flat in the backing store. Deeper paths do not
// resolve.
func (f *FS) realPath(path string) (string, int) {
	segs := splitVirtual(path)
	switch len(segs) {
	case 0:
		return f.cfg.BackingDir, 0
	case 1:
		return filepath.Join(f.cfg.BackingDir, segs[0]), 0
	case 2:
		return filepath.Join(f.cfg.BackingDir, segs[1]), 0
	default:
		return "", -fuse.ENOENT
	}
}
