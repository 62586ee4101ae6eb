package fusefs

import (
	"path/filepath"
	"testing"

	"github.com/winfsp/cgofuse/fuse"
)

func TestIgnored(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{".DS_Store", true},
		{"._foo", true},
		{"._", true},
		{"doc1.txt", false},
		{".hidden", false},
		{"_underscore", false},
	}
	for _, tc := range cases {
		if got := ignored(tc.name); got != tc.want {
			t.Errorf("ignored(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSplitVirtual(t *testing.T) {
	cases := []struct {
		path string
		want int
	}{
		{"/", 0},
		{"/a", 1},
		{"/a/b", 2},
		{"/a/b/c", 3},
	}
	for _, tc := range cases {
		if got := splitVirtual(tc.path); len(got) != tc.want {
			t.Errorf("splitVirtual(%q) = %v, want %d segments", tc.path, got, tc.want)
		}
	}
}

func TestRootName(t *testing.T) {
	if name, ok := rootName("/doc1.txt"); !ok || name != "doc1.txt" {
		t.Errorf("rootName(/doc1.txt) = %q, %v", name, ok)
	}
	if _, ok := rootName("/"); ok {
		t.Error("rootName(/) reported a root file")
	}
	if _, ok := rootName("/Documents/doc1.txt"); ok {
		t.Error("rootName of a category child reported a root file")
	}
}

func TestRealPath(t *testing.T) {
	f := New(Config{BackingDir: "/backing"})

	cases := []struct {
		path string
		want string
		rc   int
	}{
		{"/", "/backing", 0},
		{"/doc1.txt", "/backing/doc1.txt", 0},
		// The category segment is semantic only.
		{"/Documents/doc1.txt", "/backing/doc1.txt", 0},
		{"/Images/doc1.txt", "/backing/doc1.txt", 0},
		{"/a/b/c", "", -fuse.ENOENT},
	}
	for _, tc := range cases {
		got, rc := f.realPath(tc.path)
		if rc != tc.rc {
			t.Errorf("realPath(%q) rc = %d, want %d", tc.path, rc, tc.rc)
			continue
		}
		if rc == 0 && got != filepath.Clean(tc.want) {
			t.Errorf("realPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
