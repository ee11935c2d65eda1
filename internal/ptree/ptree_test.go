package ptree

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscoverClassifiesSourceAndOther(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.c"), "int main(){}")
	writeFile(t, filepath.Join(root, "README.md"), "hello")
	writeFile(t, filepath.Join(root, "sub", "util.h"), "void util();")

	res, err := Discover(Options{Root: root})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res.Files) != 3 {
		t.Fatalf("got %d files, want 3: %+v", len(res.Files), res.Files)
	}

	kinds := map[string]string{}
	for _, f := range res.Files {
		kinds[f.Path] = string(f.Kind)
	}
	if kinds["./main.c"] != "s" {
		t.Fatalf("main.c kind = %q, want s", kinds["./main.c"])
	}
	if kinds["./README.md"] != "o" {
		t.Fatalf("README.md kind = %q, want o", kinds["./README.md"])
	}
	if kinds["./sub/util.h"] != "s" {
		t.Fatalf("sub/util.h kind = %q, want s", kinds["./sub/util.h"])
	}
}

func TestDiscoverRejectsDotfilesByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden.c"), "")
	writeFile(t, filepath.Join(root, "visible.c"), "")

	res, err := Discover(Options{Root: root})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "./visible.c" {
		t.Fatalf("got %+v, want only ./visible.c", res.Files)
	}

	res2, err := Discover(Options{Root: root, AcceptDotfiles: true})
	if err != nil {
		t.Fatalf("Discover AcceptDotfiles: %v", err)
	}
	if len(res2.Files) != 2 {
		t.Fatalf("got %d files with AcceptDotfiles, want 2", len(res2.Files))
	}
}

func TestDiscoverHonorsSkipList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.c"), "")
	writeFile(t, filepath.Join(root, "vendor", "dep.c"), "")

	res, err := Discover(Options{Root: root, SkipList: []string{"vendor/**"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "./keep.c" {
		t.Fatalf("got %+v, want only ./keep.c", res.Files)
	}
}

func TestDiscoverRejectsBlankNamesUnlessAllowed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "has space.c"), "")

	res, err := Discover(Options{Root: root})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res.Files) != 0 {
		t.Fatalf("got %+v, want no files (blank name rejected)", res.Files)
	}

	res2, err := Discover(Options{Root: root, AllowBlank: true})
	if err != nil {
		t.Fatalf("Discover AllowBlank: %v", err)
	}
	if len(res2.Files) != 1 {
		t.Fatalf("got %d files with AllowBlank, want 1", len(res2.Files))
	}
}

func TestBasketLookupAndIncludeTrackerCycleSafety(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.h"), "")
	writeFile(t, filepath.Join(root, "sub", "a.h"), "")

	res, err := Discover(Options{Root: root})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	hits := res.Basket.Lookup("a.h")
	if len(hits) != 2 {
		t.Fatalf("Lookup(a.h) = %v, want 2 hits", hits)
	}

	tracker := NewIncludeTracker(res.Basket)
	path, ok := tracker.Resolve("a.h")
	if !ok {
		t.Fatalf("Resolve(a.h) failed")
	}
	tracker.SetState(path, StatePending)
	if tracker.State(path) != StatePending {
		t.Fatalf("State(%s) = %v, want Pending", path, tracker.State(path))
	}
	tracker.SetState(path, StateDone)

	// A second #include "a.h" from a different file should resolve to
	// the still-not-done sibling rather than looping back onto the
	// finished one.
	path2, ok := tracker.Resolve("a.h")
	if !ok {
		t.Fatalf("Resolve(a.h) second call failed")
	}
	if path2 == path {
		t.Fatalf("Resolve returned the already-Done path again: %s", path2)
	}
}

// TestDiscoverParsesOnlyFirstOfSharedRealpath exercises spec.md §9's last
// Open Question: when a symlink makes two distinct logical paths resolve
// to the same file on disk, only the first one encountered is kept.
// Whether that is the "right" behavior is explicitly called out as
// unclear by the spec; this test pins the decision down rather than
// leaving it to accidental walk order.
func TestDiscoverParsesOnlyFirstOfSharedRealpath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.c"), "int real(void){}")
	if err := os.Symlink(filepath.Join(root, "real.c"), filepath.Join(root, "alias.c")); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	res, err := Discover(Options{Root: root})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res.Files) != 1 {
		t.Fatalf("got %d files, want exactly 1 (alias.c shares real.c's realpath): %+v", len(res.Files), res.Files)
	}
	if res.Files[0].Path != "./alias.c" {
		t.Fatalf("kept path = %q, want ./alias.c (alphabetically first)", res.Files[0].Path)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings, want exactly 1 noting the skipped duplicate", len(res.Warnings))
	}
}
