package gpath

import (
	"path/filepath"
	"testing"

	"github.com/gtagsdb/gtags/internal/btree"
)

func openTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Path: filepath.Join(dir, "path.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, func() { s.Close() }
}

func TestPutAssignsSequentialFids(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	fid1, err := s.Put("./main.c", KindSource)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fid1 != 1 {
		t.Fatalf("fid1 = %d, want 1", fid1)
	}

	fid2, err := s.Put("./util.c", KindSource)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fid2 != 2 {
		t.Fatalf("fid2 = %d, want 2", fid2)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	fid1, err := s.Put("./main.c", KindSource)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	fid2, err := s.Put("./main.c", KindSource)
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if fid1 != fid2 {
		t.Fatalf("re-Put changed fid: %d != %d", fid1, fid2)
	}

	next, err := s.NextKey()
	if err != nil {
		t.Fatalf("NextKey: %v", err)
	}
	if next != 2 {
		t.Fatalf("NextKey = %d, want 2 (no fid burned by the no-op re-Put)", next)
	}
}

func TestPathToFidAndBack(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	fid, err := s.Put("sub/dir/file.c", KindSource)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	gotFid, kind, err := s.PathToFid("sub/dir/file.c")
	if err != nil {
		t.Fatalf("PathToFid: %v", err)
	}
	if gotFid != fid || kind != KindSource {
		t.Fatalf("PathToFid = (%d, %c), want (%d, s)", gotFid, kind, fid)
	}

	path, kind2, err := s.FidToPath(fid)
	if err != nil {
		t.Fatalf("FidToPath: %v", err)
	}
	if path != "./sub/dir/file.c" || kind2 != KindSource {
		t.Fatalf("FidToPath = (%q, %c), want (./sub/dir/file.c, s)", path, kind2)
	}
}

func TestDeleteLeavesHole(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	fid1, err := s.Put("./a.c", KindSource)
	if err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, err := s.Put("./b.c", KindSource); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	if err := s.Delete("./a.c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, _, err := s.PathToFid("./a.c"); err != btree.ErrKeyNotFound {
		t.Fatalf("PathToFid after delete: got %v, want ErrKeyNotFound", err)
	}
	if _, _, err := s.FidToPath(fid1); err != btree.ErrKeyNotFound {
		t.Fatalf("FidToPath after delete: got %v, want ErrKeyNotFound", err)
	}

	fid3, err := s.Put("./c.c", KindSource)
	if err != nil {
		t.Fatalf("Put c: %v", err)
	}
	if fid3 == fid1 {
		t.Fatalf("deleted fid %d was reused, spec requires holes never reused", fid1)
	}
}

func TestLiveFidsSkipsHoles(t *testing.T) {
	s, cleanup := openTestStore(t)
	defer cleanup()

	for _, p := range []string{"./a.c", "./b.c", "./c.c"} {
		if _, err := s.Put(p, KindSource); err != nil {
			t.Fatalf("Put %s: %v", p, err)
		}
	}
	if err := s.Delete("./b.c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	live, err := s.LiveFids()
	if err != nil {
		t.Fatalf("LiveFids: %v", err)
	}
	if len(live) != 2 || live[0] != 1 || live[1] != 3 {
		t.Fatalf("LiveFids = %v, want [1 3]", live)
	}
}

func TestCaseInsensitiveFolding(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Path: filepath.Join(dir, "path.db"), CaseInsensitive: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fid, err := s.Put("./Main.C", KindSource)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	gotFid, _, err := s.PathToFid("./main.c")
	if err != nil {
		t.Fatalf("PathToFid: %v", err)
	}
	if gotFid != fid {
		t.Fatalf("case-insensitive lookup mismatch: %d != %d", gotFid, fid)
	}
}
