package gtop

import (
	"path/filepath"
	"testing"

	"github.com/gtagsdb/gtags/internal/gerr"
	"github.com/pkg/errors"
)

func openStandard(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(dir, "GTAGS"), Mode: Create})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func openCompact(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:        filepath.Join(dir, "GTAGS"),
		SidecarPath: filepath.Join(dir, "GTAGS.img"),
		Mode:        Create,
		Compact:     true,
	})
	if err != nil {
		t.Fatalf("Open compact: %v", err)
	}
	return s
}

func TestStandardPutAndLookup(t *testing.T) {
	dir := t.TempDir()
	s := openStandard(t, dir)
	defer s.Close()

	if err := s.Put("foo", 10, 1, "int foo(void) {"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("foo", 55, 2, "foo();"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	recs, err := s.Lookup("foo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Fid != 1 || recs[0].Line != 10 {
		t.Fatalf("recs[0] = %+v", recs[0])
	}
	if recs[1].Fid != 2 || recs[1].Line != 55 {
		t.Fatalf("recs[1] = %+v", recs[1])
	}
}

func TestExtractMethodEmitsSeparateRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Path: filepath.Join(dir, "GTAGS"), Mode: Create, ExtractMethod: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put("Widget::resize", 42, 3, "void Widget::resize() {"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	classRecs, err := s.Lookup("Widget::resize")
	if err != nil || len(classRecs) != 1 {
		t.Fatalf("Lookup(Widget::resize) = %v, %v", classRecs, err)
	}
	methodRecs, err := s.Lookup("resize")
	if err != nil || len(methodRecs) != 1 {
		t.Fatalf("Lookup(resize) = %v, %v", methodRecs, err)
	}
	if methodRecs[0].Line != 42 || methodRecs[0].Fid != 3 {
		t.Fatalf("methodRecs[0] = %+v", methodRecs[0])
	}
}

func TestCompactFlushMergesRunsAndResolvesImages(t *testing.T) {
	dir := t.TempDir()
	s := openCompact(t, dir)
	defer s.Close()

	for _, line := range []int{17, 19, 20, 21, 28} {
		if err := s.Put("sym", line, 9, "line "+string(rune('0'+line%10))); err != nil {
			t.Fatalf("Put(%d): %v", line, err)
		}
	}
	if err := s.Flush(9); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	recs, err := s.Lookup("sym")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}
	wantLines := []int{17, 19, 20, 21, 28}
	for i, want := range wantLines {
		if recs[i].Line != want {
			t.Fatalf("recs[%d].Line = %d, want %d", i, recs[i].Line, want)
		}
		if wantImage := "line " + string(rune('0'+want%10)); recs[i].Image != wantImage {
			t.Fatalf("recs[%d].Image = %q, want %q", i, recs[i].Image, wantImage)
		}
	}
}

func TestRunListRoundTrip(t *testing.T) {
	lines := []int{17, 19, 20, 21, 28}
	encoded := EncodeRunList(lines)
	if encoded != "17,19-21,28" {
		t.Fatalf("EncodeRunList = %q, want 17,19-21,28", encoded)
	}
	decoded, err := DecodeRunList(encoded)
	if err != nil {
		t.Fatalf("DecodeRunList: %v", err)
	}
	if len(decoded) != len(lines) {
		t.Fatalf("decoded %v, want %v", decoded, lines)
	}
	for i := range lines {
		if decoded[i] != lines[i] {
			t.Fatalf("decoded[%d] = %d, want %d", i, decoded[i], lines[i])
		}
	}
}

func TestDeleteFidSetStandard(t *testing.T) {
	dir := t.TempDir()
	s := openStandard(t, dir)
	defer s.Close()

	s.Put("a", 1, 1, "img")
	s.Put("b", 2, 1, "img")
	s.Put("c", 3, 2, "img")

	if err := s.DeleteFidSet(map[uint32]bool{1: true}); err != nil {
		t.Fatalf("DeleteFidSet: %v", err)
	}

	if recs, _ := s.Lookup("a"); len(recs) != 0 {
		t.Fatalf("expected a's records removed, got %v", recs)
	}
	if recs, _ := s.Lookup("b"); len(recs) != 0 {
		t.Fatalf("expected b's records removed, got %v", recs)
	}
	recs, err := s.Lookup("c")
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected c's record to survive, got %v, %v", recs, err)
	}
}

func TestDeleteFidSetCompactRemovesSidecar(t *testing.T) {
	dir := t.TempDir()
	s := openCompact(t, dir)
	defer s.Close()

	s.Put("sym", 5, 4, "image")
	if err := s.Flush(4); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := s.DeleteFidSet(map[uint32]bool{4: true}); err != nil {
		t.Fatalf("DeleteFidSet: %v", err)
	}

	recs, err := s.Lookup("sym")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records after delete, got %v", recs)
	}
}

func TestReopenValidatesHeaders(t *testing.T) {
	dir := t.TempDir()
	s := openStandard(t, dir)
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	s.Close()

	_, err := Open(Config{Path: filepath.Join(dir, "GTAGS"), SidecarPath: filepath.Join(dir, "GTAGS.img"), Mode: Modify, Compact: true})
	if err == nil {
		t.Fatalf("expected VersionMismatch opening a standard db as compact")
	}
	if !errors.Is(err, gerr.VersionMismatch) {
		t.Fatalf("got %v, want a VersionMismatch-wrapped error", err)
	}
}
