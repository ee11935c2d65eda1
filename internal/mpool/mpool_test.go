package mpool

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestHandle(t *testing.T, maxCached int) (*Handle, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.db")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}

	h, err := Open(f, 256, maxCached)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return h, func() { h.Close() }
}

func TestNewGetPutRoundTrip(t *testing.T) {
	h, cleanup := openTestHandle(t, 4)
	defer cleanup()

	pageno, page, err := h.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	copy(page, "hello page")
	if err := h.Put(pageno, Dirty); err != nil {
		t.Fatalf("Put: %v", err)
	}

	page2, err := h.Get(pageno)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(page2[:10]) != "hello page" {
		t.Fatalf("got %q", page2[:10])
	}
	h.Put(pageno, Clean)
}

func TestSyncPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.db")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h, err := Open(f, 256, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	pageno, page, err := h.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	copy(page, "durable bytes")
	h.Put(pageno, Dirty)

	if err := h.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	h.Close()

	f2, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	h2, err := Open(f2, 256, 4)
	if err != nil {
		t.Fatalf("Open2: %v", err)
	}
	defer h2.Close()

	got, err := h2.Get(pageno)
	if err != nil {
		t.Fatalf("Get2: %v", err)
	}
	if string(got[:13]) != "durable bytes" {
		t.Fatalf("got %q", got[:13])
	}
}

func TestGetOutOfRangeFails(t *testing.T) {
	h, cleanup := openTestHandle(t, 4)
	defer cleanup()

	if _, err := h.Get(99); err == nil {
		t.Fatalf("expected error for out-of-range page")
	}
}

func TestLRUEvictsUnpinnedPages(t *testing.T) {
	h, cleanup := openTestHandle(t, 2)
	defer cleanup()

	var ids []uint32
	for i := 0; i < 5; i++ {
		pageno, page, err := h.New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		copy(page, []byte{byte(i)})
		if err := h.Put(pageno, Dirty); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, pageno)
	}

	if len(h.pages) > 2 {
		t.Fatalf("expected cache to have evicted down to 2 resident pages, got %d", len(h.pages))
	}

	// Evicted, dirty pages must still be recoverable from disk.
	page, err := h.Get(ids[0])
	if err != nil {
		t.Fatalf("Get evicted page: %v", err)
	}
	if page[0] != 0 {
		t.Fatalf("evicted page lost its write-back: got %d", page[0])
	}
	h.Put(ids[0], Clean)
}

func TestPutWithoutPinPanics(t *testing.T) {
	h, cleanup := openTestHandle(t, 4)
	defer cleanup()

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic putting an unpinned page")
		}
	}()
	h.Put(0, Clean)
}

func TestFilterRoundTrip(t *testing.T) {
	h, cleanup := openTestHandle(t, 4)
	defer cleanup()

	h.SetFilter(
		func(pageno uint32, data []byte, cookie any) {
			for i := range data {
				data[i] ^= 0xFF
			}
		},
		func(pageno uint32, data []byte, cookie any) {
			for i := range data {
				data[i] ^= 0xFF
			}
		},
		nil,
	)

	pageno, page, err := h.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	copy(page, "filtered")
	h.Put(pageno, Dirty)
	if err := h.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := h.Get(pageno)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got[:8]) != "filtered" {
		t.Fatalf("got %q", got[:8])
	}
}
