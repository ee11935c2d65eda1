// Package mpool implements the paged page cache described in spec §4.1
// (component C1): buffered random access to a regular file with a
// bounded in-memory working set, strict LRU eviction over unpinned
// pages, and dirty write-back on Sync.
//
// The design is lifted from the teacher's btree.Pager (cache, lru,
// lruMap fields, and the same hash-table-chained-into-LRU-list trick)
// but generalized so it no longer assumes the B-tree's own page
// layout: mpool hands callers a raw fixed-size []byte and knows
// nothing about cells, keys, or splits. internal/btree is built on
// top of it instead of owning its own pager, per spec §2's dependency
// order (C2 depends on C1).
package mpool

import (
	"container/list"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/gtagsdb/gtags/internal/gerr"
)

// PutFlags controls Put's write-back behavior.
type PutFlags int

const (
	// Clean unpins the page without marking it dirty.
	Clean PutFlags = 0
	// Dirty marks the page for later write-back by Sync.
	Dirty PutFlags = 1 << iota
)

// FilterFunc transforms a page's bytes in place, invoked on read-in
// (PageIn) or just before write-out (PageOut), e.g. to normalize
// endianness; mpool itself is agnostic to page contents. internal/btree
// installs no filter: it encodes its page fields big-endian itself.
type FilterFunc func(pageno uint32, data []byte, cookie any)

// frame is the single owned node for one cached page: its hash-table
// membership and its LRU-list membership are two borrowed views over
// the same frame, per spec §9's "two intrusive indices over one owned
// node set" design note.
type frame struct {
	pageno  uint32
	data    []byte
	pinned  int
	dirty   bool
	lruElem *list.Element // nil while pinned (pinned pages are not in the LRU list)
}

// Handle is one open paged file.
type Handle struct {
	mu sync.RWMutex

	file     *os.File
	pageSize int
	maxPages int

	pages     map[uint32]*frame
	lru       *list.List // front = most recently used
	pageCount uint32

	filterIn  FilterFunc
	filterOut FilterFunc
	cookie    any

	closed bool
}

// Open creates a Handle over f, an already-opened regular file. It
// fails if f is not a regular file (spec §4.1).
func Open(f *os.File, pageSize, maxCachedPages int) (*Handle, error) {
	if pageSize <= 0 {
		return nil, gerr.New(gerr.UsageError, "mpool: page size must be positive")
	}
	if maxCachedPages <= 0 {
		maxCachedPages = 1
	}

	info, err := f.Stat()
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "mpool: stat")
	}
	if !info.Mode().IsRegular() {
		return nil, gerr.New(gerr.UsageError, "mpool: not a regular file")
	}

	h := &Handle{
		file:     f,
		pageSize: pageSize,
		maxPages: maxCachedPages,
		pages:    make(map[uint32]*frame),
		lru:      list.New(),
	}

	h.pageCount = uint32(info.Size() / int64(pageSize))
	return h, nil
}

// PageSize returns the fixed page size this handle was opened with.
func (h *Handle) PageSize() int { return h.pageSize }

// PageCount returns the current number of pages in the file's address
// space (including ones never yet written to disk but allocated by New).
func (h *Handle) PageCount() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pageCount
}

// SetFilter installs the optional byte-level transforms run on
// read-in and just before write-out (spec §4.1).
func (h *Handle) SetFilter(in, out FilterFunc, cookie any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filterIn = in
	h.filterOut = out
	h.cookie = cookie
}

// New appends a new page to the file's address space and returns it
// pinned. Contents are undefined (zero-filled); the caller must
// initialize before Put.
func (h *Handle) New() (uint32, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, nil, gerr.New(gerr.IOError, "mpool: handle closed")
	}

	pageno := h.pageCount
	h.pageCount++

	fr := &frame{
		pageno: pageno,
		data:   make([]byte, h.pageSize),
		pinned: 1,
		dirty:  true,
	}
	h.pages[pageno] = fr
	h.evictIfNeededLocked()
	return pageno, fr.data, nil
}

// Get pins pageno, reading it from disk if not already resident. It
// fails if pageno is outside the current page count.
func (h *Handle) Get(pageno uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, gerr.New(gerr.IOError, "mpool: handle closed")
	}
	if pageno >= h.pageCount {
		return nil, gerr.Newf(gerr.IOError, "mpool: page %d out of range (count=%d)", pageno, h.pageCount)
	}

	if fr, ok := h.pages[pageno]; ok {
		if fr.lruElem != nil {
			h.lru.Remove(fr.lruElem)
			fr.lruElem = nil
		}
		fr.pinned++
		return fr.data, nil
	}

	data := make([]byte, h.pageSize)
	off := int64(pageno) * int64(h.pageSize)
	if _, err := h.file.ReadAt(data, off); err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "mpool: read page")
	}
	if h.filterIn != nil {
		h.filterIn(pageno, data, h.cookie)
	}

	fr := &frame{pageno: pageno, data: data, pinned: 1}
	h.pages[pageno] = fr
	h.evictIfNeededLocked()
	return data, nil
}

// Put unpins a page previously returned by Get or New. Dirty in flags
// marks it for later write-back. Putting a page that was not in fact
// pinned is a programming error (spec §4.1) and panics.
func (h *Handle) Put(pageno uint32, flags PutFlags) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fr, ok := h.pages[pageno]
	if !ok || fr.pinned == 0 {
		panic(errors.Errorf("mpool: put of unpinned page %d", pageno))
	}

	if flags&Dirty != 0 {
		fr.dirty = true
	}

	fr.pinned--
	if fr.pinned == 0 {
		fr.lruElem = h.lru.PushFront(fr)
		h.evictIfNeededLocked()
	}
	return nil
}

// evictIfNeededLocked drops unpinned pages from the back of the LRU
// list until the cache is back under maxPages. If every page is
// pinned the cache simply grows past maxPages; it never shrinks below
// what's pinned (spec §4.1).
func (h *Handle) evictIfNeededLocked() {
	for len(h.pages) > h.maxPages {
		back := h.lru.Back()
		if back == nil {
			return // everything still pinned
		}
		fr := back.Value.(*frame)
		h.lru.Remove(back)
		if fr.dirty {
			h.writeBackLocked(fr)
			if fr.dirty {
				fr.lruElem = h.lru.PushBack(fr)
				return
			}
		}
		delete(h.pages, fr.pageno)
	}
}

func (h *Handle) writeBackLocked(fr *frame) {
	out := fr.data
	if h.filterOut != nil {
		cp := make([]byte, len(fr.data))
		copy(cp, fr.data)
		h.filterOut(fr.pageno, cp, h.cookie)
		out = cp
	}
	off := int64(fr.pageno) * int64(h.pageSize)
	if _, err := h.file.WriteAt(out, off); err == nil {
		fr.dirty = false
	}
	// A failed write leaves fr dirty; evictIfNeededLocked then keeps
	// the frame resident and stops evicting, so the next Sync retries
	// the write and returns its error instead of panicking mid-evict.
}

// Sync writes back all dirty pages and fsyncs the underlying file.
func (h *Handle) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, fr := range h.pages {
		if !fr.dirty {
			continue
		}
		out := fr.data
		if h.filterOut != nil {
			cp := make([]byte, len(fr.data))
			copy(cp, fr.data)
			h.filterOut(fr.pageno, cp, h.cookie)
			out = cp
		}
		off := int64(fr.pageno) * int64(h.pageSize)
		if _, err := h.file.WriteAt(out, off); err != nil {
			return gerr.Wrap(gerr.IOError, err, "mpool: write back")
		}
		fr.dirty = false
	}

	if err := h.file.Sync(); err != nil {
		return gerr.Wrap(gerr.IOError, err, "mpool: fsync")
	}
	return nil
}

// Close releases all cached memory. It does not imply a Sync.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pages = make(map[uint32]*frame)
	h.lru.Init()
	h.closed = true
	return h.file.Close()
}
