package btree

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync"

	"github.com/gtagsdb/gtags/internal/gerr"
	"github.com/gtagsdb/gtags/internal/mpool"
)

const (
	// DefaultPageSize matches spec §3's "typically 8 KiB."
	DefaultPageSize = 8192

	metadataPage  = 0
	metadataMagic = 0x47544233 // "GTB3"

	// metaOffsetMagic/Root/Dup are byte offsets into page 0, which
	// holds only this metadata and is never used as a tree page.
	metaOffsetMagic = 0
	metaOffsetRoot  = 4
	metaOffsetDup   = 8
)

// Config configures a new or reopened B-tree database.
type Config struct {
	Path           string
	PageSize       int  // 0 => DefaultPageSize
	MaxCachedPages int  // 0 => 4096
	Duplicates     bool // ignored when reopening an existing file
}

// BTree is the ordered key/value store of spec §4.2.
type BTree struct {
	mu     sync.RWMutex // single coordination primitive per spec §5/§9
	pager  *mpool.Handle
	file   *os.File
	dup    bool
	root   uint32
	closed bool
}

// maxKeyValueSize enforces spec §4.2's "exceeding the maximum key+value
// size (half a page) surfaces as KeyTooLarge."
func maxKeyValueSize(pageSize int) int { return pageSize / 2 }

// Open creates or reopens a B-tree database at cfg.Path.
func Open(cfg Config) (*BTree, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxCachedPages == 0 {
		cfg.MaxCachedPages = 4096
	}

	_, statErr := os.Stat(cfg.Path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "btree: open")
	}

	pager, err := mpool.Open(f, cfg.PageSize, cfg.MaxCachedPages)
	if err != nil {
		f.Close()
		return nil, err
	}

	b := &BTree{pager: pager, file: f}

	if isNew {
		if err := b.initNew(cfg.Duplicates); err != nil {
			pager.Close()
			return nil, err
		}
		return b, nil
	}

	if err := b.loadMetadata(); err != nil {
		pager.Close()
		return nil, err
	}
	return b, nil
}

func (b *BTree) initNew(dup bool) error {
	metaNo, meta, err := b.pager.New() // page 0
	if err != nil {
		return err
	}
	if metaNo != metadataPage {
		return gerr.New(gerr.CorruptDatabase, "btree: metadata page must be page 0")
	}
	rootNo, root, err := b.pager.New() // page 1
	if err != nil {
		return err
	}
	newPage(rootNo, root, PageTypeLeaf)
	if err := b.pager.Put(rootNo, mpool.Dirty); err != nil {
		return err
	}

	binary.BigEndian.PutUint32(meta[metaOffsetMagic:], metadataMagic)
	binary.BigEndian.PutUint32(meta[metaOffsetRoot:], rootNo)
	if dup {
		meta[metaOffsetDup] = 1
	}
	if err := b.pager.Put(metaNo, mpool.Dirty); err != nil {
		return err
	}

	b.root = rootNo
	b.dup = dup
	return nil
}

func (b *BTree) loadMetadata() error {
	meta, err := b.pager.Get(metadataPage)
	if err != nil {
		return err
	}
	defer b.pager.Put(metadataPage, mpool.Clean)

	magic := binary.BigEndian.Uint32(meta[metaOffsetMagic:])
	if magic != metadataMagic {
		return gerr.New(gerr.CorruptDatabase, "btree: bad metadata magic")
	}
	b.root = binary.BigEndian.Uint32(meta[metaOffsetRoot:])
	b.dup = meta[metaOffsetDup] != 0
	return nil
}

func (b *BTree) saveRoot(root uint32) error {
	meta, err := b.pager.Get(metadataPage)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(meta[metaOffsetRoot:], root)
	b.root = root
	return b.pager.Put(metadataPage, mpool.Dirty)
}

// DuplicatesEnabled reports whether this database allows InsertDup.
func (b *BTree) DuplicatesEnabled() bool { return b.dup }

// PageSize returns the fixed page size for this database.
func (b *BTree) PageSize() int { return b.pager.PageSize() }

func (b *BTree) getPage(id uint32) (*Page, error) {
	data, err := b.pager.Get(id)
	if err != nil {
		return nil, err
	}
	return loadPage(id, data), nil
}

func (b *BTree) putPage(p *Page, dirty bool) error {
	flags := mpool.Clean
	if dirty {
		flags = mpool.Dirty
	}
	return b.pager.Put(p.id, flags)
}

// Get returns the first value stored for key, or gerr.New(gerr.IOError,...)
// wrapped not-found via ErrKeyNotFound.
func (b *BTree) Get(key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pageID := b.root
	for {
		page, err := b.getPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			idx := page.searchCell(key)
			if uint16(idx) < page.NumCells() {
				cell, err := page.CellAt(uint16(idx))
				if err == nil && bytes.Equal(cell.Key, key) {
					val := append([]byte(nil), cell.Value...)
					b.putPage(page, false)
					return val, nil
				}
			}
			b.putPage(page, false)
			return nil, ErrKeyNotFound
		}
		child, err := getChildPageID(page, key)
		b.putPage(page, false)
		if err != nil {
			return nil, err
		}
		pageID = child
	}
}

// ErrKeyNotFound is returned by Get when the key has no entry.
var ErrKeyNotFound = gerr.New(gerr.IOError, "btree: key not found")

// Put inserts key/value using mode (spec §4.2: insert-unique,
// insert-dup, replace).
func (b *BTree) Put(key, value []byte, mode InsertMode) error {
	if len(key) == 0 {
		return gerr.New(gerr.UsageError, "btree: empty key")
	}
	if len(key)+len(value) > maxKeyValueSize(b.pager.PageSize()) {
		return gerr.New(gerr.Overflow, "btree: KeyTooLarge")
	}
	if mode == InsertDup && !b.dup {
		return gerr.New(gerr.UsageError, "btree: duplicates not enabled on this database")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	split, err := b.insertAndSplit(b.root, key, value, mode)
	if err != nil {
		return err
	}
	if split != nil {
		if err := b.handleRootSplit(split); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the (first, if duplicates) entry for key.
func (b *BTree) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteKey(b.root, key)
}

// Sync flushes the underlying page cache (spec §4.2 sync).
func (b *BTree) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pager.Sync()
}

// Close releases resources without an implicit sync.
func (b *BTree) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pager.Close()
}
