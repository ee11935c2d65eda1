// Package btree implements the ordered key/value index of spec §4.2
// (component C2): a disk B-tree layered on internal/mpool, with
// internal pages holding separator keys and child page numbers, leaf
// pages holding sorted (key, value) cells, and splits propagating
// upward. The slotted-page layout (header + cell directory growing
// forward, cells growing backward from the end, varint-encoded cell
// headers) is adapted directly from the teacher's btree/page.go,
// generalized to hand its backing bytes to internal/mpool instead of
// owning a dedicated pager, and extended with duplicate-key support
// (spec §3: "duplicates within a key are allowed if the database was
// opened with duplicates enabled").
package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/gtagsdb/gtags/internal/gerr"
)

const (
	PageTypeInternal = 1
	PageTypeLeaf     = 2

	// Layout: [type(1)][numCells(2)][rightPtr(4)][freePtr(2)][seq(4)][prevPtr(4)] = 17 bytes.
	headerSize           = 17
	headerOffsetType     = 0
	headerOffsetNumCells = 1
	headerOffsetRightPtr = 3
	headerOffsetFreePtr  = 7
	headerOffsetDupSeq   = 9  // next duplicate sequence number to hand out in this page
	headerOffsetPrevPtr  = 13 // leaf-chain back-link; unused on internal pages

	cellDirEntrySize = 2
)

// Cell is a single key-value (leaf) or key-child (internal) pair.
type Cell struct {
	Key   []byte
	Value []byte // leaf only
	Child uint32 // internal only

	// dupSeq orders duplicate entries sharing one logical key in
	// insertion order (spec §4.2: "tie-break during iteration over
	// duplicates: insertion order within a key"). Zero for
	// non-duplicate keys and for internal cells.
	dupSeq uint32
}

// Page is a view over one fixed-size buffer borrowed from mpool.
type Page struct {
	id   uint32
	data []byte
}

// newPage initializes a freshly allocated buffer as an empty page of
// the given type.
func newPage(id uint32, data []byte, pageType byte) *Page {
	p := &Page{id: id, data: data}
	p.data[headerOffsetType] = pageType
	binary.BigEndian.PutUint16(p.data[headerOffsetNumCells:], 0)
	binary.BigEndian.PutUint32(p.data[headerOffsetRightPtr:], 0)
	binary.BigEndian.PutUint16(p.data[headerOffsetFreePtr:], uint16(len(data)))
	binary.BigEndian.PutUint32(p.data[headerOffsetDupSeq:], 0)
	binary.BigEndian.PutUint32(p.data[headerOffsetPrevPtr:], 0)
	return p
}

func loadPage(id uint32, data []byte) *Page {
	return &Page{id: id, data: data}
}

func (p *Page) ID() uint32       { return p.id }
func (p *Page) IsLeaf() bool     { return p.data[headerOffsetType] == PageTypeLeaf }
func (p *Page) Data() []byte     { return p.data }
func (p *Page) pageSize() int    { return len(p.data) }

func (p *Page) NumCells() uint16 {
	return binary.BigEndian.Uint16(p.data[headerOffsetNumCells:])
}

func (p *Page) setNumCells(n uint16) {
	binary.BigEndian.PutUint16(p.data[headerOffsetNumCells:], n)
}

func (p *Page) RightPtr() uint32 {
	return binary.BigEndian.Uint32(p.data[headerOffsetRightPtr:])
}

func (p *Page) SetRightPtr(ptr uint32) {
	binary.BigEndian.PutUint32(p.data[headerOffsetRightPtr:], ptr)
}

func (p *Page) freePtr() uint16 {
	return binary.BigEndian.Uint16(p.data[headerOffsetFreePtr:])
}

func (p *Page) setFreePtr(ptr uint16) {
	binary.BigEndian.PutUint16(p.data[headerOffsetFreePtr:], ptr)
}

// PrevPtr returns the preceding leaf in key order (leaf pages only),
// maintained alongside RightPtr's forward link so cursors can walk
// either direction without re-descending from the root.
func (p *Page) PrevPtr() uint32 {
	return binary.BigEndian.Uint32(p.data[headerOffsetPrevPtr:])
}

func (p *Page) SetPrevPtr(ptr uint32) {
	binary.BigEndian.PutUint32(p.data[headerOffsetPrevPtr:], ptr)
}

func (p *Page) nextDupSeq() uint32 {
	n := binary.BigEndian.Uint32(p.data[headerOffsetDupSeq:])
	binary.BigEndian.PutUint32(p.data[headerOffsetDupSeq:], n+1)
	return n
}

func (p *Page) cellDirOffset(n uint16) int {
	return headerSize + int(n)*cellDirEntrySize
}

func (p *Page) getCellOffset(n uint16) uint16 {
	return binary.BigEndian.Uint16(p.data[p.cellDirOffset(n):])
}

func (p *Page) setCellOffset(n uint16, offset uint16) {
	binary.BigEndian.PutUint16(p.data[p.cellDirOffset(n):], offset)
}

// CellAt returns the cell at index.
func (p *Page) CellAt(index uint16) (*Cell, error) {
	if index >= p.NumCells() {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: cell index out of range")
	}
	offset := p.getCellOffset(index)
	if p.IsLeaf() {
		return p.parseLeafCell(int(offset))
	}
	return p.parseInternalCell(int(offset))
}

func (p *Page) parseLeafCell(offset int) (*Cell, error) {
	if offset+2 > p.pageSize() {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: leaf cell offset out of range")
	}
	keySize, n1 := uvarint16(p.data[offset:])
	if n1 <= 0 {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: bad key-size varint")
	}
	valueSize, n2 := uvarint16(p.data[offset+n1:])
	if n2 <= 0 {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: bad value-size varint")
	}
	seq := binary.BigEndian.Uint32(p.data[offset+n1+n2:])
	start := offset + n1 + n2 + 4
	end := start + int(keySize) + int(valueSize)
	if end > p.pageSize() {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: leaf cell size out of range")
	}

	cell := &Cell{
		Key:    append([]byte(nil), p.data[start:start+int(keySize)]...),
		Value:  append([]byte(nil), p.data[start+int(keySize):end]...),
		dupSeq: seq,
	}
	return cell, nil
}

func (p *Page) parseInternalCell(offset int) (*Cell, error) {
	if offset+1 > p.pageSize() {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: internal cell offset out of range")
	}
	keySize, n := uvarint16(p.data[offset:])
	if n <= 0 {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: bad key-size varint")
	}
	if offset+n+4 > p.pageSize() {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: internal cell truncated")
	}
	child := binary.BigEndian.Uint32(p.data[offset+n:])
	start := offset + n + 4
	end := start + int(keySize)
	if end > p.pageSize() {
		return nil, gerr.New(gerr.CorruptDatabase, "btree: internal cell size out of range")
	}
	return &Cell{
		Key:   append([]byte(nil), p.data[start:end]...),
		Child: child,
	}, nil
}

func (p *Page) leafCellSize(keySize, valueSize int) int {
	return varintSize16(uint16(keySize)) + varintSize16(uint16(valueSize)) + 4 + keySize + valueSize
}

func (p *Page) internalCellSize(keySize int) int {
	return varintSize16(uint16(keySize)) + 4 + keySize
}

func (p *Page) cellSize(c *Cell) int {
	if p.IsLeaf() {
		return p.leafCellSize(len(c.Key), len(c.Value))
	}
	return p.internalCellSize(len(c.Key))
}

// HasRoomFor reports whether the page can fit one more cell of the
// given size without splitting.
func (p *Page) HasRoomFor(c *Cell) bool {
	dirEnd := p.cellDirOffset(p.NumCells() + 1)
	free := int(p.freePtr()) - dirEnd
	return free >= p.cellSize(c)
}

// InsertMode controls how InsertCell resolves a key that already has
// one or more entries in the page (spec §4.2's insert-unique /
// insert-dup / replace put modes).
type InsertMode int

const (
	InsertUnique InsertMode = iota
	InsertDup
	Replace
)

// ErrPageFull signals the caller must split before retrying.
var ErrPageFull = gerr.New(gerr.IOError, "btree: page full")

// ErrKeyExists signals an InsertUnique collision.
var ErrKeyExists = gerr.New(gerr.CorruptDatabase, "btree: key already exists")

// findInsertRange returns [lo, hi): the half-open run of existing
// cells whose key equals c.Key (lo==hi when absent).
func (p *Page) findInsertRange(key []byte) (lo, hi int) {
	numCells := int(p.NumCells())
	// First index with cell.Key >= key.
	lo = sort_search(numCells, func(i int) bool {
		cell, err := p.CellAt(uint16(i))
		if err != nil {
			return true
		}
		return bytes.Compare(cell.Key, key) >= 0
	})
	hi = sort_search(numCells, func(i int) bool {
		cell, err := p.CellAt(uint16(i))
		if err != nil {
			return true
		}
		return bytes.Compare(cell.Key, key) > 0
	})
	return lo, hi
}

// sort_search is sort.Search inlined to avoid importing "sort" just
// for one call site split across two predicates above.
func sort_search(n int, f func(int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if f(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// InsertCell inserts c according to mode, splitting is the caller's
// responsibility (see btree.go's insertAndSplit).
func (p *Page) InsertCell(c *Cell, mode InsertMode) error {
	lo, hi := p.findInsertRange(c.Key)
	exists := hi > lo

	switch mode {
	case InsertUnique:
		if exists {
			return ErrKeyExists
		}
	case Replace:
		if exists {
			// Leaves only ever hold one entry per key under Replace;
			// drop any existing ones (normally exactly one).
			for i := hi - 1; i >= lo; i-- {
				if err := p.DeleteCell(uint16(i)); err != nil {
					return err
				}
			}
			hi = lo
		}
	case InsertDup:
		c.dupSeq = p.nextDupSeq()
	}

	if !p.HasRoomFor(c) {
		return ErrPageFull
	}

	offset := p.freePtr() - uint16(p.cellSize(c))
	if p.IsLeaf() {
		p.writeLeafCell(int(offset), c)
	} else {
		p.writeInternalCell(int(offset), c)
	}

	numCells := p.NumCells()
	insertPos := uint16(hi)
	for i := numCells; i > insertPos; i-- {
		p.setCellOffset(i, p.getCellOffset(i-1))
	}
	p.setCellOffset(insertPos, offset)
	p.setNumCells(numCells + 1)
	p.setFreePtr(offset)
	return nil
}

func (p *Page) writeLeafCell(offset int, c *Cell) {
	n1 := putUvarint16(p.data[offset:], uint16(len(c.Key)))
	n2 := putUvarint16(p.data[offset+n1:], uint16(len(c.Value)))
	binary.BigEndian.PutUint32(p.data[offset+n1+n2:], c.dupSeq)
	start := offset + n1 + n2 + 4
	copy(p.data[start:], c.Key)
	copy(p.data[start+len(c.Key):], c.Value)
}

func (p *Page) writeInternalCell(offset int, c *Cell) {
	n := putUvarint16(p.data[offset:], uint16(len(c.Key)))
	binary.BigEndian.PutUint32(p.data[offset+n:], c.Child)
	copy(p.data[offset+n+4:], c.Key)
}

// searchCell returns the index of the first cell whose key is >= key
// (an exact match, if any, is always this index since duplicates keep
// key order but not a unique position).
func (p *Page) searchCell(key []byte) int {
	lo, _ := p.findInsertRange(key)
	return lo
}

// DeleteCell removes the cell at index. Space is not reclaimed until
// the next split/compaction of the page (same trade-off the teacher's
// page.go makes: cheap delete, no incremental defragmentation).
func (p *Page) DeleteCell(index uint16) error {
	numCells := p.NumCells()
	if index >= numCells {
		return gerr.New(gerr.CorruptDatabase, "btree: delete index out of range")
	}
	for i := index; i < numCells-1; i++ {
		p.setCellOffset(i, p.getCellOffset(i+1))
	}
	p.setNumCells(numCells - 1)
	return nil
}
