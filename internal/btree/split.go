package btree

import (
	"bytes"
)

// splitResult is the separator produced when a full page is split,
// to be inserted into the parent (or to seed a new root).
type splitResult struct {
	splitKey  []byte
	newPageID uint32
	oldPageID uint32
}

func (b *BTree) allocPage(pageType byte) (*Page, error) {
	id, data, err := b.pager.New()
	if err != nil {
		return nil, err
	}
	return newPage(id, data, pageType), nil
}

func cellsOf(page *Page) ([]*Cell, error) {
	n := page.NumCells()
	cells := make([]*Cell, 0, n)
	for i := uint16(0); i < n; i++ {
		c, err := page.CellAt(i)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

func insertSorted(cells []*Cell, c *Cell) []*Cell {
	pos := len(cells)
	for i, existing := range cells {
		if bytes.Compare(c.Key, existing.Key) < 0 {
			pos = i
			break
		}
	}
	out := make([]*Cell, 0, len(cells)+1)
	out = append(out, cells[:pos]...)
	out = append(out, c)
	out = append(out, cells[pos:]...)
	return out
}

// splitLeaf splits a full leaf, including the not-yet-inserted cell,
// evenly across the original page and a new sibling, linked by
// RightPtr for forward iteration (spec §4.2 cursor contract).
func (b *BTree) splitLeaf(page *Page, pending *Cell, mode InsertMode) (*splitResult, error) {
	cells, err := cellsOf(page)
	if err != nil {
		return nil, err
	}
	if mode == InsertDup {
		pending.dupSeq = page.nextDupSeq()
	}
	cells = insertSorted(cells, pending)

	mid := len(cells) / 2

	newPage, err := b.allocPage(PageTypeLeaf)
	if err != nil {
		return nil, err
	}

	oldRight := page.RightPtr()
	page.setNumCells(0)
	page.setFreePtr(uint16(page.pageSize()))
	for i := 0; i < mid; i++ {
		if err := page.InsertCell(cells[i], Replace); err != nil {
			return nil, err
		}
	}
	page.SetRightPtr(newPage.id)

	for i := mid; i < len(cells); i++ {
		if err := newPage.InsertCell(cells[i], Replace); err != nil {
			return nil, err
		}
	}
	newPage.SetRightPtr(oldRight)
	newPage.SetPrevPtr(page.id)

	if err := b.putPage(page, true); err != nil {
		return nil, err
	}
	if err := b.putPage(newPage, true); err != nil {
		return nil, err
	}

	// The leaf that used to follow page now follows newPage instead;
	// re-point its back-link so backward cursors stay in sync.
	if oldRight != 0 {
		oldRightPage, err := b.getPage(oldRight)
		if err != nil {
			return nil, err
		}
		oldRightPage.SetPrevPtr(newPage.id)
		if err := b.putPage(oldRightPage, true); err != nil {
			return nil, err
		}
	}

	return &splitResult{splitKey: cells[mid].Key, newPageID: newPage.id, oldPageID: page.id}, nil
}

// splitInternal splits a full internal page. The middle cell's key is
// promoted to the parent; its child becomes the new right page's
// leftmost (RightPtr) pointer, since every key in that child was, in
// the pre-split page, within [middle.Key, nextCell.Key) — exactly the
// new right page's own leftmost range once middle's cells move over.
// The left (original) page's own leftmost range is untouched by the
// split, so its RightPtr is left as-is (adapted from the teacher's
// btree/split.go splitInternal, corrected to route through
// getChildPageID's leftmost-RightPtr convention consistently).
func (b *BTree) splitInternal(page *Page, pending *Cell) (*splitResult, error) {
	cells, err := cellsOf(page)
	if err != nil {
		return nil, err
	}
	cells = insertSorted(cells, pending)

	mid := len(cells) / 2
	middle := cells[mid]

	newPage, err := b.allocPage(PageTypeInternal)
	if err != nil {
		return nil, err
	}

	page.setNumCells(0)
	page.setFreePtr(uint16(page.pageSize()))
	for i := 0; i < mid; i++ {
		if err := page.InsertCell(cells[i], Replace); err != nil {
			return nil, err
		}
	}
	// page.RightPtr() is untouched: it still routes keys below
	// cells[0].Key, which hasn't changed.

	for i := mid + 1; i < len(cells); i++ {
		if err := newPage.InsertCell(cells[i], Replace); err != nil {
			return nil, err
		}
	}
	newPage.SetRightPtr(middle.Child)

	if err := b.putPage(page, true); err != nil {
		return nil, err
	}
	if err := b.putPage(newPage, true); err != nil {
		return nil, err
	}

	return &splitResult{splitKey: middle.Key, newPageID: newPage.id, oldPageID: page.id}, nil
}

// insertAndSplit recurses to the target leaf, inserting and splitting
// pages bottom-up as needed (adapted from the teacher's
// btree/split.go insertAndSplit, generalized over InsertMode).
func (b *BTree) insertAndSplit(pageID uint32, key, value []byte, mode InsertMode) (*splitResult, error) {
	page, err := b.getPage(pageID)
	if err != nil {
		return nil, err
	}

	if page.IsLeaf() {
		cell := &Cell{Key: key, Value: value}
		err := page.InsertCell(cell, mode)
		if err == nil {
			return nil, b.putPage(page, true)
		}
		if err != ErrPageFull && err != ErrKeyExists {
			b.putPage(page, false)
			return nil, err
		}
		if err == ErrKeyExists {
			b.putPage(page, false)
			return nil, ErrKeyExists
		}
		return b.splitLeaf(page, cell, mode)
	}

	childID, err := getChildPageID(page, key)
	if err != nil {
		b.putPage(page, false)
		return nil, err
	}

	split, err := b.insertAndSplit(childID, key, value, mode)
	if err != nil {
		b.putPage(page, false)
		return nil, err
	}
	if split == nil {
		b.putPage(page, false)
		return nil, nil
	}

	sepCell := &Cell{Key: split.splitKey, Child: split.newPageID}
	if err := page.InsertCell(sepCell, Replace); err == nil {
		return nil, b.putPage(page, true)
	} else if err != ErrPageFull {
		b.putPage(page, false)
		return nil, err
	}

	return b.splitInternal(page, sepCell)
}

// handleRootSplit creates a new root over the old root and its new
// sibling when the root itself had to split.
func (b *BTree) handleRootSplit(split *splitResult) error {
	newRoot, err := b.allocPage(PageTypeInternal)
	if err != nil {
		return err
	}
	cell := &Cell{Key: split.splitKey, Child: split.newPageID}
	if err := newRoot.InsertCell(cell, Replace); err != nil {
		return err
	}
	newRoot.SetRightPtr(split.oldPageID)
	if err := b.putPage(newRoot, true); err != nil {
		return err
	}
	return b.saveRoot(newRoot.id)
}
