package btree

// Cursor walks a BTree's leaves in key order, forward or backward,
// using the RightPtr/PrevPtr leaf chain rather than re-descending from
// the root on every step (adapted from the teacher's btree/iterator.go,
// extended with a backward link since the teacher's cursor was
// forward-only). A Cursor holds the tree's read lock for its entire
// lifetime; callers must Close it.
type Cursor struct {
	bt    *BTree
	leaf  *Page
	idx   uint16
	valid bool
}

func (b *BTree) descendLeftmost() (*Page, error) {
	pageID := b.root
	for {
		page, err := b.getPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			return page, nil
		}
		// RightPtr is always the leftmost route for an internal page,
		// regardless of how many cells it holds.
		next := page.RightPtr()
		b.putPage(page, false)
		pageID = next
	}
}

func (b *BTree) descendRightmost() (*Page, error) {
	pageID := b.root
	for {
		page, err := b.getPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			return page, nil
		}
		n := page.NumCells()
		var next uint32
		if n == 0 {
			next = page.RightPtr()
		} else {
			cell, err := page.CellAt(n - 1)
			if err != nil {
				b.putPage(page, false)
				return nil, err
			}
			next = cell.Child
		}
		b.putPage(page, false)
		pageID = next
	}
}

func (b *BTree) descendTo(key []byte) (*Page, error) {
	pageID := b.root
	for {
		page, err := b.getPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			return page, nil
		}
		child, err := getChildPageID(page, key)
		b.putPage(page, false)
		if err != nil {
			return nil, err
		}
		pageID = child
	}
}

// First positions a new cursor at the smallest key in the tree.
func (b *BTree) First() (*Cursor, error) {
	b.mu.RLock()
	leaf, err := b.descendLeftmost()
	if err != nil {
		b.mu.RUnlock()
		return nil, err
	}
	c := &Cursor{bt: b, leaf: leaf, idx: 0, valid: leaf.NumCells() > 0}
	return c, nil
}

// Last positions a new cursor at the largest key in the tree.
func (b *BTree) Last() (*Cursor, error) {
	b.mu.RLock()
	leaf, err := b.descendRightmost()
	if err != nil {
		b.mu.RUnlock()
		return nil, err
	}
	n := leaf.NumCells()
	c := &Cursor{bt: b, leaf: leaf, valid: n > 0}
	if n > 0 {
		c.idx = n - 1
	}
	return c, nil
}

// Seek positions a new cursor at the first key >= key (spec §4.2's
// cursor seek(key)).
func (b *BTree) Seek(key []byte) (*Cursor, error) {
	b.mu.RLock()
	leaf, err := b.descendTo(key)
	if err != nil {
		b.mu.RUnlock()
		return nil, err
	}
	idx := leaf.searchCell(key)
	c := &Cursor{bt: b, leaf: leaf, idx: uint16(idx)}
	c.valid = uint16(idx) < leaf.NumCells()
	if !c.valid {
		// No key in this leaf at or past idx; the real successor (if
		// any) is the start of the next leaf.
		if err := c.advanceLeaf(); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current entry's key. Only valid while Valid().
func (c *Cursor) Key() []byte {
	cell, err := c.leaf.CellAt(c.idx)
	if err != nil {
		return nil
	}
	return cell.Key
}

// Value returns the current entry's value. Only valid while Valid().
func (c *Cursor) Value() []byte {
	cell, err := c.leaf.CellAt(c.idx)
	if err != nil {
		return nil
	}
	return cell.Value
}

// advanceLeaf moves to the first cell of the next non-empty leaf,
// marking the cursor invalid if the chain ends.
func (c *Cursor) advanceLeaf() error {
	for {
		next := c.leaf.RightPtr()
		c.bt.putPage(c.leaf, false)
		c.leaf = nil
		if next == 0 {
			c.valid = false
			return nil
		}
		leaf, err := c.bt.getPage(next)
		if err != nil {
			c.valid = false
			return err
		}
		c.leaf = leaf
		c.idx = 0
		if leaf.NumCells() > 0 {
			c.valid = true
			return nil
		}
		// A leaf emptied by deletes stays linked in the chain after its
		// parent drops it; keep walking forward.
	}
}

// retreatLeaf moves to the last cell of the previous non-empty leaf.
func (c *Cursor) retreatLeaf() error {
	for {
		prev := c.leaf.PrevPtr()
		c.bt.putPage(c.leaf, false)
		c.leaf = nil
		if prev == 0 {
			c.valid = false
			return nil
		}
		leaf, err := c.bt.getPage(prev)
		if err != nil {
			c.valid = false
			return err
		}
		c.leaf = leaf
		n := leaf.NumCells()
		if n > 0 {
			c.idx = n - 1
			c.valid = true
			return nil
		}
	}
}

// Next advances the cursor to the next entry in ascending key order.
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}
	if c.idx+1 < c.leaf.NumCells() {
		c.idx++
		return nil
	}
	return c.advanceLeaf()
}

// Prev moves the cursor to the previous entry in ascending key order.
func (c *Cursor) Prev() error {
	if !c.valid {
		return nil
	}
	if c.idx > 0 {
		c.idx--
		return nil
	}
	return c.retreatLeaf()
}

// Close releases the cursor's pinned leaf and the tree's read lock.
// A Cursor must always be closed, whether or not it is Valid.
func (c *Cursor) Close() error {
	if c.leaf != nil {
		c.bt.putPage(c.leaf, false)
		c.leaf = nil
	}
	c.bt.mu.RUnlock()
	return nil
}
