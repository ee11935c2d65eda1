package btree

import "bytes"

// getChildPageID returns the child page ID an internal page routes
// key to. Cell semantics: cell(K, P) means P holds keys >= K; RightPtr
// holds keys less than the smallest separator (adapted from the
// teacher's btree/node.go GetChildPageID).
func getChildPageID(page *Page, key []byte) (uint32, error) {
	numCells := page.NumCells()
	if numCells == 0 {
		rp := page.RightPtr()
		if rp == 0 {
			return 0, ErrCellNotFoundInternal
		}
		return rp, nil
	}

	lo := 0
	hi := int(numCells)
	for lo < hi {
		mid := (lo + hi) / 2
		cell, err := page.CellAt(uint16(mid))
		if err != nil {
			return 0, err
		}
		if bytes.Compare(key, cell.Key) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	if lo == 0 {
		rp := page.RightPtr()
		if rp == 0 {
			return 0, ErrCellNotFoundInternal
		}
		return rp, nil
	}

	cell, err := page.CellAt(uint16(lo - 1))
	if err != nil {
		return 0, err
	}
	return cell.Child, nil
}

// ErrCellNotFoundInternal marks an empty internal page with no routing
// target; this only happens transiently mid-split/merge.
var ErrCellNotFoundInternal = errNotFound()

func errNotFound() error {
	return &notFoundErr{}
}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "btree: no child page for key" }
