package btree

import (
	"fmt"
	"path/filepath"
	"testing"
)

func openTestTree(t *testing.T, pageSize int, dup bool) (*BTree, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	bt, err := Open(Config{Path: path, PageSize: pageSize, Duplicates: dup})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return bt, func() { bt.Close() }
}

func TestPutGetRoundTrip(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, false)
	defer cleanup()

	if err := bt.Put([]byte("foo"), []byte("bar"), InsertUnique); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, err := bt.Get([]byte("foo"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "bar" {
		t.Fatalf("got %q, want bar", val)
	}

	if _, err := bt.Get([]byte("missing")); err != ErrKeyNotFound {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestPutUniqueRejectsDuplicateKey(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, false)
	defer cleanup()

	if err := bt.Put([]byte("k"), []byte("v1"), InsertUnique); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bt.Put([]byte("k"), []byte("v2"), InsertUnique); err != ErrKeyExists {
		t.Fatalf("got %v, want ErrKeyExists", err)
	}
}

func TestReplaceOverwritesValue(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, false)
	defer cleanup()

	if err := bt.Put([]byte("k"), []byte("v1"), InsertUnique); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bt.Put([]byte("k"), []byte("v2"), Replace); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	val, err := bt.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "v2" {
		t.Fatalf("got %q, want v2", val)
	}
}

func TestKeyTooLarge(t *testing.T) {
	bt, cleanup := openTestTree(t, 512, false)
	defer cleanup()

	big := make([]byte, 400)
	err := bt.Put(big, []byte("v"), InsertUnique)
	if err == nil {
		t.Fatalf("expected KeyTooLarge error, got nil")
	}
}

func TestInsertDupRequiresDuplicatesEnabled(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, false)
	defer cleanup()

	if err := bt.Put([]byte("k"), []byte("v"), InsertDup); err == nil {
		t.Fatalf("expected error inserting dup on a non-dup database")
	}
}

// TestManyInsertsForceSplit inserts enough keys on a small page size to
// force multiple leaf and internal splits, then verifies every key is
// still reachable via Get.
func TestManyInsertsForceSplit(t *testing.T) {
	bt, cleanup := openTestTree(t, 512, false)
	defer cleanup()

	const n = 400
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("value-%05d", i))
		if err := bt.Put(key, val, InsertUnique); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("value-%05d", i)
		got, err := bt.Get(key)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, false)
	defer cleanup()

	if err := bt.Put([]byte("a"), []byte("1"), InsertUnique); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := bt.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := bt.Get([]byte("a")); err != ErrKeyNotFound {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
	if err := bt.Delete([]byte("a")); err != ErrKeyNotFound {
		t.Fatalf("double delete: got %v, want ErrKeyNotFound", err)
	}
}

// TestDeleteAllCollapsesAcrossSplits inserts enough keys to force splits,
// then deletes all of them and checks the tree ends up empty and the
// leaf chain still iterates cleanly (no dangling RightPtr/PrevPtr into a
// collapsed page).
func TestDeleteAllCollapsesAcrossSplits(t *testing.T) {
	bt, cleanup := openTestTree(t, 512, false)
	defer cleanup()

	const n = 200
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("k-%05d", i))
		if err := bt.Put(keys[i], []byte("v"), InsertUnique); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		if err := bt.Delete(keys[i]); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}

	cur, err := bt.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	defer cur.Close()
	if cur.Valid() {
		t.Fatalf("expected empty tree, found key %q", cur.Key())
	}
}

func TestDuplicateKeysPreserveInsertionOrder(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, true)
	defer cleanup()

	for i := 0; i < 5; i++ {
		val := []byte(fmt.Sprintf("v%d", i))
		if err := bt.Put([]byte("dup"), val, InsertDup); err != nil {
			t.Fatalf("Put dup %d: %v", i, err)
		}
	}

	cur, err := bt.Seek([]byte("dup"))
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	defer cur.Close()

	for i := 0; i < 5; i++ {
		if !cur.Valid() {
			t.Fatalf("expected 5 dup entries, cursor ran out at %d", i)
		}
		if string(cur.Key()) != "dup" {
			t.Fatalf("key = %q, want dup", cur.Key())
		}
		want := fmt.Sprintf("v%d", i)
		if string(cur.Value()) != want {
			t.Fatalf("entry %d = %q, want %q", i, cur.Value(), want)
		}
		if err := cur.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
}

func TestCursorForwardCoversAllKeysInOrder(t *testing.T) {
	bt, cleanup := openTestTree(t, 512, false)
	defer cleanup()

	const n = 150
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		if err := bt.Put(key, []byte("v"), InsertUnique); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	cur, err := bt.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	defer cur.Close()

	count := 0
	var prevKey string
	for cur.Valid() {
		k := string(cur.Key())
		if count > 0 && k <= prevKey {
			t.Fatalf("keys out of order: %q after %q", k, prevKey)
		}
		prevKey = k
		count++
		if err := cur.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != n {
		t.Fatalf("got %d keys, want %d", count, n)
	}
}

func TestCursorBackwardMatchesForwardReversed(t *testing.T) {
	bt, cleanup := openTestTree(t, 512, false)
	defer cleanup()

	const n = 150
	var forward []string
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k-%05d", i)
		forward = append(forward, key)
		if err := bt.Put([]byte(key), []byte("v"), InsertUnique); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	cur, err := bt.Last()
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	defer cur.Close()

	var backward []string
	for cur.Valid() {
		backward = append(backward, string(cur.Key()))
		if err := cur.Prev(); err != nil {
			t.Fatalf("Prev: %v", err)
		}
	}

	if len(backward) != len(forward) {
		t.Fatalf("got %d keys walking backward, want %d", len(backward), len(forward))
	}
	for i, k := range backward {
		want := forward[len(forward)-1-i]
		if k != want {
			t.Fatalf("backward[%d] = %q, want %q", i, k, want)
		}
	}
}

func TestSeekLandsOnOrAfterKey(t *testing.T) {
	bt, cleanup := openTestTree(t, DefaultPageSize, false)
	defer cleanup()

	for _, k := range []string{"b", "d", "f"} {
		if err := bt.Put([]byte(k), []byte(k), InsertUnique); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	cur, err := bt.Seek([]byte("c"))
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	defer cur.Close()
	if !cur.Valid() || string(cur.Key()) != "d" {
		t.Fatalf("Seek(c) landed on %q, want d", cur.Key())
	}

	cur2, err := bt.Seek([]byte("z"))
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	defer cur2.Close()
	if cur2.Valid() {
		t.Fatalf("Seek(z) should be past the end, got %q", cur2.Key())
	}
}

func TestReopenPreservesTreeAfterSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	bt, err := Open(Config{Path: path, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("p-%03d", i))
		if err := bt.Put(key, []byte("v"), InsertUnique); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := bt.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := bt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bt2, err := Open(Config{Path: path, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bt2.Close()

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("p-%03d", i))
		val, err := bt2.Get(key)
		if err != nil {
			t.Fatalf("Get after reopen(%d): %v", i, err)
		}
		if string(val) != "v" {
			t.Fatalf("Get after reopen(%d) = %q", i, val)
		}
	}
}
