// Package gpath implements the path inventory of spec.md's component C3:
// a bidirectional map between normalized source-file paths and compact
// numeric file identifiers (fids), layered on one internal/btree store
// the same way internal/gtop layers the tag databases on another —
// GNU Global's own PATH database is just another DBOP-backed table, not
// a distinct storage engine, so C3 gets no engine of its own here either.
package gpath

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/gtagsdb/gtags/internal/btree"
	"github.com/gtagsdb/gtags/internal/gerr"
)

// Kind flags whether a path was accepted as a parseable source file or
// merely recorded as "other" (spec §4.5 rule 8).
type Kind byte

const (
	KindSource Kind = 's'
	KindOther  Kind = 'o'
)

// nextKeyRecord is the distinguished entry holding the next fid to
// assign (spec §3: "one distinguished entry _NEXTKEY_ → next-fid").
// It can never collide with a real forward key since those always
// begin with "./".
const nextKeyRecord = "_NEXTKEY_"

// Config configures a Store.
type Config struct {
	Path           string
	PageSize       int
	MaxCachedPages int

	// CaseInsensitive folds path keys to a canonical case before
	// lookup/storage, mirroring how the original file path is still
	// returned on FidToPath. Defaults by runtime.GOOS when unset via
	// NewDefaultConfig.
	CaseInsensitive bool
}

// NewDefaultConfig fills CaseInsensitive the way the host OS's
// filesystem normally behaves; callers may still override it.
func NewDefaultConfig(path string) Config {
	return Config{
		Path:            path,
		CaseInsensitive: runtime.GOOS == "windows" || runtime.GOOS == "darwin",
	}
}

// Store is the path inventory (spec §4.3).
type Store struct {
	bt   *btree.BTree
	fold bool
}

// Open creates or reopens a path inventory at cfg.Path.
func Open(cfg Config) (*Store, error) {
	bt, err := btree.Open(btree.Config{
		Path:           cfg.Path,
		PageSize:       cfg.PageSize,
		MaxCachedPages: cfg.MaxCachedPages,
		Duplicates:     false,
	})
	if err != nil {
		return nil, err
	}
	s := &Store{bt: bt, fold: cfg.CaseInsensitive}

	if _, err := s.bt.Get([]byte(nextKeyRecord)); err == btree.ErrKeyNotFound {
		if err := s.saveNextKey(1); err != nil {
			bt.Close()
			return nil, err
		}
	} else if err != nil {
		bt.Close()
		return nil, err
	}
	return s, nil
}

// Sync flushes the underlying index.
func (s *Store) Sync() error { return s.bt.Sync() }

// Close releases the underlying index.
func (s *Store) Close() error { return s.bt.Close() }

// normalize canonicalizes path to the "./"-prefixed, forward-slash
// form PATH keys are stored under (spec §3).
func normalize(path string, fold bool) string {
	p := toSlash(path)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	if fold {
		p = strings.ToLower(p)
	}
	return "./" + p
}

// toSlash avoids importing path/filepath just for one call; gtags
// paths are always relative and already forward-slash on every
// platform except the backslash form Windows callers might pass in.
func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func forwardKey(path string, fold bool) []byte {
	return []byte(normalize(path, fold))
}

func reverseKey(fid uint32) []byte {
	return []byte(strconv.FormatUint(uint64(fid), 10))
}

func packForward(fid uint32, kind Kind) []byte {
	buf := make([]byte, 0, 1+10)
	buf = append(buf, byte(kind))
	buf = append(buf, strconv.FormatUint(uint64(fid), 10)...)
	return buf
}

func unpackForward(v []byte) (uint32, Kind, error) {
	if len(v) < 2 {
		return 0, 0, gerr.New(gerr.CorruptDatabase, "gpath: truncated forward record")
	}
	fid, err := strconv.ParseUint(string(v[1:]), 10, 32)
	if err != nil {
		return 0, 0, gerr.Wrap(gerr.CorruptDatabase, err, "gpath: bad fid in forward record")
	}
	return uint32(fid), Kind(v[0]), nil
}

func packReverse(path string, kind Kind) []byte {
	buf := make([]byte, 0, 1+len(path))
	buf = append(buf, byte(kind))
	buf = append(buf, path...)
	return buf
}

func unpackReverse(v []byte) (string, Kind, error) {
	if len(v) < 1 {
		return "", 0, gerr.New(gerr.CorruptDatabase, "gpath: truncated reverse record")
	}
	return string(v[1:]), Kind(v[0]), nil
}

func (s *Store) saveNextKey(n uint32) error {
	return s.bt.Put([]byte(nextKeyRecord), []byte(strconv.FormatUint(uint64(n), 10)), btree.Replace)
}

// NextKey returns the next fid that would be assigned by Put.
func (s *Store) NextKey() (uint32, error) {
	v, err := s.bt.Get([]byte(nextKeyRecord))
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(v), 10, 32)
	if err != nil {
		return 0, gerr.Wrap(gerr.CorruptDatabase, err, "gpath: bad _NEXTKEY_ value")
	}
	return uint32(n), nil
}

// Put inserts path with the given kind, assigning it a new fid. If the
// path is already present it is a no-op and the existing fid is
// returned unchanged (spec §4.3: "put(path, kind) inserts or (if
// already present) is a no-op").
func (s *Store) Put(path string, kind Kind) (uint32, error) {
	fk := forwardKey(path, s.fold)

	if v, err := s.bt.Get(fk); err == nil {
		fid, _, uerr := unpackForward(v)
		if uerr != nil {
			return 0, uerr
		}
		return fid, nil
	} else if err != btree.ErrKeyNotFound {
		return 0, err
	}

	fid, err := s.NextKey()
	if err != nil {
		return 0, err
	}

	if err := s.bt.Put(fk, packForward(fid, kind), btree.InsertUnique); err != nil {
		return 0, err
	}
	if err := s.bt.Put(reverseKey(fid), packReverse(normalize(path, false), kind), btree.InsertUnique); err != nil {
		return 0, err
	}
	if err := s.saveNextKey(fid + 1); err != nil {
		return 0, err
	}
	return fid, nil
}

// Delete removes both directions of path's record, leaving its fid
// permanently unassigned (spec §3: "its fid is not reused").
func (s *Store) Delete(path string) error {
	fk := forwardKey(path, s.fold)
	v, err := s.bt.Get(fk)
	if err != nil {
		return err
	}
	fid, _, err := unpackForward(v)
	if err != nil {
		return err
	}
	if err := s.bt.Delete(fk); err != nil {
		return err
	}
	return s.bt.Delete(reverseKey(fid))
}

// PathToFid resolves path to its fid and kind.
func (s *Store) PathToFid(path string) (uint32, Kind, error) {
	v, err := s.bt.Get(forwardKey(path, s.fold))
	if err != nil {
		return 0, 0, err
	}
	return unpackForward(v)
}

// FidToPath resolves fid back to its normalized path and kind.
func (s *Store) FidToPath(fid uint32) (string, Kind, error) {
	v, err := s.bt.Get(reverseKey(fid))
	if err != nil {
		return "", 0, err
	}
	return unpackReverse(v)
}

// Exists reports whether fid currently has a live (non-hole) record.
func (s *Store) Exists(fid uint32) bool {
	_, _, err := s.FidToPath(fid)
	return err == nil
}

// LiveFids enumerates every currently-assigned, non-tombstoned fid in
// ascending order (spec §3: "recoverable by scanning integer-keyed
// entries 1..next-1 and filtering out holes").
func (s *Store) LiveFids() ([]uint32, error) {
	next, err := s.NextKey()
	if err != nil {
		return nil, err
	}
	var live []uint32
	for fid := uint32(1); fid < next; fid++ {
		if s.Exists(fid) {
			live = append(live, fid)
		}
	}
	return live, nil
}
