// Package gtop implements the tag store of spec.md's component C4: the
// bridge between the parser's definition/reference event stream and
// the ordered key/value index, in both the standard and "compact"
// on-disk encodings (spec §3, §4.4).
//
// Where GNU Global itself leans on its index's native duplicate-key
// support to hold one name's many occurrences, gtop instead folds fid
// and line into the physical key (name\x00fid\x00line) so every record
// is independently addressable by an exact key. That keeps delete(fid
// -set) — the operation spec §4.4 cares most about getting right — a
// plain collect-then-delete sweep instead of requiring the index to
// support "delete this one specific duplicate slot", which
// internal/btree does not expose. The logical model spec.md describes
// (many occurrences per name) is unchanged; only the physical key
// layout differs. See DESIGN.md.
package gtop

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gtagsdb/gtags/internal/btree"
	"github.com/gtagsdb/gtags/internal/gerr"
)

// Which selects DEFS or REFS; both are gtop.Store instances over
// different files within the same database directory.
type Which int

const (
	DEFS Which = iota
	REFS
)

// Format selects the on-disk tag encoding (spec §3's _FORMAT_ header).
type Format int

const (
	FormatStandard Format = 0
	FormatCompact  Format = 1
)

type Mode int

const (
	Create Mode = iota
	Modify
)

// dbVersion is written to _VERSION_ at create time; a mismatch at
// modify time is always fatal (spec §7: VersionMismatch, never
// silently migrated).
const dbVersion = 1

const (
	headerVersion  = "_VERSION_"
	headerFormat   = "_FORMAT_"
	headerCompName = "_COMPNAME_"
	headerCompLine = "_COMPLINE_"
)

// Config configures an open Store.
type Config struct {
	Path           string // main tag-database file
	SidecarPath    string // line-image sidecar; required when Compact is set
	PageSize       int
	MaxCachedPages int
	Mode           Mode
	Compact        bool
	ExtractMethod  bool
	CompressName   bool // _COMPNAME_: reserved for a future name-compression codec
	CompressLine   bool // _COMPLINE_: reserved for a future line-image codec
}

// Record is one logical definition or reference occurrence.
type Record struct {
	Name  string
	Line  int
	Fid   uint32
	Image string
}

// Store is one open DEFS or REFS database (spec §4.4).
type Store struct {
	bt      *btree.BTree
	sidecar *btree.BTree // compact mode only

	format        Format
	extractMethod bool
	compName      bool
	compLine      bool

	mu  sync.Mutex // spec §5: "mutex on C4" — a flush is the only atomic unit
	buf map[uint32][]Record
}

// Open creates or reopens a tag database (spec §4.4's open).
func Open(cfg Config) (*Store, error) {
	bt, err := btree.Open(btree.Config{
		Path:           cfg.Path,
		PageSize:       cfg.PageSize,
		MaxCachedPages: cfg.MaxCachedPages,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		bt:            bt,
		extractMethod: cfg.ExtractMethod,
		buf:           make(map[uint32][]Record),
	}

	if cfg.Compact {
		if cfg.SidecarPath == "" {
			bt.Close()
			return nil, gerr.New(gerr.UsageError, "gtop: compact mode requires SidecarPath")
		}
		sidecar, err := btree.Open(btree.Config{
			Path:           cfg.SidecarPath,
			PageSize:       cfg.PageSize,
			MaxCachedPages: cfg.MaxCachedPages,
		})
		if err != nil {
			bt.Close()
			return nil, err
		}
		s.sidecar = sidecar
	}

	switch cfg.Mode {
	case Create:
		s.format = FormatStandard
		if cfg.Compact {
			s.format = FormatCompact
		}
		s.compName = cfg.CompressName
		s.compLine = cfg.CompressLine
		if err := s.writeHeaders(); err != nil {
			s.Close()
			return nil, err
		}
	case Modify:
		if err := s.loadAndValidateHeaders(cfg.Compact); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) writeHeaders() error {
	if err := s.bt.Put([]byte(headerVersion), []byte(strconv.Itoa(dbVersion)), btree.Replace); err != nil {
		return err
	}
	if err := s.bt.Put([]byte(headerFormat), []byte(strconv.Itoa(int(s.format))), btree.Replace); err != nil {
		return err
	}
	if err := s.bt.Put([]byte(headerCompName), boolBytes(s.compName), btree.Replace); err != nil {
		return err
	}
	return s.bt.Put([]byte(headerCompLine), boolBytes(s.compLine), btree.Replace)
}

func (s *Store) loadAndValidateHeaders(wantCompact bool) error {
	v, err := s.bt.Get([]byte(headerVersion))
	if err != nil {
		return gerr.Wrap(gerr.VersionMismatch, err, "gtop: missing _VERSION_ header")
	}
	ver, err := strconv.Atoi(string(v))
	if err != nil || ver != dbVersion {
		return gerr.New(gerr.VersionMismatch, "gtop: _VERSION_ mismatch")
	}

	f, err := s.bt.Get([]byte(headerFormat))
	if err != nil {
		return gerr.Wrap(gerr.VersionMismatch, err, "gtop: missing _FORMAT_ header")
	}
	format, err := strconv.Atoi(string(f))
	if err != nil {
		return gerr.New(gerr.CorruptDatabase, "gtop: bad _FORMAT_ header")
	}
	s.format = Format(format)
	if (s.format == FormatCompact) != wantCompact {
		return gerr.New(gerr.VersionMismatch, "gtop: compact-mode flag does not match on-disk _FORMAT_")
	}

	if cn, err := s.bt.Get([]byte(headerCompName)); err == nil {
		s.compName = boolFromBytes(cn)
	}
	if cl, err := s.bt.Get([]byte(headerCompLine)); err == nil {
		s.compLine = boolFromBytes(cl)
	}
	return nil
}

func boolBytes(b bool) []byte {
	if b {
		return []byte{'1'}
	}
	return []byte{'0'}
}

func boolFromBytes(b []byte) bool { return len(b) > 0 && b[0] == '1' }

// Sync flushes the underlying index (and sidecar, if any).
func (s *Store) Sync() error {
	if err := s.bt.Sync(); err != nil {
		return err
	}
	if s.sidecar != nil {
		return s.sidecar.Sync()
	}
	return nil
}

// Close releases the underlying index handles.
func (s *Store) Close() error {
	err := s.bt.Close()
	if s.sidecar != nil {
		if serr := s.sidecar.Close(); err == nil {
			err = serr
		}
	}
	return err
}

// standardKey and compactKey give each occurrence an independently
// addressable, collision-free physical key (see package doc).
func standardKey(name string, fid uint32, line int) []byte {
	return []byte(fmt.Sprintf("%s\x00%010d\x00%010d", name, fid, line))
}

func standardValue(name string, line int, fid uint32, image string) []byte {
	return []byte(fmt.Sprintf("%s %d %d %s", name, line, fid, image))
}

func compactKey(name string, fid uint32) []byte {
	return []byte(fmt.Sprintf("%s@%d", name, fid))
}

func sidecarKey(fid uint32, line int) []byte {
	return []byte(fmt.Sprintf("%010d:%010d", fid, line))
}

// Put buffers one occurrence for fid (spec §4.4's put). Standard mode
// writes through immediately ("the buffer flushes every record");
// compact mode accumulates until Flush(fid) to allow line-run merging.
func (s *Store) Put(name string, line int, fid uint32, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(name, line, fid, image, true)
}

func (s *Store) put(name string, line int, fid uint32, image string, allowExtract bool) error {
	if s.format == FormatStandard {
		if err := s.bt.Put(standardKey(name, fid, line), standardValue(name, line, fid, image), btree.Replace); err != nil {
			return err
		}
	} else {
		s.buf[fid] = append(s.buf[fid], Record{Name: name, Line: line, Fid: fid, Image: image})
	}

	if allowExtract && s.extractMethod {
		if idx := strings.Index(name, "::"); idx >= 0 {
			method := name[idx+2:]
			if method != "" {
				if err := s.put(method, line, fid, image, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Flush writes fid's buffered records atomically: either every
// insertion succeeds or every record this call wrote (main store and
// sidecar) is rolled back (spec §4.4). A no-op in standard mode, which
// has nothing buffered to flush.
func (s *Store) Flush(fid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == FormatStandard {
		return nil
	}

	records := s.buf[fid]
	delete(s.buf, fid)
	if len(records) == 0 {
		return nil
	}

	byName := make(map[string][]Record)
	var names []string
	for _, r := range records {
		if _, ok := byName[r.Name]; !ok {
			names = append(names, r.Name)
		}
		byName[r.Name] = append(byName[r.Name], r)
	}
	sort.Strings(names)

	var writtenKeys [][]byte
	var writtenStores []*btree.BTree
	rollback := func() {
		for i := len(writtenKeys) - 1; i >= 0; i-- {
			writtenStores[i].Delete(writtenKeys[i])
		}
	}

	for _, name := range names {
		recs := byName[name]
		lineSet := make(map[int]string)
		for _, r := range recs {
			lineSet[r.Line] = r.Image
		}
		lines := make([]int, 0, len(lineSet))
		for l := range lineSet {
			lines = append(lines, l)
		}
		sort.Ints(lines)

		mainKey := compactKey(name, fid)
		mainValue := []byte(fmt.Sprintf("%s %s %d", name, EncodeRunList(lines), fid))
		if err := s.bt.Put(mainKey, mainValue, btree.Replace); err != nil {
			rollback()
			return err
		}
		writtenKeys = append(writtenKeys, mainKey)
		writtenStores = append(writtenStores, s.bt)

		for _, line := range lines {
			sk := sidecarKey(fid, line)
			if err := s.sidecar.Put(sk, []byte(lineSet[line]), btree.Replace); err != nil {
				rollback()
				return err
			}
			writtenKeys = append(writtenKeys, sk)
			writtenStores = append(writtenStores, s.sidecar)
		}
	}
	return nil
}

// parseFid extracts the fid a stored record belongs to, from either
// encoding, without needing to re-parse the whole value.
func (s *Store) parseFid(key, value []byte) (uint32, error) {
	if s.format == FormatStandard {
		fields := strings.SplitN(string(value), " ", 4)
		if len(fields) < 3 {
			return 0, gerr.New(gerr.CorruptDatabase, "gtop: malformed standard record")
		}
		fid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return 0, gerr.Wrap(gerr.CorruptDatabase, err, "gtop: bad fid in standard record")
		}
		return uint32(fid), nil
	}
	at := strings.LastIndexByte(string(key), '@')
	if at < 0 {
		return 0, gerr.New(gerr.CorruptDatabase, "gtop: malformed compact key")
	}
	fid, err := strconv.ParseUint(string(key[at+1:]), 10, 32)
	if err != nil {
		return 0, gerr.Wrap(gerr.CorruptDatabase, err, "gtop: bad fid in compact key")
	}
	return uint32(fid), nil
}

// isHeaderKey reports whether key names one of the persisted headers,
// which delete(fid-set)'s full-table sweep must never touch.
func isHeaderKey(key []byte) bool {
	switch string(key) {
	case headerVersion, headerFormat, headerCompName, headerCompLine:
		return true
	}
	return false
}

// DeleteFidSet removes every record belonging to any fid in fids, in
// one cursor pass over the main store plus, in compact mode, one
// prefix scan of the sidecar per fid (spec §4.4's delete(fid-set):
// "one pass over the ordered index; O(records-total)").
func (s *Store) DeleteFidSet(fids map[uint32]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(fids) == 0 {
		return nil
	}

	var toDelete [][]byte
	cur, err := s.bt.First()
	if err != nil {
		return err
	}
	for cur.Valid() {
		key := append([]byte(nil), cur.Key()...)
		if !isHeaderKey(key) {
			fid, err := s.parseFid(key, cur.Value())
			if err != nil {
				cur.Close()
				return err
			}
			if fids[fid] {
				toDelete = append(toDelete, key)
			}
		}
		if err := cur.Next(); err != nil {
			cur.Close()
			return err
		}
	}
	cur.Close()

	for _, k := range toDelete {
		if err := s.bt.Delete(k); err != nil && err != btree.ErrKeyNotFound {
			return err
		}
	}

	if s.sidecar != nil {
		for fid := range fids {
			if err := s.deleteSidecarFid(fid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) deleteSidecarFid(fid uint32) error {
	prefix := fmt.Sprintf("%010d:", fid)
	cur, err := s.sidecar.Seek([]byte(prefix))
	if err != nil {
		return err
	}
	var keys [][]byte
	for cur.Valid() && strings.HasPrefix(string(cur.Key()), prefix) {
		keys = append(keys, append([]byte(nil), cur.Key()...))
		if err := cur.Next(); err != nil {
			cur.Close()
			return err
		}
	}
	cur.Close()
	for _, k := range keys {
		if err := s.sidecar.Delete(k); err != nil && err != btree.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

// Lookup returns every occurrence of name, in fid/line order. In the
// compact format the fid part of the key is plain decimal text, so
// fids compare as text there (fid 10 comes before fid 9).
func (s *Store) Lookup(name string) ([]Record, error) {
	if s.format == FormatStandard {
		return s.lookupStandard(name)
	}
	return s.lookupCompact(name)
}

func (s *Store) lookupStandard(name string) ([]Record, error) {
	prefix := name + "\x00"
	cur, err := s.bt.Seek([]byte(prefix))
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []Record
	for cur.Valid() && strings.HasPrefix(string(cur.Key()), prefix) {
		fields := strings.SplitN(string(cur.Value()), " ", 4)
		if len(fields) < 4 {
			return nil, gerr.New(gerr.CorruptDatabase, "gtop: malformed standard record")
		}
		line, _ := strconv.Atoi(fields[1])
		fid, _ := strconv.ParseUint(fields[2], 10, 32)
		out = append(out, Record{Name: fields[0], Line: line, Fid: uint32(fid), Image: fields[3]})
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) lookupCompact(name string) ([]Record, error) {
	prefix := name + "@"
	cur, err := s.bt.Seek([]byte(prefix))
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []Record
	for cur.Valid() && strings.HasPrefix(string(cur.Key()), prefix) {
		fields := strings.SplitN(string(cur.Value()), " ", 3)
		if len(fields) < 3 {
			return nil, gerr.New(gerr.CorruptDatabase, "gtop: malformed compact record")
		}
		fid, _ := strconv.ParseUint(fields[2], 10, 32)
		lines, err := DecodeRunList(fields[1])
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			image := ""
			if s.sidecar != nil {
				if v, err := s.sidecar.Get(sidecarKey(uint32(fid), line)); err == nil {
					image = string(v)
				}
			}
			out = append(out, Record{Name: fields[0], Line: line, Fid: uint32(fid), Image: image})
		}
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// All returns every record in the database, in physical key order.
// For the standard format that is name, then fid, then line (spec
// §6's dump order). Compact keys are "name@fid" with a plain decimal
// fid, so they follow the byte order of that text instead: fid 10
// sorts before fid 9, and "a1@..." before "a@...". Used by the
// -d/-r dump path, which has no single name to Lookup against.
func (s *Store) All() ([]Record, error) {
	cur, err := s.bt.First()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []Record
	for cur.Valid() {
		if !isHeaderKey(cur.Key()) {
			rec, err := s.decodeRecord(cur.Key(), cur.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, rec...)
		}
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeRecord turns one physical btree entry into its logical
// Record(s): exactly one for the standard format, one per run-length
// decoded line in compact format (mirroring lookupStandard/lookupCompact's
// per-key decoding, but without the name-prefix filter).
func (s *Store) decodeRecord(key, value []byte) ([]Record, error) {
	if s.format == FormatStandard {
		fields := strings.SplitN(string(value), " ", 4)
		if len(fields) < 4 {
			return nil, gerr.New(gerr.CorruptDatabase, "gtop: malformed standard record")
		}
		line, _ := strconv.Atoi(fields[1])
		fid, _ := strconv.ParseUint(fields[2], 10, 32)
		return []Record{{Name: fields[0], Line: line, Fid: uint32(fid), Image: fields[3]}}, nil
	}

	fields := strings.SplitN(string(value), " ", 3)
	if len(fields) < 3 {
		return nil, gerr.New(gerr.CorruptDatabase, "gtop: malformed compact record")
	}
	fid, _ := strconv.ParseUint(fields[2], 10, 32)
	lines, err := DecodeRunList(fields[1])
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, line := range lines {
		image := ""
		if s.sidecar != nil {
			if v, err := s.sidecar.Get(sidecarKey(uint32(fid), line)); err == nil {
				image = string(v)
			}
		}
		out = append(out, Record{Name: fields[0], Line: line, Fid: uint32(fid), Image: image})
	}
	return out, nil
}
