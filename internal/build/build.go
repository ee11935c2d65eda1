// Package build implements the incremental coordinator of spec.md's
// component C8: it decides which files must be (re)parsed and which
// tag records must be removed, then executes that plan by driving
// internal/cparse over each file and flushing through internal/gtop
// and internal/gpath.
package build

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gtagsdb/gtags/internal/cparse"
	"github.com/gtagsdb/gtags/internal/gerr"
	"github.com/gtagsdb/gtags/internal/glog"
	"github.com/gtagsdb/gtags/internal/gpath"
	"github.com/gtagsdb/gtags/internal/gtop"
	"github.com/gtagsdb/gtags/internal/ptree"
)

// Loader reads one source file's bytes, keyed by the "./..." relative
// paths C5 produces. Both the top-level driver and #include pre-parsing
// share this one function.
type Loader func(path string) ([]byte, error)

// FileLoader is the ordinary Loader backed by the real filesystem,
// resolving path against root.
func FileLoader(root string) Loader {
	return func(path string) ([]byte, error) {
		abs := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(path, "./")))
		b, err := os.ReadFile(abs)
		if err != nil {
			return nil, gerr.Wrap(gerr.IOError, err, "build: read "+path)
		}
		return b, nil
	}
}

// Databases bundles the three persisted stores one build operates on,
// plus the on-disk paths of their main files (needed to stat/utime
// them directly, something neither gpath.Store nor gtop.Store exposes
// on its own).
type Databases struct {
	Path     *gpath.Store
	Defs     *gtop.Store
	Refs     *gtop.Store // nil when references are not tracked
	PathPath string
	DefsPath string
	RefsPath string
}

// Options configures a build or update run.
type Options struct {
	Root      string
	Loader    Loader
	Basket    *ptree.Basket // enables #include pre-parsing; nil disables it
	Parse     cparse.Options
	Parallel  int      // <=1: sequential; >1: errgroup with SetLimit(Parallel)
	OnlyPaths []string // restricts Incremental's classification to these paths (single-update mode)
}

var yaccExtensions = map[string]bool{".y": true, ".yacc": true}

func isYaccFile(path string) bool {
	return yaccExtensions[strings.ToLower(filepath.Ext(path))]
}

// Full implements spec §4.8's full build: every file in files is
// assigned/confirmed a fid and, if it is a source file, parsed and
// flushed. No existing records are consulted or deleted — the caller
// is expected to hand Full an empty or freshly created database
// directory (an existing one should go through Incremental instead).
func Full(ctx context.Context, dbs *Databases, files []ptree.File, opts Options) error {
	return parseAndFlush(ctx, dbs, files, opts)
}

// Incremental implements spec §4.8's incremental algorithm: classify
// every file in files against what C3 already knows, purge the tag
// records of anything deleted or modified, then (re)parse the
// add/modify set. files is the current enumeration to compare
// against — the whole tree for an ordinary incremental run, or a
// single entry (present or absent on disk) for single-update mode
// (opts.OnlyPaths restricts classification to that one path so the
// rest of the known tree is left untouched).
func Incremental(ctx context.Context, dbs *Databases, files []ptree.File, opts Options) error {
	baseline, err := statMtime(dbs.DefsPath)
	if err != nil {
		return gerr.Wrap(gerr.IOError, err, "build: stat baseline "+dbs.DefsPath)
	}

	known, err := knownPaths(dbs.Path)
	if err != nil {
		return err
	}

	var only map[string]bool
	if len(opts.OnlyPaths) > 0 {
		only = make(map[string]bool, len(opts.OnlyPaths))
		for _, p := range opts.OnlyPaths {
			only[p] = true
		}
	}

	cls, err := classify(known, files, baseline, opts.Root, only)
	if err != nil {
		return err
	}

	if len(cls.deleteFids) > 0 {
		if err := dbs.Defs.DeleteFidSet(cls.deleteFids); err != nil {
			return err
		}
		if dbs.Refs != nil {
			if err := dbs.Refs.DeleteFidSet(cls.deleteFids); err != nil {
				return err
			}
		}
	}
	for _, p := range cls.deletePaths {
		if err := dbs.Path.Delete(p); err != nil {
			return err
		}
	}

	if err := parseAndFlush(ctx, dbs, cls.addList, opts); err != nil {
		return err
	}

	// step 7: advance every tag file's mtime so the next incremental
	// run's baseline reflects this one, even if nothing changed.
	return touchTagFiles(dbs)
}

// classification is the outcome of spec §4.8 step 3: which files need
// a fresh parse (add ∪ modify, in files' enumeration order) and which
// fids/paths must be purged (modify ∪ delete, delete only).
type classification struct {
	addList     []ptree.File
	deleteFids  map[uint32]bool
	deletePaths []string
}

func classify(known map[string]uint32, files []ptree.File, baseline time.Time, root string, only map[string]bool) (*classification, error) {
	c := &classification{deleteFids: make(map[uint32]bool)}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		if only != nil && !only[f.Path] {
			continue
		}
		seen[f.Path] = true
		fid, isKnown := known[f.Path]
		if !isKnown {
			c.addList = append(c.addList, f)
			continue
		}
		mt, err := statMtime(filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(f.Path, "./"))))
		if err != nil {
			return nil, gerr.Wrap(gerr.IOError, err, "build: stat "+f.Path)
		}
		if mt.After(baseline) {
			c.addList = append(c.addList, f)
			c.deleteFids[fid] = true
		}
		// else: keep, no action.
	}

	for path, fid := range known {
		if only != nil && !only[path] {
			continue
		}
		if !seen[path] {
			c.deleteFids[fid] = true
			c.deletePaths = append(c.deletePaths, path)
		}
	}
	sort.Strings(c.deletePaths)
	return c, nil
}

// knownPaths enumerates every path C3 currently has a live fid for.
func knownPaths(store *gpath.Store) (map[string]uint32, error) {
	fids, err := store.LiveFids()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint32, len(fids))
	for _, fid := range fids {
		path, _, err := store.FidToPath(fid)
		if err != nil {
			return nil, err
		}
		out[path] = fid
	}
	return out, nil
}

func statMtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func touchTagFiles(dbs *Databases) error {
	now := time.Now()
	for _, p := range []string{dbs.PathPath, dbs.DefsPath, dbs.RefsPath} {
		if p == "" {
			continue
		}
		if err := os.Chtimes(p, now, now); err != nil {
			return gerr.Wrap(gerr.IOError, err, "build: utime "+p)
		}
	}
	return nil
}

// parseAndFlush assigns/confirms a fid for each file and, for source
// files, drives C7 and flushes C4. Other-tracked files only touch C3
// (spec §4.8: "Other-file handling ... no C4 activity"). When
// opts.Parallel > 1 files are processed by a bounded worker pool
// (spec §5); record emission order within one file is still exactly
// the order cparse produced it, since each worker owns one file
// start-to-finish.
func parseAndFlush(ctx context.Context, dbs *Databases, files []ptree.File, opts Options) error {
	if opts.Parallel > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallel)
		for _, f := range files {
			f := f
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return parseOneFile(dbs, f, opts)
			})
		}
		return g.Wait()
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := parseOneFile(dbs, f, opts); err != nil {
			return err
		}
	}
	return nil
}

// parseOneFile implements one iteration of spec §4.8 steps "assign a
// fid ... drive C6/C7 ... flushing per file" for a single file, in
// isolation so a bad file's partial records roll back without
// touching any other file (spec §7's propagation policy for C5/C6/C7).
func parseOneFile(dbs *Databases, f ptree.File, opts Options) error {
	fid, err := dbs.Path.Put(f.Path, f.Kind)
	if err != nil {
		return err
	}
	if f.Kind != gpath.KindSource {
		return nil
	}

	src, err := opts.Loader(f.Path)
	if err != nil {
		glog.With("path", f.Path).Warn("skipping unreadable file: " + err.Error())
		return nil
	}
	lines := splitLines(src)

	parseOpts := opts.Parse
	parseOpts.Yacc = isYaccFile(f.Path)
	if opts.Basket != nil {
		parseOpts.Resolver = ptree.NewIncludeTracker(opts.Basket)
		parseOpts.Loader = cparse.Loader(opts.Loader)
	}

	emit := func(e cparse.Event) {
		image := lineImage(lines, e.Line)
		switch e.Kind {
		case cparse.DEF:
			if perr := dbs.Defs.Put(e.Name, e.Line, fid, image); perr != nil {
				glog.With("path", f.Path).Warn("dropping DEF: " + perr.Error())
			}
		case cparse.REF:
			if dbs.Refs == nil {
				return
			}
			if perr := dbs.Refs.Put(e.Name, e.Line, fid, image); perr != nil {
				glog.With("path", f.Path).Warn("dropping REF: " + perr.Error())
			}
		}
	}

	parser := cparse.New(parseOpts, emit)
	parser.ParseFile(f.Path, fid, src)

	if err := dbs.Defs.Flush(fid); err != nil {
		return err
	}
	if dbs.Refs != nil {
		if err := dbs.Refs.Flush(fid); err != nil {
			return err
		}
	}
	return nil
}

func splitLines(src []byte) [][]byte {
	return splitOn(src, '\n')
}

func splitOn(src []byte, sep byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range src {
		if b == sep {
			out = append(out, src[start:i])
			start = i + 1
		}
	}
	out = append(out, src[start:])
	return out
}

func lineImage(lines [][]byte, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	img := lines[line-1]
	img = []byte(strings.TrimSuffix(string(img), "\r"))
	return string(img)
}
