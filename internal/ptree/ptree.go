// Package ptree implements the path tree and discovery component of
// spec.md (C5): a recursive filesystem walk that applies the
// spec-ordered rejection rules, classifies each accepted file as
// source or other, and builds the filename basket C7 consults to
// resolve #include directives.
package ptree

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gtagsdb/gtags/internal/gerr"
	"github.com/gtagsdb/gtags/internal/gpath"
)

// sourceExtensions is the known C-family extension table (spec §4.5
// rule 8: "not a known source extension -> inserted into PATH as
// other").
var sourceExtensions = map[string]bool{
	".c": true, ".h": true,
	".cc": true, ".cpp": true, ".cxx": true, ".c++": true,
	".hh": true, ".hpp": true, ".hxx": true, ".h++": true,
	".y": true, ".yacc": true, ".l": true, ".lex": true,
}

// SkipSymlinkPolicy selects which symlinked entries rule 6 rejects.
type SkipSymlinkPolicy string

const (
	SkipSymlinkNone SkipSymlinkPolicy = ""
	SkipSymlinkFile SkipSymlinkPolicy = "f"
	SkipSymlinkDir  SkipSymlinkPolicy = "d"
	SkipSymlinkAll  SkipSymlinkPolicy = "a"
)

// Options configures a walk.
type Options struct {
	Root            string
	AcceptDotfiles  bool
	SkipList        []string // doublestar glob patterns, matched against the path relative to Root
	SkipSymlink     SkipSymlinkPolicy
	SkipUnreadable  bool // true: skip with a warning; false: the walk fails outright
	AllowBlank      bool // false: paths containing a space are rejected
}

// File is one accepted filesystem entry.
type File struct {
	Path string // normalized, "./"-prefixed, relative to Root
	Kind gpath.Kind
}

// Result is the outcome of a full Discover walk.
type Result struct {
	Files    []File
	Basket   *Basket
	Warnings []error // non-fatal rejections worth surfacing (skip-unreadable, etc)
}

// Discover walks opts.Root applying spec §4.5's rejection rules in
// order and returns every accepted file plus the filename basket.
func Discover(opts Options) (*Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "ptree: resolve root")
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "ptree: resolve root symlinks")
	}

	res := &Result{Basket: newBasket()}
	walker := &walker{opts: opts, root: root, realRoot: realRoot, res: res, seenReal: make(map[string]string)}
	if err := walker.walk(root, ""); err != nil {
		return nil, err
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	return res, nil
}

type walker struct {
	opts     Options
	root     string
	realRoot string
	res      *Result

	// seenReal maps a file's resolved realpath to the first logical
	// path discovered for it. Two distinct paths (typically a symlink
	// and its target, or two symlinks sharing a target) can resolve to
	// the same realpath; spec §9's last Open Question is that only the
	// first one encountered is kept; the rest are dropped with a
	// warning rather than parsed a second time under a different fid.
	seenReal map[string]string
}

// walk visits dir (an absolute path), relPath is dir's path relative
// to root ("" at the root itself).
func (w *walker) walk(dir, relPath string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if w.opts.SkipUnreadable {
			w.warn(gerr.Wrap(gerr.IOError, err, "ptree: unreadable directory "+dir))
			return nil
		}
		return gerr.Wrap(gerr.IOError, err, "ptree: read directory "+dir)
	}

	for _, entry := range entries {
		name := entry.Name()
		childRel := name
		if relPath != "" {
			childRel = relPath + "/" + name
		}
		childAbs := filepath.Join(dir, name)

		accept, isDir, err := w.evaluate(childAbs, childRel, entry)
		if err != nil {
			return err
		}
		if !accept {
			continue
		}

		if isDir {
			if err := w.walk(childAbs, childRel); err != nil {
				return err
			}
			continue
		}

		path := "./" + childRel

		real, err := filepath.EvalSymlinks(childAbs)
		if err != nil {
			if w.opts.SkipUnreadable {
				w.warn(gerr.Wrap(gerr.IOError, err, "ptree: resolve realpath "+childAbs))
				continue
			}
			return gerr.Wrap(gerr.IOError, err, "ptree: resolve realpath "+childAbs)
		}
		if first, dup := w.seenReal[real]; dup {
			w.warn(gerr.Newf(gerr.ParseWarning, "ptree: %s shares a realpath with %s, parsing only the first", path, first))
			continue
		}
		w.seenReal[real] = path

		kind := gpath.KindOther
		if sourceExtensions[strings.ToLower(filepath.Ext(name))] {
			kind = gpath.KindSource
		}
		w.res.Files = append(w.res.Files, File{Path: path, Kind: kind})
		w.res.Basket.add(name, path)
	}
	return nil
}

func (w *walker) warn(err error) {
	w.res.Warnings = append(w.res.Warnings, err)
}

// evaluate applies spec §4.5's 8 rejection rules to one directory
// entry, returning (accept, isDir, error). The rules run in number
// order except rule 6 (skip-symlink policy): it is checked inside the
// symlink branch right after rule 4, so it runs before rule 5
// (unreadable entries). Rule 8 (known
// source extension) is applied by the caller once accept is true,
// since it only decides the Kind of an already-accepted file.
func (w *walker) evaluate(abs, rel string, entry os.DirEntry) (accept bool, isDir bool, err error) {
	name := entry.Name()

	// Rule 1: dotfiles.
	if !w.opts.AcceptDotfiles && strings.HasPrefix(name, ".") {
		return false, false, nil
	}

	// Rule 2: configured skip list.
	for _, pattern := range w.opts.SkipList {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false, false, nil
		}
	}

	info, statErr := entry.Info()
	if statErr != nil {
		if w.opts.SkipUnreadable {
			w.warn(gerr.Wrap(gerr.IOError, statErr, "ptree: stat "+abs))
			return false, false, nil
		}
		return false, false, gerr.Wrap(gerr.IOError, statErr, "ptree: stat "+abs)
	}

	// Rule 3: device/socket/fifo special files.
	if isSpecialFile(info.Mode()) {
		return false, false, nil
	}

	isSymlink := info.Mode()&os.ModeSymlink != 0
	resolvedIsDir := info.IsDir()

	if isSymlink {
		target, evalErr := filepath.EvalSymlinks(abs)
		if evalErr != nil {
			if w.opts.SkipUnreadable {
				w.warn(gerr.Wrap(gerr.IOError, evalErr, "ptree: resolve symlink "+abs))
				return false, false, nil
			}
			return false, false, gerr.Wrap(gerr.IOError, evalErr, "ptree: resolve symlink "+abs)
		}
		targetInfo, statErr := os.Stat(target)
		if statErr == nil {
			resolvedIsDir = targetInfo.IsDir()
		}

		// Rule 4: a symlinked directory escaping the real root.
		if resolvedIsDir && !withinRoot(w.realRoot, target) {
			return false, false, nil
		}

		// Rule 6: skip-symlink policy.
		switch w.opts.SkipSymlink {
		case SkipSymlinkAll:
			return false, false, nil
		case SkipSymlinkDir:
			if resolvedIsDir {
				return false, false, nil
			}
		case SkipSymlinkFile:
			if !resolvedIsDir {
				return false, false, nil
			}
		}
	}

	// Rule 5: unreadable entries.
	if !isAccessible(abs, resolvedIsDir) {
		if w.opts.SkipUnreadable {
			w.warn(gerr.New(gerr.IOError, "ptree: unreadable "+abs))
			return false, false, nil
		}
		return false, false, gerr.New(gerr.IOError, "ptree: unreadable "+abs)
	}

	// Rule 7: blank (space-containing) names.
	if !w.opts.AllowBlank && strings.Contains(name, " ") {
		return false, false, nil
	}

	return true, resolvedIsDir, nil
}

func isSpecialFile(mode fs.FileMode) bool {
	return mode&(os.ModeSocket|os.ModeNamedPipe|os.ModeDevice|os.ModeCharDevice) != 0
}

func isAccessible(path string, isDir bool) bool {
	if isDir {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		f.Close()
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// withinRoot reports whether target lies at or beneath root.
func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
