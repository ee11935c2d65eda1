// Package gtags is the public facade over the tagging system's
// storage components: it assembles C3 (internal/gpath), C4
// (internal/gtop), C5 (internal/ptree) and the C8 coordinator
// (internal/build) into the two operations a driver actually needs,
// Build and Update, plus Dump for reading tags back out.
package gtags

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gtagsdb/gtags/internal/build"
	"github.com/gtagsdb/gtags/internal/cparse"
	"github.com/gtagsdb/gtags/internal/gerr"
	"github.com/gtagsdb/gtags/internal/gpath"
	"github.com/gtagsdb/gtags/internal/gtop"
	"github.com/gtagsdb/gtags/internal/ptree"
)

const (
	pathFile = "GPATH"
	defsFile = "GTAGS"
	refsFile = "GRTAGS"
)

// Config mirrors the driver-visible knobs of spec §6's environment
// variables and command-line flags, collected in one place so
// cmd/gtags has one struct to build from flag values.
type Config struct {
	// Root is the source tree to scan; DBPath is the directory the
	// three tag files live in (often the same as Root).
	Root   string
	DBPath string

	Compact         bool // -c
	SkipReferences  bool // REFS is never written when true
	ForceEndBlock   bool // GTAGSFORCEENDBLOCK
	ExtractMethod   bool
	MaxSymbolLen    int
	Warn            bool // -w
	AcceptDotfiles  bool
	SkipUnreadable  bool
	SkipSymlink     ptree.SkipSymlinkPolicy
	SkipList        []string
	Parallel        int // GTAGSPARALLEL-equivalent job count; <=1 is sequential
	PageSize        int
	MaxCachedPages  int
}

// Project is one opened tag database, ready for Build, Update or Dump.
type Project struct {
	cfg Config
	dbs *build.Databases
}

func dbPaths(dir string) (path, defs, refs string) {
	return filepath.Join(dir, pathFile), filepath.Join(dir, defsFile), filepath.Join(dir, refsFile)
}

// Open creates or reopens the three tag databases under cfg.DBPath,
// using mode to pick gtop's Create vs Modify header validation (spec
// §4.4: a version mismatch on Modify is always fatal).
func Open(cfg Config, mode gtop.Mode) (*Project, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = cfg.Root
	}
	if err := os.MkdirAll(cfg.DBPath, 0755); err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "gtags: create db dir")
	}

	pathPath, defsPath, refsPath := dbPaths(cfg.DBPath)

	pathStore, err := gpath.Open(gpath.Config{
		Path:            pathPath,
		PageSize:        cfg.PageSize,
		MaxCachedPages:  cfg.MaxCachedPages,
		CaseInsensitive: false,
	})
	if err != nil {
		return nil, err
	}

	sidecar := ""
	if cfg.Compact {
		sidecar = defsPath + ".img"
	}
	defs, err := gtop.Open(gtop.Config{
		Path:           defsPath,
		SidecarPath:    sidecar,
		PageSize:       cfg.PageSize,
		MaxCachedPages: cfg.MaxCachedPages,
		Mode:           mode,
		Compact:        cfg.Compact,
		ExtractMethod:  cfg.ExtractMethod,
	})
	if err != nil {
		pathStore.Close()
		return nil, err
	}

	var refs *gtop.Store
	if !cfg.SkipReferences {
		rsidecar := ""
		if cfg.Compact {
			rsidecar = refsPath + ".img"
		}
		refs, err = gtop.Open(gtop.Config{
			Path:           refsPath,
			SidecarPath:    rsidecar,
			PageSize:       cfg.PageSize,
			MaxCachedPages: cfg.MaxCachedPages,
			Mode:           mode,
			Compact:        cfg.Compact,
			ExtractMethod:  cfg.ExtractMethod,
		})
		if err != nil {
			pathStore.Close()
			defs.Close()
			return nil, err
		}
	}

	return &Project{
		cfg: cfg,
		dbs: &build.Databases{
			Path:     pathStore,
			Defs:     defs,
			Refs:     refs,
			PathPath: pathPath,
			DefsPath: defsPath,
			RefsPath: refsPath,
		},
	}, nil
}

// Close syncs and releases every open database.
func (p *Project) Close() error {
	var first error
	for _, c := range []interface {
		Sync() error
		Close() error
	}{p.dbs.Path, p.dbs.Defs} {
		if err := c.Sync(); err != nil && first == nil {
			first = err
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if p.dbs.Refs != nil {
		if err := p.dbs.Refs.Sync(); err != nil && first == nil {
			first = err
		}
		if err := p.dbs.Refs.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Project) buildOptions() build.Options {
	return build.Options{
		Root:   p.cfg.Root,
		Loader: build.FileLoader(p.cfg.Root),
		Parse: cparse.Options{
			ForceEndBlock: p.cfg.ForceEndBlock,
			Warn:          p.cfg.Warn,
			MaxSymbolLen:  p.cfg.MaxSymbolLen,
			ExtractMethod: p.cfg.ExtractMethod,
		},
		Parallel: p.cfg.Parallel,
	}
}

func (p *Project) discover(only []string) (*ptree.Result, error) {
	res, err := ptree.Discover(ptree.Options{
		Root:           p.cfg.Root,
		AcceptDotfiles: p.cfg.AcceptDotfiles,
		SkipList:       p.cfg.SkipList,
		SkipSymlink:    p.cfg.SkipSymlink,
		SkipUnreadable: p.cfg.SkipUnreadable,
	})
	if err != nil {
		return nil, err
	}
	if len(only) == 0 {
		return res, nil
	}
	set := make(map[string]bool, len(only))
	for _, o := range only {
		set[o] = true
	}
	filtered := res.Files[:0]
	for _, f := range res.Files {
		if set[f.Path] {
			filtered = append(filtered, f)
		}
	}
	res.Files = filtered
	return res, nil
}

// Build performs spec §4.8's full build: every file under cfg.Root is
// discovered and parsed from scratch. Callers must Open with
// gtop.Create and hand Build a database directory with no pre-existing
// tag files.
func (p *Project) Build(ctx context.Context) error {
	res, err := p.discover(nil)
	if err != nil {
		return err
	}
	opts := p.buildOptions()
	opts.Basket = res.Basket
	return build.Full(ctx, p.dbs, res.Files, opts)
}

// Update performs spec §4.8's incremental build: add/modify/delete are
// classified against the database's current contents. onlyPaths
// restricts the classification to those paths (spec §6's
// --single-update), leaving the rest of the known tree untouched.
func (p *Project) Update(ctx context.Context, onlyPaths []string) error {
	res, err := p.discover(onlyPaths)
	if err != nil {
		return err
	}
	opts := p.buildOptions()
	opts.Basket = res.Basket
	opts.OnlyPaths = onlyPaths
	return build.Incremental(ctx, p.dbs, res.Files, opts)
}

// Dump returns every record in DEFS or REFS in gtop.Store.All's key
// order: name, then fid, then line for the standard format (spec §6's
// -d/-r dump order); the compact format orders fids as decimal text.
func (p *Project) Dump(which gtop.Which) ([]gtop.Record, error) {
	store := p.dbs.Defs
	if which == gtop.REFS {
		if p.dbs.Refs == nil {
			return nil, gerr.New(gerr.UsageError, "gtags: references are not tracked for this project")
		}
		store = p.dbs.Refs
	}
	return store.All()
}
