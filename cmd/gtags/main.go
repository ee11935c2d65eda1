// Command gtags is the thin driver of spec.md §6: it wires flags and
// environment variables onto the gtags package's Project API and does
// nothing else — every algorithmic decision lives in the library.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gtagsdb/gtags"
	"github.com/gtagsdb/gtags/internal/glog"
	"github.com/gtagsdb/gtags/internal/gtop"
	"github.com/gtagsdb/gtags/internal/ptree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// errUsage marks a flag-combination error as a usage error (spec §6:
// exit code 2), distinct from any failure the library itself returns.
var errUsage = errors.New("usage error")

func newRootCmd() *cobra.Command {
	var (
		incremental    bool
		compact        bool
		quiet          bool
		verbose        bool
		warn           bool
		acceptDotfiles bool
		skipUnreadable bool
		skipSymlink    string
		singleUpdate   string
		fileList       string
		dump           string
		noReferences   bool
		jobs           int
	)

	root := &cobra.Command{
		Use:     "gtags [flags] [dbpath]",
		Short:   "Build or update a GNU Global style tag database",
		Version: "1.0.0",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			glog.Init(os.Getenv("GTAGSLOGGING"))
			configureVerbosity(quiet, verbose)

			dbPath := "."
			if len(args) == 1 {
				dbPath = args[0]
			}

			policy, err := parseSkipSymlink(skipSymlink)
			if err != nil {
				return errors.Wrap(errUsage, err.Error())
			}

			cfg := gtags.Config{
				Root:           dbPath,
				DBPath:         dbPath,
				Compact:        compact,
				SkipReferences: noReferences,
				ForceEndBlock:  os.Getenv("GTAGSFORCEENDBLOCK") != "",
				Warn:           warn,
				AcceptDotfiles: acceptDotfiles,
				SkipUnreadable: skipUnreadable,
				SkipSymlink:    policy,
				Parallel:       jobs,
			}

			if dump != "" {
				return runDump(cfg, dump)
			}

			mode := gtop.Create
			if incremental {
				mode = gtop.Modify
			}
			proj, err := gtags.Open(cfg, mode)
			if err != nil {
				return err
			}
			defer proj.Close()

			ctx := context.Background()
			switch {
			case singleUpdate != "":
				return proj.Update(ctx, []string{singleUpdate})
			case fileList != "":
				return proj.Update(ctx, strings.Split(fileList, ","))
			case incremental:
				return proj.Update(ctx, nil)
			default:
				return proj.Build(ctx)
			}
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&incremental, "incremental", "i", false, "incremental update instead of a full build")
	flags.BoolVarP(&compact, "compact", "c", false, "use the compact tag encoding")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose progress output")
	flags.BoolVarP(&warn, "warning", "w", false, "print parser warnings")
	flags.BoolVar(&acceptDotfiles, "accept-dotfiles", false, "accept dotfiles and dot-directories")
	flags.BoolVar(&skipUnreadable, "skip-unreadable", false, "skip unreadable files instead of failing")
	flags.StringVar(&skipSymlink, "skip-symlink", "", "skip symlinks: f (file), d (dir), or a (all)")
	flags.StringVar(&singleUpdate, "single-update", "", "update only this one path")
	flags.StringVar(&fileList, "file", "", "comma-separated list of paths to update")
	flags.StringVar(&dump, "dump", "", "dump an existing database instead of building: defs or refs")
	flags.BoolVar(&noReferences, "no-references", false, "do not track GRTAGS")
	flags.IntVarP(&jobs, "jobs", "j", 1, "parallel parse workers (GTAGSPARALLEL-equivalent)")

	return root
}

func configureVerbosity(quiet, verbose bool) {
	glog.SetVerbose(verbose && !quiet)
	switch {
	case quiet:
		logrus.SetLevel(logrus.ErrorLevel)
	case verbose:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func parseSkipSymlink(v string) (ptree.SkipSymlinkPolicy, error) {
	switch v {
	case "":
		return ptree.SkipSymlinkNone, nil
	case "f":
		return ptree.SkipSymlinkFile, nil
	case "d":
		return ptree.SkipSymlinkDir, nil
	case "a":
		return ptree.SkipSymlinkAll, nil
	default:
		return "", errors.Errorf("invalid --skip-symlink value %q, want f, d, or a", v)
	}
}

// runDump implements spec §6's read-only --dump surface: open the
// existing databases in Modify mode (never Create, it must not
// silently initialize a missing database) and print every record.
func runDump(cfg gtags.Config, which string) error {
	var w gtop.Which
	switch which {
	case "defs":
		w = gtop.DEFS
	case "refs":
		w = gtop.REFS
		cfg.SkipReferences = false
	default:
		return errors.Wrap(errUsage, `--dump must be "defs" or "refs"`)
	}

	proj, err := gtags.Open(cfg, gtop.Modify)
	if err != nil {
		return err
	}
	defer proj.Close()

	records, err := proj.Dump(w)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%d\t%d\t%s\n", r.Name, r.Line, r.Fid, r.Image)
	}
	return nil
}
