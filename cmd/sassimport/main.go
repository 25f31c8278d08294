// Package main provides the CLI entry point for sassimport.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/ndisidore/sassimport/internal/config"
	"github.com/ndisidore/sassimport/internal/deps"
	"github.com/ndisidore/sassimport/internal/diag"
	"github.com/ndisidore/sassimport/internal/stats"
	"github.com/ndisidore/sassimport/internal/watch"
	"github.com/ndisidore/sassimport/pkg/catalog"
	"github.com/ndisidore/sassimport/pkg/importer"
	"github.com/ndisidore/sassimport/pkg/slogctx"
)

// errUsage reports missing positional arguments.
var errUsage = errors.New("usage")

// app bundles dependencies so CLI action handlers become testable methods.
type app struct {
	loadConfig func(path string) (config.Config, error)
	stdout     io.Writer
	stderr     io.Writer
	isTTY      bool
	format     string // resolved log format (pretty, json, text)
	cfg        config.Config
}

func main() {
	a := &app{
		loadConfig: config.Load,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTTY:      term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("CI") == "",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := a.command().Run(ctx, os.Args)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "sassimport",
		Usage: "resolve Sass/SCSS @import names against asset catalogs and the filesystem",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the KDL project file",
				Value:   config.DefaultFile,
				Sources: cli.EnvVars("SASSIMPORT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "format",
				Usage:   "log format (auto, pretty, json, text)",
				Value:   "auto",
				Sources: cli.EnvVars("SASSIMPORT_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("SASSIMPORT_LOG_LEVEL"),
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			{
				Name:      "resolve",
				Usage:     "resolve import names and print the files they refer to",
				ArgsUsage: "<name>...",
				Flags: append(importerFlags(),
					&cli.IntFlag{
						Name:  "line",
						Usage: "line of the @import statement, for warnings",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "file containing the @import statement, for warnings",
					},
					&cli.IntFlag{
						Name:    "parallelism",
						Aliases: []string{"j"},
						Usage:   "max concurrent resolutions (0 = unlimited)",
					},
					&cli.BoolFlag{
						Name:  "stats",
						Usage: "print a resolution summary",
					},
					&cli.BoolFlag{
						Name:  "deps",
						Usage: "print every resolved file once, in first-seen order",
					},
					&cli.BoolFlag{
						Name:  "content",
						Usage: "print the content of each resolved file",
					},
				),
				Action: a.resolveAction,
			},
			{
				Name:      "candidates",
				Usage:     "print the candidate file names searched for an import",
				ArgsUsage: "<name>",
				Action:    a.candidatesAction,
			},
			{
				Name:      "watch",
				Usage:     "re-resolve import names when stylesheet files change",
				ArgsUsage: "<name>...",
				Flags: append(importerFlags(),
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "quiet period before re-resolving",
						Value: 250 * time.Millisecond,
					},
					&cli.BoolFlag{
						Name:  "always-stale",
						Usage: "report every import as changed on each rescan",
					},
				),
				Action: a.watchAction,
			},
		},
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if err != nil {
				_, _ = fmt.Fprintf(a.stderr, "error: %v\n", err)
			}
		},
	}
}

func importerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "dir",
			Usage: "directory the import is requested from",
			Value: ".",
		},
		&cli.StringSliceFlag{
			Name:  "asset-root",
			Usage: "asset directory searched before configured catalogs (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "no-filesystem",
			Usage: "disable the filesystem fallback",
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	a.format = cmd.String("format")
	if a.format == "auto" {
		if a.isTTY {
			a.format = "pretty"
		} else {
			a.format = "text"
		}
	}
	level, err := diag.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return ctx, fmt.Errorf("invalid log level: %w", err)
	}
	logger, err := diag.NewLogger(a.stderr, a.format, level)
	if err != nil {
		return ctx, fmt.Errorf("initializing logger: %w", err)
	}
	slog.SetDefault(logger)

	cfg, err := a.loadConfig(cmd.String("config"))
	if err != nil {
		return ctx, fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	return slogctx.ContextWithLogger(ctx, logger), nil
}

// session is an importer plus the directory catalogs behind it.
type session struct {
	imp          *importer.Importer
	dirs         []*catalog.Dir
	fs           string
	noFilesystem bool
	exts         []string
}

type sessionOptions struct {
	assetRoots   []string
	noFilesystem bool
	alwaysStale  bool
	notifier     importer.Notifier
}

func (a *app) newSession(ctx context.Context, opts sessionOptions) (*session, error) {
	table, err := a.cfg.Table()
	if err != nil {
		return nil, err
	}

	s := &session{fs: a.cfg.Filesystem, noFilesystem: opts.noFilesystem}
	if s.fs == "" {
		s.fs = "."
	}
	for _, e := range table.Entries() {
		s.exts = append(s.exts, e.Ext)
	}

	var chain catalog.Chain
	if len(opts.assetRoots) > 0 {
		d, err := catalog.NewDir(ctx, catalog.DirOptions{Roots: opts.assetRoots})
		if err != nil {
			return nil, fmt.Errorf("asset roots: %w", err)
		}
		s.dirs = append(s.dirs, d)
		chain = append(chain, d)
	}
	for _, c := range a.cfg.Catalogs {
		d, err := catalog.NewDir(ctx, catalog.DirOptions{Roots: c.Roots, Prefix: c.Prefix, Include: c.Include})
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", c.Name, err)
		}
		s.dirs = append(s.dirs, d)
		chain = append(chain, d)
	}

	iopts := importer.Options{
		FileSystem:   importer.OSFileSystem{Base: s.fs},
		Notifier:     opts.notifier,
		Diagnostics:  diag.SlogSink{Logger: slogctx.FromContext(ctx)},
		Extensions:   table,
		AlwaysStale:  a.cfg.AlwaysStale || opts.alwaysStale,
		NoFilesystem: opts.noFilesystem,
	}
	if len(chain) > 0 {
		iopts.Catalog = chain
	}
	s.imp = importer.New(iopts)
	return s, nil
}

// roots lists every directory a change could affect resolution in. The
// filesystem root is left out when the fallback is disabled.
func (s *session) roots() []string {
	var out []string
	for _, d := range s.dirs {
		out = append(out, d.Roots()...)
	}
	if s.noFilesystem {
		return out
	}
	return append(out, s.fs)
}

func (s *session) refresh(ctx context.Context) error {
	for _, d := range s.dirs {
		if err := d.Refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

type resolution struct {
	name string
	res  importer.ResolvedImport
	err  error
}

// resolveAll resolves every name with at most limit concurrent lookups and
// returns results in input order.
func (s *session) resolveAll(ctx context.Context, names []string, base importer.ImportRequest, limit int, collector *stats.Collector) []resolution {
	out := make([]resolution, len(names))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, name := range names {
		g.Go(func() error {
			req := base
			req.Name = name
			start := time.Now()
			res, err := s.imp.ResolveImport(ctx, req)
			out[i] = resolution{name: name, res: res, err: err}
			if collector == nil {
				return nil
			}
			if err != nil {
				collector.ObserveFailure()
			} else {
				collector.Observe(res, time.Since(start))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *app) resolveAction(ctx context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("%w: sassimport resolve <name>...", errUsage)
	}
	parallelism := int(cmd.Int("parallelism"))
	if parallelism < 0 {
		return fmt.Errorf("invalid value %d for flag --parallelism: must be >= 0", parallelism)
	}

	tracker := deps.NewTracker()
	s, err := a.newSession(ctx, sessionOptions{
		assetRoots:   cmd.StringSlice("asset-root"),
		noFilesystem: cmd.Bool("no-filesystem"),
		notifier:     tracker,
	})
	if err != nil {
		return err
	}

	var collector *stats.Collector
	if cmd.Bool("stats") {
		collector = stats.NewCollector()
	}
	base := importer.ImportRequest{
		Directory:  cmd.String("dir"),
		OriginLine: int(cmd.Int("line")),
		OriginFile: cmd.String("file"),
	}
	results := s.resolveAll(ctx, names, base, parallelism, collector)

	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		a.printResolution(r, cmd.Bool("content"))
	}

	if cmd.Bool("deps") {
		_, _ = fmt.Fprintln(a.stdout, "Dependencies:")
		for _, p := range tracker.Paths() {
			_, _ = fmt.Fprintf(a.stdout, "  %s\n", p)
		}
	}
	if collector != nil {
		stats.PrintReport(a.stdout, collector.Report())
	}
	return errors.Join(errs...)
}

func (a *app) printResolution(r resolution, content bool) {
	_, _ = fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%s\t%s\n",
		r.name, r.res.CanonicalPath, r.res.Syntax, r.res.Source, r.res.Digest)
	if content {
		_, _ = a.stdout.Write(r.res.Content)
		if n := len(r.res.Content); n > 0 && r.res.Content[n-1] != '\n' {
			_, _ = fmt.Fprintln(a.stdout)
		}
	}
}

func (a *app) candidatesAction(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("%w: sassimport candidates <name>", errUsage)
	}
	table, err := a.cfg.Table()
	if err != nil {
		return err
	}
	for _, c := range table.Candidates(name) {
		_, _ = fmt.Fprintf(a.stdout, "%s\t%s\n", c.Path, c.Syntax)
	}
	return nil
}

// scanner re-resolves a fixed set of names and reports which changed.
type scanner struct {
	s     *session
	names []string
	dir   string

	mu   sync.Mutex
	last map[string]digest.Digest
}

// rescan refreshes the catalogs and resolves every name as a background
// scan. It returns the names whose result is stale.
func (sc *scanner) rescan(ctx context.Context) ([]string, error) {
	if err := sc.s.refresh(ctx); err != nil {
		return nil, fmt.Errorf("refreshing catalogs: %w", err)
	}
	log := slogctx.FromContext(ctx)
	results := sc.s.resolveAll(ctx, sc.names, importer.ImportRequest{Directory: sc.dir}, 0, nil)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	var stale []string
	for _, r := range results {
		if r.err != nil {
			if _, had := sc.last[r.name]; had {
				log.LogAttrs(ctx, slog.LevelWarn, "import no longer resolves",
					slog.String("name", r.name),
					slog.String("error", r.err.Error()),
				)
				delete(sc.last, r.name)
				stale = append(stale, r.name)
			}
			continue
		}
		if !sc.s.imp.NeedsUpdate(r.res, sc.last[r.name]) {
			continue
		}
		sc.last[r.name] = r.res.Digest
		stale = append(stale, r.name)
		log.LogAttrs(ctx, slog.LevelInfo, "import changed",
			slog.String("name", r.name),
			slog.String("path", r.res.CanonicalPath),
		)
	}
	return stale, nil
}

func (a *app) watchAction(ctx context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("%w: sassimport watch <name>...", errUsage)
	}
	s, err := a.newSession(ctx, sessionOptions{
		assetRoots:   cmd.StringSlice("asset-root"),
		noFilesystem: cmd.Bool("no-filesystem"),
		alwaysStale:  cmd.Bool("always-stale"),
	})
	if err != nil {
		return err
	}

	sc := &scanner{s: s, names: names, dir: cmd.String("dir"), last: make(map[string]digest.Digest)}
	if _, err := sc.rescan(ctx); err != nil {
		return err
	}

	w, err := watch.New(ctx, watch.Options{
		Roots:    s.roots(),
		Patterns: watch.ExtensionPatterns(s.exts),
		Debounce: cmd.Duration("debounce"),
		OnChange: func(ctx context.Context, changes []watch.Change) error {
			slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "rescanning",
				slog.Int("changes", len(changes)),
			)
			_, err := sc.rescan(ctx)
			return err
		},
	})
	if err != nil {
		return err
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "watching for changes",
		slog.Int("roots", len(s.roots())),
		slog.Int("names", len(names)),
	)
	return w.Run(ctx)
}
