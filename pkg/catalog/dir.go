package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tonistiigi/fsutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ndisidore/sassimport/internal/assetignore"
	"github.com/ndisidore/sassimport/pkg/importer"
	"github.com/ndisidore/sassimport/pkg/slogctx"
)

// Sentinel errors for directory catalogs.
var (
	ErrNoRoots        = errors.New("directory catalog has no roots")
	ErrInvalidInclude = errors.New("invalid include pattern")
)

// DirOptions configures a Dir catalog.
type DirOptions struct {
	// Roots are asset directories in priority order. When two roots hold the
	// same relative path, the earlier root wins.
	Roots []string
	// Prefix is the virtual prefix lookups may carry (e.g. "/assets/").
	Prefix string
	// Include are doublestar patterns selecting indexed files. Empty indexes
	// every file.
	Include []string
}

// dirEntry locates an indexed file.
type dirEntry struct {
	fsys fsutil.FS
	rel  string
}

// Dir is a catalog over one or more directories. Files are indexed up
// front; Refresh rebuilds the index. Canonical paths are root-relative,
// slash-separated and qualified by the prefix when one is set. Dir is safe
// for concurrent use.
type Dir struct {
	opts  DirOptions
	mu    sync.RWMutex
	index map[string]dirEntry
	group singleflight.Group
}

var _ importer.Catalog = (*Dir)(nil)

// NewDir validates opts and builds the initial index.
func NewDir(ctx context.Context, opts DirOptions) (*Dir, error) {
	if len(opts.Roots) == 0 {
		return nil, ErrNoRoots
	}
	for _, pat := range opts.Include {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidInclude, pat)
		}
	}
	d := &Dir{opts: opts}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Refresh re-indexes every root. Concurrent calls share one rebuild.
func (d *Dir) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (any, error) {
		idx, err := d.build(ctx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.index = idx
		d.mu.Unlock()
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "asset catalog indexed",
			slog.Int("roots", len(d.opts.Roots)),
			slog.Int("files", len(idx)),
		)
		return nil, nil
	})
	return err
}

// build walks every root concurrently and merges the results in root order.
func (d *Dir) build(ctx context.Context) (map[string]dirEntry, error) {
	perRoot := make([]map[string]dirEntry, len(d.opts.Roots))

	g, gctx := errgroup.WithContext(ctx)
	for i, root := range d.opts.Roots {
		g.Go(func() error {
			files, err := d.walkRoot(gctx, root)
			if err != nil {
				return fmt.Errorf("indexing asset root %s: %w", root, err)
			}
			perRoot[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]dirEntry)
	for _, files := range perRoot {
		for p, e := range files {
			if _, taken := merged[p]; !taken {
				merged[p] = e
			}
		}
	}
	return merged, nil
}

func (d *Dir) walkRoot(ctx context.Context, root string) (map[string]dirEntry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	base, err := fsutil.NewFS(abs)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", root, err)
	}
	excludes, err := assetignore.LoadOptional(root)
	if err != nil {
		return nil, err
	}
	fsys := base
	if len(excludes) > 0 {
		fsys, err = fsutil.NewFilterFS(base, &fsutil.FilterOpt{ExcludePatterns: excludes})
		if err != nil {
			return nil, fmt.Errorf("applying ignore patterns: %w", err)
		}
	}

	files := make(map[string]dirEntry)
	err = fsys.Walk(ctx, "", func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(p)
		if !d.included(rel) {
			return nil
		}
		files[rel] = dirEntry{fsys: fsys, rel: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (d *Dir) included(rel string) bool {
	if len(d.opts.Include) == 0 {
		return true
	}
	for _, pat := range d.opts.Include {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Lookup reports whether p is indexed.
func (d *Dir) Lookup(p string) (importer.Asset, bool) {
	key, err := VirtualPath(p, d.opts.Prefix)
	if err != nil {
		return importer.Asset{}, false
	}
	d.mu.RLock()
	_, ok := d.index[key]
	d.mu.RUnlock()
	if !ok {
		return importer.Asset{}, false
	}
	return importer.Asset{Path: qualify(d.opts.Prefix, key)}, true
}

// Open opens an indexed file.
func (d *Dir) Open(a importer.Asset) (io.ReadCloser, error) {
	key, err := unqualify(d.opts.Prefix, a.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Path, ErrUnknownAsset)
	}
	d.mu.RLock()
	e, ok := d.index[key]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", a.Path, ErrUnknownAsset)
	}
	rc, err := e.fsys.Open(e.rel)
	if err != nil {
		return nil, fmt.Errorf("opening asset %s: %w", a.Path, err)
	}
	return rc, nil
}

// Len returns the number of indexed files.
func (d *Dir) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.index)
}

// Roots returns the configured roots in priority order.
func (d *Dir) Roots() []string {
	out := make([]string, len(d.opts.Roots))
	copy(out, d.opts.Roots)
	return out
}
