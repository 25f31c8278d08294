// Package watch reports debounced changes to stylesheet files under a set of
// root directories.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/ndisidore/sassimport/pkg/slogctx"
)

// Sentinel errors for watcher setup and operation.
var (
	ErrNoRoots        = errors.New("watch: no roots")
	ErrInvalidPattern = errors.New("watch: invalid pattern")
	ErrAlreadyRunning = errors.New("watch: Run called more than once")
	ErrChannelsClosed = errors.New("watch: fsnotify channels closed")
)

const _defaultDebounce = 250 * time.Millisecond

// _defaultIgnores never trigger a change.
var _defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.sass-cache/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Change is one modified file.
type Change struct {
	// Root is the watched root the file lives under, as configured.
	Root string
	// Path is slash-separated and relative to Root.
	Path string
}

// Options configures a Watcher.
type Options struct {
	// Roots are the directories watched recursively.
	Roots []string
	// Patterns select files (doublestar, root-relative). Empty matches all.
	Patterns []string
	// Ignore adds to the built-in ignore patterns.
	Ignore []string
	// Debounce is the quiet period before OnChange fires.
	Debounce time.Duration
	// OnChange receives the coalesced changes sorted by root then path.
	// Calls never overlap. An error is logged and watching continues.
	OnChange func(ctx context.Context, changes []Change) error
}

// Watcher monitors roots with fsnotify.
type Watcher struct {
	opts     Options
	fsw      *fsnotify.Watcher
	roots    []root
	ignores  []string
	debounce time.Duration
	started  atomic.Bool
}

type root struct {
	name string
	abs  string
}

// New validates opts and registers every directory under each root.
func New(ctx context.Context, opts Options) (*Watcher, error) {
	if len(opts.Roots) == 0 {
		return nil, ErrNoRoots
	}
	for _, pat := range slices.Concat(opts.Patterns, opts.Ignore) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pat)
		}
	}

	w := &Watcher{
		opts:     opts,
		ignores:  slices.Concat(_defaultIgnores, opts.Ignore),
		debounce: opts.Debounce,
	}
	if w.debounce <= 0 {
		w.debounce = _defaultDebounce
	}
	for _, r := range opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("watch: resolving %s: %w", r, err)
		}
		w.roots = append(w.roots, root{name: r, abs: abs})
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	for _, r := range w.roots {
		if err := w.addTree(ctx, r.abs); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run processes events until ctx is cancelled. It returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() { _ = w.fsw.Close() }()

	log := slogctx.FromContext(ctx)
	pending := make(map[Change]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return ErrChannelsClosed
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(ctx, evt.Name)
			}
			c, ok := w.classify(evt.Name)
			if !ok {
				continue
			}
			log.LogAttrs(ctx, slog.LevelDebug, "file event",
				slog.String("root", c.Root),
				slog.String("path", c.Path),
				slog.String("op", evt.Op.String()),
			)
			pending[c] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changes := drain(pending)
			if w.opts.OnChange == nil {
				continue
			}
			if err := w.opts.OnChange(ctx, changes); err != nil {
				log.LogAttrs(ctx, slog.LevelError, "change handler failed",
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrChannelsClosed
			}
			log.LogAttrs(ctx, slog.LevelWarn, "fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	if w.started.Load() {
		return nil
	}
	return w.fsw.Close()
}

func drain(pending map[Change]struct{}) []Change {
	changes := make([]Change, 0, len(pending))
	for c := range pending {
		changes = append(changes, c)
	}
	clear(pending)
	slices.SortFunc(changes, func(a, b Change) int {
		if n := strings.Compare(a.Root, b.Root); n != 0 {
			return n
		}
		return strings.Compare(a.Path, b.Path)
	})
	return changes
}

// classify maps an absolute event path onto the first root containing it and
// applies the ignore and match patterns.
func (w *Watcher) classify(name string) (Change, bool) {
	for _, r := range w.roots {
		rel, err := filepath.Rel(r.abs, name)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		if matchAny(w.ignores, rel) {
			return Change{}, false
		}
		if len(w.opts.Patterns) > 0 && !matchAny(w.opts.Patterns, rel) {
			return Change{}, false
		}
		return Change{Root: r.name, Path: rel}, true
	}
	return Change{}, false
}

func (w *Watcher) ignoredDir(abs string) bool {
	for _, r := range w.roots {
		rel, err := filepath.Rel(r.abs, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		return rel != "." && (matchAny(w.ignores, rel) || matchAny(w.ignores, rel+"/"))
	}
	return false
}

func (w *Watcher) addTree(ctx context.Context, dir string) error {
	log := slogctx.FromContext(ctx)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir {
				return walkErr
			}
			log.LogAttrs(ctx, slog.LevelWarn, "skipping unreadable path",
				slog.String("path", p),
				slog.String("error", walkErr.Error()),
			)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignoredDir(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("adding %s: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: registering %s: %w", dir, err)
	}
	return nil
}

// maybeAddDir extends the watch to directories created after startup.
func (w *Watcher) maybeAddDir(ctx context.Context, p string) {
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() || w.ignoredDir(p) {
		return
	}
	if err := w.addTree(ctx, p); err != nil {
		slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "watching new directory failed",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// ExtensionPatterns returns "**/*.<ext>" for every extension.
func ExtensionPatterns(exts []string) []string {
	out := make([]string, len(exts))
	for i, ext := range exts {
		out[i] = "**/*." + strings.TrimPrefix(ext, ".")
	}
	return out
}
