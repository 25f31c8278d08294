package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/sassimport/pkg/slogctx"
)

// memCatalog is a test Catalog that serves content from an in-memory map.
type memCatalog struct {
	files    map[string]string // canonical path -> content
	openErr  error
	mu       sync.Mutex
	lookedUp []string
}

func (m *memCatalog) Lookup(p string) (Asset, bool) {
	m.mu.Lock()
	m.lookedUp = append(m.lookedUp, p)
	m.mu.Unlock()

	key, err := UnescapeGlob(p)
	if err != nil {
		return Asset{}, false
	}
	key = strings.TrimPrefix(key, "/")
	if _, ok := m.files[key]; !ok {
		return Asset{}, false
	}
	return Asset{Path: key}, true
}

func (m *memCatalog) Open(a Asset) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return io.NopCloser(strings.NewReader(m.files[a.Path])), nil
}

// recorder collects warnings and notifications.
type recorder struct {
	mu       sync.Mutex
	warnings []string
	notified []string
	notifyFn func(string) error
}

func (r *recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

func (r *recorder) Notify(p string) error {
	r.mu.Lock()
	r.notified = append(r.notified, p)
	r.mu.Unlock()
	if r.notifyFn != nil {
		return r.notifyFn(p)
	}
	return nil
}

func newTestImporter(files map[string]string, fsFiles map[string]string) (*Importer, *recorder) {
	rec := &recorder{}
	mapFS := fstest.MapFS{}
	for name, content := range fsFiles {
		mapFS[name] = &fstest.MapFile{Data: []byte(content)}
	}
	imp := New(Options{
		Catalog:     &memCatalog{files: files},
		FileSystem:  FSAdapter{FS: mapFS},
		Notifier:    rec,
		Diagnostics: rec,
	})
	return imp, rec
}

func TestResolveImport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		catalog    map[string]string
		fs         map[string]string
		req        ImportRequest
		wantPath   string
		wantSyntax Syntax
		wantSource Source
		wantBody   string
	}{
		{
			name:       "partial found in catalog",
			catalog:    map[string]string{"partials/_button.scss": ".btn {}"},
			req:        ImportRequest{Directory: ".", Name: "partials/button"},
			wantPath:   "partials/_button.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   ".btn {}",
		},
		{
			name: "plain beats partial",
			catalog: map[string]string{
				"foo.scss":  "plain",
				"_foo.scss": "partial",
			},
			req:        ImportRequest{Directory: ".", Name: "foo"},
			wantPath:   "foo.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   "plain",
		},
		{
			name:       "request directory joined",
			catalog:    map[string]string{"styles/base/_reset.sass": "reset"},
			req:        ImportRequest{Directory: "styles", Name: "base/reset"},
			wantPath:   "styles/base/_reset.sass",
			wantSyntax: SyntaxSass,
			wantSource: SourceAsset,
			wantBody:   "reset",
		},
		{
			name:       "request directory with trailing slash",
			catalog:    map[string]string{"styles/_vars.scss": "vars"},
			req:        ImportRequest{Directory: "styles/", Name: "vars"},
			wantPath:   "styles/_vars.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   "vars",
		},
		{
			name:       "request directory glob characters escaped",
			catalog:    map[string]string{"icons[v2]/_sprite.scss": "sprite"},
			req:        ImportRequest{Directory: "icons[v2]", Name: "sprite"},
			wantPath:   "icons[v2]/_sprite.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   "sprite",
		},
		{
			name:       "absolute name ignores request directory",
			catalog:    map[string]string{"shared/theme.scss": "theme"},
			req:        ImportRequest{Directory: "styles", Name: "/shared/theme"},
			wantPath:   "shared/theme.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   "theme",
		},
		{
			name:       "explicit extension restricts syntax",
			catalog:    map[string]string{"grid.css": "css", "grid.scss": "scss"},
			req:        ImportRequest{Directory: ".", Name: "grid.scss"},
			wantPath:   "grid.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   "scss",
		},
		{
			name:       "filesystem fallback",
			fs:         map[string]string{"styles/_mixins.scss": "@mixin m {}"},
			req:        ImportRequest{Directory: "styles", Name: "mixins"},
			wantPath:   "styles/_mixins.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceFilesystem,
			wantBody:   "@mixin m {}",
		},
		{
			name:       "catalog outranks filesystem",
			catalog:    map[string]string{"_colors.scss": "catalog"},
			fs:         map[string]string{"colors.scss": "disk"},
			req:        ImportRequest{Directory: ".", Name: "colors"},
			wantPath:   "_colors.scss",
			wantSyntax: SyntaxSCSS,
			wantSource: SourceAsset,
			wantBody:   "catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			imp, rec := newTestImporter(tt.catalog, tt.fs)
			got, err := imp.ResolveImport(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantPath, got.CanonicalPath)
			assert.Equal(t, tt.wantSyntax, got.Syntax)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantBody, string(got.Content))
			assert.Equal(t, digest.FromString(tt.wantBody), got.Digest)
			assert.Equal(t, []string{tt.wantPath}, rec.notified)
		})
	}
}

func TestResolveImportIdempotent(t *testing.T) {
	t.Parallel()

	imp, rec := newTestImporter(map[string]string{"_a.scss": "a"}, nil)
	req := ImportRequest{Directory: ".", Name: "a", OriginLine: 1}

	first, err := imp.ResolveImport(context.Background(), req)
	require.NoError(t, err)
	second, err := imp.ResolveImport(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"_a.scss", "_a.scss"}, rec.notified)
	assert.Empty(t, rec.warnings)
}

func TestResolveImportNotFound(t *testing.T) {
	t.Parallel()

	imp, rec := newTestImporter(map[string]string{"other.scss": "x"}, map[string]string{"other.css": "y"})
	_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: "styles", Name: "missing"})
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Name)
	assert.Equal(t, "styles", nf.Directory)
	assert.Len(t, nf.Tried, 6)
	assert.Equal(t, "styles/missing.css", nf.Tried[0])

	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Empty(t, rec.notified)
}

func TestResolveImportAmbiguity(t *testing.T) {
	t.Parallel()

	t.Run("warns once across repeated imports", func(t *testing.T) {
		t.Parallel()

		imp, rec := newTestImporter(map[string]string{
			"foo.scss":  "plain",
			"_foo.scss": "partial",
		}, nil)
		req := ImportRequest{Directory: ".", Name: "foo", OriginLine: 3, OriginFile: "main.scss"}

		for range 5 {
			got, err := imp.ResolveImport(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, "foo.scss", got.CanonicalPath)
			assert.True(t, got.Ambiguous)
		}

		require.Len(t, rec.warnings, 1)
		assert.Equal(t, "WARNING: On line 3 of main.scss:\n"+
			"  It's not clear which file to import for '@import \"foo\"'.\n"+
			"  Candidates:\n"+
			"    foo.scss\n"+
			"    _foo.scss\n"+
			"  For now I'll choose foo.scss.\n"+
			"  This will be an error in future versions of Sass.\n",
			rec.warnings[0])
		assert.Len(t, rec.notified, 5)
		assert.True(t, imp.Warned().Contains("foo"))
	})

	t.Run("line without file", func(t *testing.T) {
		t.Parallel()

		imp, rec := newTestImporter(map[string]string{
			"a.css":  "css",
			"a.scss": "scss",
		}, nil)
		got, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "a", OriginLine: 9})
		require.NoError(t, err)
		assert.Equal(t, "a.css", got.CanonicalPath)
		assert.Equal(t, SyntaxCSS, got.Syntax)

		require.Len(t, rec.warnings, 1)
		assert.True(t, strings.HasPrefix(rec.warnings[0], "WARNING: On line 9:\n"), rec.warnings[0])
	})

	t.Run("background scan reports directory context", func(t *testing.T) {
		t.Parallel()

		imp, rec := newTestImporter(map[string]string{
			"styles/foo.scss":  "plain",
			"styles/_foo.scss": "partial",
		}, nil)
		_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: "styles", Name: "foo"})
		require.NoError(t, err)

		require.Len(t, rec.warnings, 1)
		assert.Equal(t, "WARNING: In styles:\n"+
			"  There are multiple files that match the name \"foo\":\n"+
			"    foo.scss\n"+
			"    _foo.scss\n",
			rec.warnings[0])
	})

	t.Run("rooted directory lists candidates relative to it", func(t *testing.T) {
		t.Parallel()

		imp, rec := newTestImporter(map[string]string{
			"assets/css/foo.scss":  "plain",
			"assets/css/_foo.scss": "partial",
		}, nil)
		_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: "/assets/css", Name: "foo"})
		require.NoError(t, err)

		require.Len(t, rec.warnings, 1)
		assert.Equal(t, "WARNING: In /assets/css:\n"+
			"  There are multiple files that match the name \"foo\":\n"+
			"    foo.scss\n"+
			"    _foo.scss\n",
			rec.warnings[0])
	})

	t.Run("shared warned set suppresses across importers", func(t *testing.T) {
		t.Parallel()

		files := map[string]string{"x.scss": "1", "_x.scss": "2"}
		shared := NewWarnedSet()
		rec := &recorder{}
		for range 3 {
			imp := New(Options{
				Catalog:      &memCatalog{files: files},
				Diagnostics:  rec,
				Warned:       shared,
				NoFilesystem: true,
			})
			_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "x"})
			require.NoError(t, err)
		}
		assert.Len(t, rec.warnings, 1)
		assert.Equal(t, 1, shared.Len())
	})

	t.Run("concurrent imports warn exactly once", func(t *testing.T) {
		t.Parallel()

		var warnings atomic.Int32
		imp := New(Options{
			Catalog: &memCatalog{files: map[string]string{
				"grid.scss":  "a",
				"_grid.scss": "b",
			}},
			Diagnostics:  DiagnosticFunc(func(string) { warnings.Add(1) }),
			NoFilesystem: true,
		})

		var wg sync.WaitGroup
		for range 64 {
			wg.Go(func() {
				got, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "grid", OriginLine: 1})
				assert.NoError(t, err)
				assert.Equal(t, "grid.scss", got.CanonicalPath)
			})
		}
		wg.Wait()
		assert.Equal(t, int32(1), warnings.Load())
	})

	t.Run("filesystem fallback does not warn", func(t *testing.T) {
		t.Parallel()

		imp, rec := newTestImporter(nil, map[string]string{
			"foo.scss":  "plain",
			"_foo.scss": "partial",
		})
		got, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "foo", OriginLine: 2})
		require.NoError(t, err)
		assert.Equal(t, "foo.scss", got.CanonicalPath)
		assert.Equal(t, SourceFilesystem, got.Source)
		assert.False(t, got.Ambiguous)
		assert.Empty(t, rec.warnings)
	})

	t.Run("default sink logs through the context logger", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		ctx := slogctx.ContextWithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
		imp := New(Options{
			Catalog:      &memCatalog{files: map[string]string{"b.sass": "1", "_b.sass": "2"}},
			NoFilesystem: true,
		})
		_, err := imp.ResolveImport(ctx, ImportRequest{Directory: ".", Name: "b", OriginLine: 4})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"event":"import.ambiguous"`)
		assert.Contains(t, buf.String(), `"level":"WARN"`)
	})
}

func TestResolveImportNotification(t *testing.T) {
	t.Parallel()

	t.Run("failure is swallowed", func(t *testing.T) {
		t.Parallel()

		imp, rec := newTestImporter(map[string]string{"a.scss": "a"}, nil)
		rec.notifyFn = func(string) error { return errors.New("tracker offline") }

		got, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "a"})
		require.NoError(t, err)
		assert.Equal(t, "a.scss", got.CanonicalPath)
		assert.Equal(t, []string{"a.scss"}, rec.notified)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		ctx := slogctx.ContextWithLogger(context.Background(),
			slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
		imp := New(Options{
			Catalog:      &memCatalog{files: map[string]string{"a.scss": "a"}},
			Notifier:     NotifierFunc(func(string) error { panic("tracker gone") }),
			NoFilesystem: true,
		})

		got, err := imp.ResolveImport(ctx, ImportRequest{Directory: ".", Name: "a"})
		require.NoError(t, err)
		assert.Equal(t, "a.scss", got.CanonicalPath)
		assert.Equal(t, "a", string(got.Content))
		assert.Contains(t, buf.String(), "on-import notification panicked")
		assert.Contains(t, buf.String(), "tracker gone")
	})

	t.Run("notifier func adapter", func(t *testing.T) {
		t.Parallel()

		var got []string
		imp := New(Options{
			Catalog:      &memCatalog{files: map[string]string{"a.scss": "a"}},
			Notifier:     NotifierFunc(func(p string) error { got = append(got, p); return nil }),
			NoFilesystem: true,
		})
		_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.scss"}, got)
	})
}

func TestResolveImportReadFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	openErr := errors.New("stream closed")
	imp := New(Options{
		Catalog:      &memCatalog{files: map[string]string{"a.scss": "a"}, openErr: openErr},
		Notifier:     rec,
		NoFilesystem: true,
	})

	_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "a"})
	require.ErrorIs(t, err, openErr)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rec.notified)
}

func TestResolveImportNoFilesystem(t *testing.T) {
	t.Parallel()

	imp := New(Options{Catalog: &memCatalog{}, NoFilesystem: true})
	_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: ".", Name: "anything"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupFilesystemSkipsMalformedCandidates(t *testing.T) {
	t.Parallel()

	fsys := FSAdapter{FS: fstest.MapFS{"a.scss": &fstest.MapFile{Data: []byte("a")}}}
	got, ok := lookupFilesystem(fsys, []Candidate{
		{Path: `broken\`, Syntax: SyntaxSCSS},
		{Path: "a.scss", Syntax: SyntaxSCSS},
	}, ".")
	require.True(t, ok)
	assert.Equal(t, "a.scss", got.canonical)
}

func TestResolveRelative(t *testing.T) {
	t.Parallel()

	imp, rec := newTestImporter(map[string]string{
		"app/_a.scss": "1",
		"app/a.sass":  "2",
	}, nil)
	got, err := imp.ResolveRelative(context.Background(), "a", "app/main.scss", 7)
	require.NoError(t, err)
	assert.Equal(t, "app/a.sass", got.CanonicalPath)

	require.Len(t, rec.warnings, 1)
	assert.Contains(t, rec.warnings[0], "On line 7 of app/main.scss")
	assert.Contains(t, rec.warnings[0], "    a.sass\n    _a.scss\n")
}

func TestNeedsUpdate(t *testing.T) {
	t.Parallel()

	res := ResolvedImport{Digest: digest.FromString("body")}

	fresh := New(Options{NoFilesystem: true})
	assert.True(t, fresh.NeedsUpdate(res, ""))
	assert.False(t, fresh.NeedsUpdate(res, digest.FromString("body")))
	assert.True(t, fresh.NeedsUpdate(res, digest.FromString("changed")))

	stale := New(Options{NoFilesystem: true, AlwaysStale: true})
	assert.True(t, stale.NeedsUpdate(res, digest.FromString("body")))
}

func TestCandidatesUsesConfiguredTable(t *testing.T) {
	t.Parallel()

	imp := New(Options{
		NoFilesystem: true,
		Extensions:   MustExtensionTable([]Extension{{Ext: "scss", Syntax: SyntaxSCSS}}),
	})
	assert.Equal(t, []Candidate{
		{Path: "a.scss", Syntax: SyntaxSCSS},
		{Path: "_a.scss", Syntax: SyntaxSCSS},
	}, imp.Candidates("a"))
}

func TestLookupAssetVisitsCandidatesInOrder(t *testing.T) {
	t.Parallel()

	cat := &memCatalog{files: map[string]string{"lib/_b.sass": "b"}}
	imp := New(Options{Catalog: cat, NoFilesystem: true})

	_, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: "lib", Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"lib/b.css", "lib/_b.css",
		"lib/b.sass", "lib/_b.sass",
		"lib/b.scss", "lib/_b.scss",
	}, cat.lookedUp)
}

// ownedCatalog hands out assets whose Owner must come back to Open.
type ownedCatalog struct {
	files map[string]string
}

func (o ownedCatalog) Lookup(p string) (Asset, bool) {
	key, err := UnescapeGlob(p)
	if err != nil {
		return Asset{}, false
	}
	if _, ok := o.files[key]; !ok {
		return Asset{}, false
	}
	return Asset{Path: "shared.scss", Owner: key}, true
}

func (o ownedCatalog) Open(a Asset) (io.ReadCloser, error) {
	key, ok := a.Owner.(string)
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(o.files[key])), nil
}

func TestResolveImportOpensLookedUpAsset(t *testing.T) {
	t.Parallel()

	imp := New(Options{
		Catalog:      ownedCatalog{files: map[string]string{"a/x.scss": "from a", "b/x.scss": "from b"}},
		NoFilesystem: true,
	})

	tests := []struct {
		dir  string
		want string
	}{
		{dir: "a", want: "from a"},
		{dir: "b", want: "from b"},
	}
	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			t.Parallel()

			got, err := imp.ResolveImport(context.Background(), ImportRequest{Directory: tt.dir, Name: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got.Content))
		})
	}
}

func TestRelativeTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    string
		dir  string
		want string
	}{
		{name: "current dir", p: "foo.scss", dir: ".", want: "foo.scss"},
		{name: "beneath dir", p: "styles/foo.scss", dir: "styles", want: "foo.scss"},
		{name: "rooted dir", p: "/assets/css/_foo.scss", dir: "/assets/css/", want: "_foo.scss"},
		{name: "rooted dir bare path", p: "assets/css/foo.scss", dir: "/assets/css", want: "foo.scss"},
		{name: "outside dir", p: "/vendor/foo.scss", dir: "/assets", want: "/vendor/foo.scss"},
		{name: "sibling prefix", p: "assets-old/foo.scss", dir: "assets", want: "assets-old/foo.scss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, relativeTo(tt.p, tt.dir))
		})
	}
}
