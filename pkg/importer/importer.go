// Package importer resolves stylesheet @import names against a virtual asset
// catalog, falling back to the real filesystem.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"

	"github.com/ndisidore/sassimport/pkg/slogctx"
)

// ErrNotFound is the root of every unresolved import error. It matches
// errdefs.IsNotFound.
var ErrNotFound = fmt.Errorf("import not found: %w", errdefs.ErrNotFound)

// NotFoundError reports an import with no candidate in either namespace.
type NotFoundError struct {
	Name      string
	Directory string
	Tried     []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("import %q from %s: no matching file", e.Name, e.Directory)
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	return msg
}

// Unwrap returns ErrNotFound.
func (*NotFoundError) Unwrap() error { return ErrNotFound }

// Source tags the namespace an import resolved from.
type Source int

// Namespaces, in lookup order.
const (
	SourceAsset Source = iota
	SourceFilesystem
)

func (s Source) String() string {
	if s == SourceFilesystem {
		return "filesystem"
	}
	return "asset"
}

// ImportRequest is one @import occurrence. OriginLine is 1-based; zero
// means the request did not come from an import statement (a watch or
// staleness scan). OriginFile may be empty.
type ImportRequest struct {
	Directory  string
	Name       string
	OriginLine int
	OriginFile string
}

// ResolvedImport is the single file an import refers to.
type ResolvedImport struct {
	CanonicalPath string
	Syntax        Syntax
	Source        Source
	Content       []byte
	// Digest identifies Content for caching.
	Digest digest.Digest
	// Ambiguous is set when more than one catalog candidate existed.
	Ambiguous bool
}

// Resolver is what a stylesheet compiler needs to follow imports.
type Resolver interface {
	ResolveImport(ctx context.Context, req ImportRequest) (ResolvedImport, error)
}

// Notifier is told about every successful resolution, for dependency and
// staleness tracking. Errors are logged and otherwise ignored.
type Notifier interface {
	Notify(canonicalPath string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(canonicalPath string) error

// Notify calls f.
func (f NotifierFunc) Notify(canonicalPath string) error { return f(canonicalPath) }

// Options configures an Importer. Zero values pick defaults: the default
// extension table, a private WarnedSet, and an OSFileSystem rooted at the
// working directory. A nil Catalog disables asset lookup.
type Options struct {
	Catalog     Catalog
	FileSystem  FileSystem
	Notifier    Notifier
	Diagnostics DiagnosticSink
	Warned      *WarnedSet
	Extensions  *ExtensionTable
	// AlwaysStale makes NeedsUpdate report true unconditionally.
	AlwaysStale bool
	// NoFilesystem disables the filesystem fallback.
	NoFilesystem bool
}

// Importer implements Resolver. It is safe for concurrent use when its
// collaborators are.
type Importer struct {
	catalog     Catalog
	fsys        FileSystem
	notifier    Notifier
	diagnostics DiagnosticSink
	warned      *WarnedSet
	table       *ExtensionTable
	alwaysStale bool
}

var _ Resolver = (*Importer)(nil)

// New returns an Importer for opts.
func New(opts Options) *Importer {
	imp := &Importer{
		catalog:     opts.Catalog,
		fsys:        opts.FileSystem,
		notifier:    opts.Notifier,
		diagnostics: opts.Diagnostics,
		warned:      opts.Warned,
		table:       opts.Extensions,
		alwaysStale: opts.AlwaysStale,
	}
	switch {
	case opts.NoFilesystem:
		imp.fsys = nil
	case imp.fsys == nil:
		imp.fsys = OSFileSystem{}
	}
	if imp.warned == nil {
		imp.warned = NewWarnedSet()
	}
	if imp.table == nil {
		imp.table = _defaultTable
	}
	return imp
}

// Candidates returns the candidate list this importer searches for name.
func (imp *Importer) Candidates(name string) []Candidate {
	return imp.table.Candidates(name)
}

// ResolveImport finds the file req refers to, reads it, and notifies the
// on-import hook. It returns a *NotFoundError when nothing matches.
func (imp *Importer) ResolveImport(ctx context.Context, req ImportRequest) (ResolvedImport, error) {
	log := slogctx.FromContext(ctx)
	candidates := imp.table.Candidates(req.Name)

	source := SourceAsset
	found := lookupAsset(imp.catalog, candidates, req.Directory)
	if len(found) == 0 {
		if m, ok := lookupFilesystem(imp.fsys, candidates, req.Directory); ok {
			found = []match{m}
			source = SourceFilesystem
		}
	}

	chosen, err := chooseCandidate(found, req, imp.warned, imp.sink(ctx, log))
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			nf.Tried = candidatePaths(candidates, req.Directory)
		}
		return ResolvedImport{}, err
	}

	content, err := imp.read(source, chosen)
	if err != nil {
		return ResolvedImport{}, fmt.Errorf("import %q from %s: reading %s: %w",
			req.Name, req.Directory, chosen.canonical, err)
	}

	res := ResolvedImport{
		CanonicalPath: chosen.canonical,
		Syntax:        chosen.Syntax,
		Source:        source,
		Content:       content,
		Digest:        digest.FromBytes(content),
		Ambiguous:     len(found) > 1,
	}

	imp.notify(ctx, log, res.CanonicalPath)

	log.LogAttrs(ctx, slog.LevelDebug, "resolved import",
		slog.String("name", req.Name),
		slog.String("dir", req.Directory),
		slog.String("path", res.CanonicalPath),
		slog.String("source", res.Source.String()),
		slog.String("syntax", res.Syntax.String()),
	)
	return res, nil
}

// ResolveRelative resolves name relative to the directory of the importing
// file baseFile. line is the @import line, or zero when unknown.
func (imp *Importer) ResolveRelative(ctx context.Context, name, baseFile string, line int) (ResolvedImport, error) {
	return imp.ResolveImport(ctx, ImportRequest{
		Directory:  path.Dir(normalizeSeparators(baseFile)),
		Name:       name,
		OriginLine: line,
		OriginFile: baseFile,
	})
}

// NeedsUpdate reports whether output compiled from res is stale relative to
// the digest recorded at the previous compilation.
func (imp *Importer) NeedsUpdate(res ResolvedImport, previous digest.Digest) bool {
	if imp.alwaysStale || previous == "" {
		return true
	}
	return res.Digest != previous
}

// sink returns the configured DiagnosticSink, or one that logs through the
// context logger.
func (imp *Importer) sink(ctx context.Context, log *slog.Logger) DiagnosticSink {
	if imp.diagnostics != nil {
		return imp.diagnostics
	}
	return DiagnosticFunc(func(msg string) {
		//nolint:sloglint // the warning text is the user-facing message
		log.LogAttrs(ctx, slog.LevelWarn, msg, slog.String("event", "import.ambiguous"))
	})
}

// notify calls the on-import hook. Errors and panics from the hook are
// logged and never fail the resolution.
func (imp *Importer) notify(ctx context.Context, log *slog.Logger, canonical string) {
	if imp.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.LogAttrs(ctx, slog.LevelDebug, "on-import notification panicked",
				slog.String("path", canonical),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := imp.notifier.Notify(canonical); err != nil {
		log.LogAttrs(ctx, slog.LevelDebug, "on-import notification failed",
			slog.String("path", canonical),
			slog.String("error", err.Error()),
		)
	}
}

// Warned exposes the set used for ambiguity deduplication.
func (imp *Importer) Warned() *WarnedSet { return imp.warned }

func (imp *Importer) read(source Source, m match) ([]byte, error) {
	if source == SourceFilesystem {
		return imp.fsys.ReadFile(m.canonical)
	}
	rc, err := imp.catalog.Open(m.asset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func candidatePaths(candidates []Candidate, dir string) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = joinRequestDir(dir, c.Path, true)
	}
	return out
}
