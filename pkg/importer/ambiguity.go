package importer

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// DiagnosticSink receives user-facing warnings.
type DiagnosticSink interface {
	Warn(msg string)
}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(msg string)

// Warn calls f(msg).
func (f DiagnosticFunc) Warn(msg string) { f(msg) }

// WarnedSet records logical import names that have already produced an
// ambiguity warning. Entries are never removed. It is safe for concurrent use.
type WarnedSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewWarnedSet returns an empty set.
func NewWarnedSet() *WarnedSet {
	return &WarnedSet{names: make(map[string]struct{})}
}

// MarkOnce adds name and reports whether it was absent. Exactly one of any
// number of concurrent callers with the same name gets true.
func (w *WarnedSet) MarkOnce(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.names == nil {
		w.names = make(map[string]struct{})
	}
	if _, ok := w.names[name]; ok {
		return false
	}
	w.names[name] = struct{}{}
	return true
}

// Contains reports whether name has been marked.
func (w *WarnedSet) Contains(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.names[name]
	return ok
}

// Len returns the number of marked names.
func (w *WarnedSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.names)
}

// logicalName identifies an import target independent of which candidate
// wins: the requesting directory joined with the name as written.
func logicalName(dir, name string) string {
	name = normalizeSeparators(name)
	dir = normalizeSeparators(dir)
	if dir == "" || path.IsAbs(name) {
		return path.Clean(name)
	}
	return path.Join(dir, name)
}

// chooseCandidate picks the first confirmed match. When several exist and
// the logical name has not been warned about, it emits one warning.
func chooseCandidate(found []match, req ImportRequest, warned *WarnedSet, sink DiagnosticSink) (match, error) {
	switch len(found) {
	case 0:
		return match{}, &NotFoundError{Name: req.Name, Directory: req.Directory}
	case 1:
		return found[0], nil
	}

	if warned.MarkOnce(logicalName(req.Directory, req.Name)) && sink != nil {
		sink.Warn(ambiguityMessage(found, req))
	}
	return found[0], nil
}

// ambiguityMessage formats the warning. With an origin line the import
// statement is reported; without one the lookup came from a background scan
// and only the directory is reported.
func ambiguityMessage(found []match, req ImportRequest) string {
	var b strings.Builder
	if req.OriginLine > 0 {
		_, _ = fmt.Fprintf(&b, "WARNING: On line %d", req.OriginLine)
		if req.OriginFile != "" {
			_, _ = fmt.Fprintf(&b, " of %s", req.OriginFile)
		}
		b.WriteString(":\n")
		_, _ = fmt.Fprintf(&b, "  It's not clear which file to import for '@import \"%s\"'.\n", req.Name)
		b.WriteString("  Candidates:\n")
		writeCandidates(&b, found, req.Directory)
		_, _ = fmt.Fprintf(&b, "  For now I'll choose %s.\n", path.Base(found[0].canonical))
		b.WriteString("  This will be an error in future versions of Sass.\n")
		return b.String()
	}

	name := normalizeSeparators(req.Name)
	_, _ = fmt.Fprintf(&b, "WARNING: In %s:\n", path.Dir(logicalName(req.Directory, name)))
	_, _ = fmt.Fprintf(&b, "  There are multiple files that match the name \"%s\":\n", path.Base(name))
	writeCandidates(&b, found, req.Directory)
	return b.String()
}

// writeCandidates lists each match as requested, relative to dir. The
// canonical path is not used since catalogs may qualify it.
func writeCandidates(b *strings.Builder, found []match, dir string) {
	for _, m := range found {
		b.WriteString("    ")
		b.WriteString(relativeTo(requestedPath(m.Candidate, dir), dir))
		b.WriteByte('\n')
	}
}

// requestedPath is the unescaped path a candidate was looked up under.
func requestedPath(c Candidate, dir string) string {
	p, err := UnescapeGlob(c.Path)
	if err != nil {
		p = c.Path
	}
	return joinRequestDir(dir, p, false)
}

// relativeTo trims dir from p when p lies beneath it. Leading slashes are
// ignored on both sides.
func relativeTo(p, dir string) string {
	dir = strings.Trim(normalizeSeparators(dir), "/")
	if dir == "" || dir == "." {
		return p
	}
	if rest, ok := strings.CutPrefix(strings.TrimLeft(p, "/"), dir+"/"); ok {
		return rest
	}
	return p
}
