package importer

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Syntax is the stylesheet dialect of an import, inferred from its extension.
type Syntax int

// Known syntaxes.
const (
	SyntaxUnknown Syntax = iota
	SyntaxCSS
	SyntaxSass
	SyntaxSCSS
)

// ErrUnknownSyntax is returned when a syntax name cannot be parsed.
var ErrUnknownSyntax = errors.New("unknown syntax")

// String returns the lowercase syntax name.
func (s Syntax) String() string {
	switch s {
	case SyntaxCSS:
		return "css"
	case SyntaxSass:
		return "sass"
	case SyntaxSCSS:
		return "scss"
	default:
		return "unknown"
	}
}

// ParseSyntax converts a syntax name (case-insensitive) into a Syntax.
func ParseSyntax(s string) (Syntax, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "css":
		return SyntaxCSS, nil
	case "sass":
		return SyntaxSass, nil
	case "scss":
		return SyntaxSCSS, nil
	default:
		return SyntaxUnknown, fmt.Errorf("%w: %q (expected css, sass, or scss)", ErrUnknownSyntax, s)
	}
}

// Extension pairs a file extension (without the leading dot) with the syntax
// it implies.
type Extension struct {
	Ext    string
	Syntax Syntax
}

// Sentinel errors for extension table construction.
var (
	ErrEmptyExtension     = errors.New("empty extension")
	ErrDuplicateExtension = errors.New("duplicate extension")
)

// ExtensionTable is an ordered extension -> syntax mapping. Entry order is the
// search priority for extensionless imports. The reverse mapping keeps the
// first extension declared for each syntax, so an import written with an
// alias extension searches the syntax's preferred one.
type ExtensionTable struct {
	entries   []Extension
	bySyntax  map[Syntax]string
	byExt     map[string]Syntax
	longFirst []string // extensions sorted longest first, for suffix matching
}

// DefaultExtensions is the priority order used when no table is configured:
// alphabetical by extension.
var DefaultExtensions = []Extension{
	{Ext: "css", Syntax: SyntaxCSS},
	{Ext: "sass", Syntax: SyntaxSass},
	{Ext: "scss", Syntax: SyntaxSCSS},
}

// NewExtensionTable builds a table from entries in priority order.
func NewExtensionTable(entries []Extension) (*ExtensionTable, error) {
	t := &ExtensionTable{
		entries:  make([]Extension, 0, len(entries)),
		bySyntax: make(map[Syntax]string, len(entries)),
		byExt:    make(map[string]Syntax, len(entries)),
	}
	for _, e := range entries {
		ext := strings.TrimPrefix(strings.TrimSpace(e.Ext), ".")
		if ext == "" {
			return nil, ErrEmptyExtension
		}
		if _, dup := t.byExt[ext]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateExtension, ext)
		}
		if e.Syntax == SyntaxUnknown {
			return nil, fmt.Errorf("extension %q: %w", ext, ErrUnknownSyntax)
		}
		t.entries = append(t.entries, Extension{Ext: ext, Syntax: e.Syntax})
		t.byExt[ext] = e.Syntax
		if _, ok := t.bySyntax[e.Syntax]; !ok {
			t.bySyntax[e.Syntax] = ext
		}
		t.longFirst = append(t.longFirst, ext)
	}
	sort.SliceStable(t.longFirst, func(i, j int) bool {
		return len(t.longFirst[i]) > len(t.longFirst[j])
	})
	return t, nil
}

// MustExtensionTable is NewExtensionTable for static tables; it panics on error.
func MustExtensionTable(entries []Extension) *ExtensionTable {
	t, err := NewExtensionTable(entries)
	if err != nil {
		panic(fmt.Sprintf("importer: invalid extension table: %v", err))
	}
	return t
}

var _defaultTable = MustExtensionTable(DefaultExtensions)

// DefaultTable returns the table built from DefaultExtensions.
func DefaultTable() *ExtensionTable { return _defaultTable }

// Entries returns a copy of the table entries in priority order.
func (t *ExtensionTable) Entries() []Extension {
	out := make([]Extension, len(t.entries))
	copy(out, t.entries)
	return out
}

// Syntaxes returns the distinct syntaxes in priority order.
func (t *ExtensionTable) Syntaxes() []Syntax {
	seen := make(map[Syntax]struct{}, len(t.bySyntax))
	out := make([]Syntax, 0, len(t.bySyntax))
	for _, e := range t.entries {
		if _, ok := seen[e.Syntax]; ok {
			continue
		}
		seen[e.Syntax] = struct{}{}
		out = append(out, e.Syntax)
	}
	return out
}

// SyntaxOf returns the syntax registered for ext (with or without the dot).
func (t *ExtensionTable) SyntaxOf(ext string) (Syntax, bool) {
	s, ok := t.byExt[strings.TrimPrefix(ext, ".")]
	return s, ok
}

// PreferredExtension returns the first extension declared for syntax.
func (t *ExtensionTable) PreferredExtension(s Syntax) (string, bool) {
	ext, ok := t.bySyntax[s]
	return ext, ok
}

// splitExt splits a base name into stem and known extension. Unknown
// extensions stay part of the stem.
func (t *ExtensionTable) splitExt(base string) (string, string, bool) {
	for _, ext := range t.longFirst {
		suffix := "." + ext
		if len(base) > len(suffix) && strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix), ext, true
		}
	}
	return base, "", false
}

// InferSyntax picks the syntax for a stylesheet file. An explicit syntax
// wins, then the extension, then fallback.
func InferSyntax(filename string, explicit, fallback Syntax) Syntax {
	if explicit != SyntaxUnknown {
		return explicit
	}
	if s, ok := _defaultTable.SyntaxOf(path.Ext(filename)); ok {
		return s
	}
	return fallback
}
