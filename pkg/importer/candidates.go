package importer

import (
	"strings"
)

// Candidate is one path an import name may refer to, with the syntax the
// path implies. Position in a candidate list is precedence.
type Candidate struct {
	Path   string
	Syntax Syntax
}

// Generate returns the candidates for name using the default extension table.
func Generate(name string) []Candidate {
	return _defaultTable.Candidates(name)
}

// Candidates returns the ordered candidate paths for an import name. A name
// carrying a known extension yields the plain and partial forms for that
// syntax only. An extensionless name yields plain then partial for every
// table entry in priority order. Returned paths are glob-escaped and never
// begin with "./".
func (t *ExtensionTable) Candidates(name string) []Candidate {
	name = EscapeGlob(normalizeSeparators(name))
	dir, base := splitDir(name)
	stem, ext, known := t.splitExt(base)

	if known {
		syn := t.byExt[ext]
		pref := t.bySyntax[syn]
		return []Candidate{
			{Path: stripDotSlash(dir + stem + "." + pref), Syntax: syn},
			{Path: stripDotSlash(dir + "_" + stem + "." + pref), Syntax: syn},
		}
	}

	out := make([]Candidate, 0, 2*len(t.entries))
	for _, e := range t.entries {
		out = append(out,
			Candidate{Path: stripDotSlash(dir + base + "." + e.Ext), Syntax: e.Syntax},
			Candidate{Path: stripDotSlash(dir + "_" + base + "." + e.Ext), Syntax: e.Syntax},
		)
	}
	return out
}

// splitDir splits name into a directory ending in "/" and a base name. A bare
// name gets "./", which stripDotSlash later removes.
func splitDir(name string) (string, string) {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return "./", name
	}
	return name[:i+1], name[i+1:]
}

// stripDotSlash drops a leading "./"; some catalog hosts cannot open paths
// that start with it.
func stripDotSlash(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
