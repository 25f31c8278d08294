package importer

import (
	"io"
	"path"
	"strings"
)

// Asset is a catalog entry. Path is the canonical path the catalog assigns
// to it and is stable across lookups. Owner is opaque to the importer: a
// catalog may stash whatever it needs in Lookup to reopen the same entry, and
// the importer hands the Asset back to Open unchanged.
type Asset struct {
	Path  string
	Owner any
}

// Catalog is the virtual asset namespace. Lookup receives glob-escaped,
// possibly prefix-qualified paths and must match them literally; a miss is
// reported with ok=false, never an error.
type Catalog interface {
	Lookup(p string) (Asset, bool)
	Open(a Asset) (io.ReadCloser, error)
}

// match is a candidate confirmed to exist, with its canonical path and, for
// catalog matches, the asset to open.
type match struct {
	Candidate
	canonical string
	asset     Asset
}

// joinRequestDir places a candidate under the requesting directory. The
// directory is escaped the same way candidate names are when escape is set.
func joinRequestDir(dir, candidate string, escape bool) string {
	if dir == "" || dir == "." || path.IsAbs(candidate) {
		return candidate
	}
	dir = normalizeSeparators(dir)
	if escape {
		dir = EscapeGlob(dir)
	}
	if strings.HasSuffix(dir, "/") {
		return dir + candidate
	}
	return dir + "/" + candidate
}

// lookupAsset returns the candidates the catalog confirms, in candidate
// order.
func lookupAsset(cat Catalog, candidates []Candidate, dir string) []match {
	if cat == nil {
		return nil
	}
	var found []match
	for _, c := range candidates {
		a, ok := cat.Lookup(joinRequestDir(dir, c.Path, true))
		if !ok {
			continue
		}
		found = append(found, match{Candidate: c, canonical: a.Path, asset: a})
	}
	return found
}

// lookupFilesystem returns the first candidate that exists on fsys.
// Candidates whose escapes cannot be undone are skipped.
func lookupFilesystem(fsys FileSystem, candidates []Candidate, dir string) (match, bool) {
	if fsys == nil {
		return match{}, false
	}
	for _, c := range candidates {
		p, err := UnescapeGlob(joinRequestDir(dir, c.Path, true))
		if err != nil {
			continue
		}
		p = path.Clean(p)
		if fsys.Exists(p) {
			return match{Candidate: c, canonical: p}, true
		}
	}
	return match{}, false
}
