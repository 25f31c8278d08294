// Package catalog provides asset catalogs for the importer: an in-memory map,
// directory roots indexed on disk, and an ordered chain of catalogs.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/sassimport/pkg/importer"
)

// ErrUnknownAsset is returned by Open for assets the catalog does not hold.
var ErrUnknownAsset = fmt.Errorf("unknown asset: %w", errdefs.ErrNotFound)

// ErrEscapesRoot rejects virtual paths that climb above the catalog root.
var ErrEscapesRoot = errors.New("path escapes catalog root")

// VirtualPath turns a lookup key into the catalog-relative form: glob
// escapes undone, separators normalized, the virtual prefix and leading
// slashes trimmed, and the result cleaned.
func VirtualPath(key, prefix string) (string, error) {
	p, err := importer.UnescapeGlob(key)
	if err != nil {
		return "", err
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if prefix != "" {
		bare := strings.Trim(prefix, "/") + "/"
		p = strings.TrimPrefix(strings.TrimLeft(p, "/"), bare)
	}
	p = path.Clean(strings.TrimLeft(p, "/"))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%q: %w", key, ErrEscapesRoot)
	}
	return p, nil
}

// qualify turns a catalog-relative key into the canonical path reported to
// the importer. Prefixed catalogs keep their prefix so the same relative
// file in a prefixed and an unprefixed catalog stays distinct.
func qualify(prefix, key string) string {
	bare := strings.Trim(prefix, "/")
	if bare == "" {
		return key
	}
	return bare + "/" + key
}

// unqualify reverses qualify for a canonical path handed back to Open.
func unqualify(prefix, canonical string) (string, error) {
	return VirtualPath(importer.EscapeGlob(canonical), prefix)
}

// Chain consults catalogs in order; the first one holding a path wins.
type Chain []importer.Catalog

// chainOwner remembers which member answered a lookup.
type chainOwner struct {
	index int
	asset importer.Asset
}

var _ importer.Catalog = Chain(nil)

// Lookup returns the asset from the first catalog that has p.
func (c Chain) Lookup(p string) (importer.Asset, bool) {
	for i, cat := range c {
		if a, ok := cat.Lookup(p); ok {
			return importer.Asset{Path: a.Path, Owner: chainOwner{index: i, asset: a}}, true
		}
	}
	return importer.Asset{}, false
}

// Open opens a from the catalog that answered its lookup. Assets built by
// hand fall back to the first catalog whose canonical path matches.
func (c Chain) Open(a importer.Asset) (io.ReadCloser, error) {
	if o, ok := a.Owner.(chainOwner); ok && o.index < len(c) {
		return c[o.index].Open(o.asset)
	}
	key := importer.EscapeGlob(a.Path)
	for _, cat := range c {
		if got, ok := cat.Lookup(key); ok && got.Path == a.Path {
			return cat.Open(got)
		}
	}
	return nil, fmt.Errorf("%s: %w", a.Path, ErrUnknownAsset)
}
