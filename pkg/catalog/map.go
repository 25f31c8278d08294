package catalog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ndisidore/sassimport/pkg/importer"
)

// Map is an in-memory catalog keyed by virtual path. The canonical path of
// an entry is its cleaned key, qualified by the prefix when one is set. Map
// is safe for concurrent reads.
type Map struct {
	prefix string
	files  map[string][]byte
}

var _ importer.Catalog = (*Map)(nil)

// NewMap builds a catalog from path -> content. Keys are normalized the same
// way lookups are; prefix is the optional virtual prefix (e.g. "/assets/").
func NewMap(prefix string, files map[string]string) *Map {
	m := &Map{prefix: prefix, files: make(map[string][]byte, len(files))}
	for k, v := range files {
		p, err := VirtualPath(importer.EscapeGlob(k), prefix)
		if err != nil {
			continue
		}
		m.files[p] = []byte(v)
	}
	return m
}

// Lookup reports whether p names an entry.
func (m *Map) Lookup(p string) (importer.Asset, bool) {
	key, err := VirtualPath(p, m.prefix)
	if err != nil {
		return importer.Asset{}, false
	}
	if _, ok := m.files[key]; !ok {
		return importer.Asset{}, false
	}
	return importer.Asset{Path: qualify(m.prefix, key)}, true
}

// Open returns the entry content.
func (m *Map) Open(a importer.Asset) (io.ReadCloser, error) {
	key, err := unqualify(m.prefix, a.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Path, ErrUnknownAsset)
	}
	b, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", a.Path, ErrUnknownAsset)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.files) }
