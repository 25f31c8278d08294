// Package deps records the files a compilation pulled in through imports.
package deps

import (
	"slices"
	"sync"

	"github.com/ndisidore/sassimport/pkg/importer"
)

// Tracker is an importer.Notifier that keeps every notified canonical path
// once, in first-seen order. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

var _ importer.Notifier = (*Tracker)(nil)

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Notify records canonicalPath. It never fails.
func (t *Tracker) Notify(canonicalPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen == nil {
		t.seen = make(map[string]struct{})
	}
	if _, dup := t.seen[canonicalPath]; dup {
		return nil
	}
	t.seen[canonicalPath] = struct{}{}
	t.order = append(t.order, canonicalPath)
	return nil
}

// Paths returns the recorded paths in first-seen order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.order)
}

// Contains reports whether canonicalPath was recorded.
func (t *Tracker) Contains(canonicalPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[canonicalPath]
	return ok
}

// Reset forgets every recorded path.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.seen = make(map[string]struct{})
}
