// Package stats summarizes import resolutions for the CLI report.
package stats

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ndisidore/sassimport/pkg/importer"
)

// SourceReport aggregates resolutions from one namespace.
type SourceReport struct {
	Source   importer.Source
	Imports  int
	Files    int
	Bytes    uint64
	Duration time.Duration
}

// Report aggregates resolution statistics.
type Report struct {
	Sources   []SourceReport
	Ambiguous int
	Failed    int
}

// Imports returns the number of successful resolutions.
func (r Report) Imports() int {
	var n int
	for i := range r.Sources {
		n += r.Sources[i].Imports
	}
	return n
}

// AssetRate returns the share (0.0-1.0) of successful resolutions served by
// the asset catalog. Returns 0 when nothing resolved.
func (r Report) AssetRate() float64 {
	total := r.Imports()
	if total == 0 {
		return 0
	}
	for i := range r.Sources {
		if r.Sources[i].Source == importer.SourceAsset {
			return float64(r.Sources[i].Imports) / float64(total)
		}
	}
	return 0
}

// Collector accumulates resolutions. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	order     []importer.Source
	sources   map[importer.Source]*SourceReport
	seen      map[string]struct{} // canonical paths already counted as files
	ambiguous int
	failed    int
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		sources: make(map[importer.Source]*SourceReport),
		seen:    make(map[string]struct{}),
	}
}

// Observe records one successful resolution that took d. A canonical path
// contributes its bytes once no matter how often it resolves.
func (c *Collector) Observe(res importer.ResolvedImport, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sr, ok := c.sources[res.Source]
	if !ok {
		sr = &SourceReport{Source: res.Source}
		c.sources[res.Source] = sr
		c.order = append(c.order, res.Source)
	}
	sr.Imports++
	sr.Duration += d
	if _, dup := c.seen[res.CanonicalPath]; !dup {
		c.seen[res.CanonicalPath] = struct{}{}
		sr.Files++
		sr.Bytes += uint64(len(res.Content))
	}
	if res.Ambiguous {
		c.ambiguous++
	}
}

// ObserveFailure records an unresolved import.
func (c *Collector) ObserveFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

// Report returns the statistics with sources in first-observed order.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := Report{
		Sources:   make([]SourceReport, 0, len(c.order)),
		Ambiguous: c.ambiguous,
		Failed:    c.failed,
	}
	for _, src := range c.order {
		r.Sources = append(r.Sources, *c.sources[src])
	}
	return r
}

// PrintReport writes a human-readable summary to w.
func PrintReport(w io.Writer, r Report) {
	_, _ = fmt.Fprintln(w, "Import summary:")
	for _, sr := range r.Sources {
		_, _ = fmt.Fprintf(w, "  %-10s %d imports, %d files, %s  %s\n",
			sr.Source, sr.Imports, sr.Files, humanize.Bytes(sr.Bytes), sr.Duration.Round(time.Microsecond))
	}
	_, _ = fmt.Fprintf(w, "  Overall: %d resolved (%4.1f%% from assets), %d ambiguous, %d failed\n",
		r.Imports(), r.AssetRate()*100, r.Ambiguous, r.Failed)
}
