package stats

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndisidore/sassimport/pkg/importer"
)

func resolved(path string, src importer.Source, size int, ambiguous bool) importer.ResolvedImport {
	return importer.ResolvedImport{
		CanonicalPath: path,
		Source:        src,
		Content:       []byte(strings.Repeat("x", size)),
		Ambiguous:     ambiguous,
	}
}

func TestCollector(t *testing.T) {
	t.Parallel()

	t.Run("aggregates by source", func(t *testing.T) {
		t.Parallel()

		c := NewCollector()
		c.Observe(resolved("lib/_a.scss", importer.SourceAsset, 100, false), time.Millisecond)
		c.Observe(resolved("lib/_a.scss", importer.SourceAsset, 100, false), time.Millisecond)
		c.Observe(resolved("b.sass", importer.SourceAsset, 50, true), time.Millisecond)
		c.Observe(resolved("vendor/c.css", importer.SourceFilesystem, 10, false), 2*time.Millisecond)
		c.ObserveFailure()

		r := c.Report()
		require.Len(t, r.Sources, 2)
		assert.Equal(t, SourceReport{
			Source:   importer.SourceAsset,
			Imports:  3,
			Files:    2,
			Bytes:    150,
			Duration: 3 * time.Millisecond,
		}, r.Sources[0])
		assert.Equal(t, importer.SourceFilesystem, r.Sources[1].Source)
		assert.Equal(t, 1, r.Ambiguous)
		assert.Equal(t, 1, r.Failed)
		assert.Equal(t, 4, r.Imports())
		assert.InDelta(t, 0.75, r.AssetRate(), 0.001)
	})

	t.Run("sources in first-observed order", func(t *testing.T) {
		t.Parallel()

		c := NewCollector()
		c.Observe(resolved("a.css", importer.SourceFilesystem, 1, false), 0)
		c.Observe(resolved("b.css", importer.SourceAsset, 1, false), 0)
		r := c.Report()
		require.Len(t, r.Sources, 2)
		assert.Equal(t, importer.SourceFilesystem, r.Sources[0].Source)
	})

	t.Run("empty report", func(t *testing.T) {
		t.Parallel()

		r := NewCollector().Report()
		assert.Empty(t, r.Sources)
		assert.Zero(t, r.Imports())
		assert.Zero(t, r.AssetRate())
	})

	t.Run("concurrent observe", func(t *testing.T) {
		t.Parallel()

		c := NewCollector()
		var wg sync.WaitGroup
		for i := range 40 {
			wg.Go(func() {
				c.Observe(resolved(fmt.Sprintf("f%d.scss", i), importer.SourceAsset, 1, false), 0)
			})
		}
		wg.Wait()
		r := c.Report()
		require.Len(t, r.Sources, 1)
		assert.Equal(t, 40, r.Sources[0].Files)
	})
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	PrintReport(&buf, Report{
		Sources: []SourceReport{
			{Source: importer.SourceAsset, Imports: 3, Files: 2, Bytes: 2048, Duration: time.Millisecond},
			{Source: importer.SourceFilesystem, Imports: 1, Files: 1, Bytes: 10},
		},
		Ambiguous: 1,
		Failed:    2,
	})
	out := buf.String()
	assert.Contains(t, out, "Import summary:")
	assert.Contains(t, out, "asset")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "10 B")
	assert.Contains(t, out, "Overall: 4 resolved (75.0% from assets), 1 ambiguous, 2 failed")
}
