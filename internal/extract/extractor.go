package extract

import (
	"context"
	"io"
	"log"
	"time"

	"healthetl/internal/metrics"
)

// Options configure an Extractor.
type Options struct {
	// Verbose enables progress lines on Logger.
	Verbose bool
	// Logger receives progress lines. Nil uses the standard logger.
	Logger *log.Logger
}

// Extractor runs load -> normalize -> classify/count for one export.
type Extractor struct {
	log *log.Logger
}

// New returns an Extractor.
func New(opts Options) *Extractor {
	l := opts.Logger
	if l == nil {
		l = log.Default()
	}
	if !opts.Verbose {
		l = log.New(io.Discard, "", 0)
	}
	return &Extractor{log: l}
}

// Result is the outcome of one extraction run. Doc is normalized and must be
// treated as read-only.
type Result struct {
	Doc            *Document
	Classification Classification
	Stats          Counters
}

// Run loads the export at path, normalizes it and computes the type
// classification and frequency counters.
func (e *Extractor) Run(ctx context.Context, path string) (_ *Result, err error) {
	defer metrics.RecordStep("extract", time.Now(), &err)

	e.log.Printf("Reading data from %s . . .", path)
	doc, err := e.load(ctx, path)
	if err != nil {
		return nil, err
	}
	e.log.Printf("done (%d nodes under <%s>)", len(doc.Nodes), doc.Root)

	Normalize(doc)
	cls := Classify(doc)
	stats := CollectStats(doc)

	for t, n := range cls {
		metrics.IncCounter(metrics.RecordsTotal, float64(n), metrics.Labels{"kind": t})
	}
	e.log.Printf("classified %d records into %d types", doc.GenericCount(), len(cls))

	return &Result{Doc: doc, Classification: cls, Stats: stats}, nil
}

func (e *Extractor) load(ctx context.Context, path string) (_ *Document, err error) {
	defer metrics.RecordStep("parse", time.Now(), &err)
	return Load(ctx, path)
}
