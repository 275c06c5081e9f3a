// Package load writes extracted measurement records to a database through a
// storage.Repository, one table per record type.
package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"healthetl/internal/extract"
	"healthetl/internal/metrics"
	"healthetl/internal/record"
	"healthetl/internal/storage"
)

// DefaultBatchSize is the number of rows handed to InsertRows at once.
const DefaultBatchSize = 1000

var errNotNormalized = errors.New("load: document is not normalized")

// ErrTableClash is returned when two record types map to the same table.
var ErrTableClash = errors.New("load: table name clash")

type Options struct {
	// TablePrefix is prepended to every table name.
	TablePrefix string
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	Verbose   bool
	Logger    *log.Logger
}

// Loader copies a document's records into per-type tables.
type Loader struct {
	repo      storage.Repository
	prefix    string
	batchSize int
	log       *log.Logger
}

// Result reports the rows written for one record type.
type Result struct {
	Type  string
	Table string
	Rows  int64
}

// New returns a Loader writing to repo. The caller keeps ownership of repo.
func New(repo storage.Repository, opts Options) *Loader {
	l := opts.Logger
	if l == nil {
		l = log.Default()
	}
	if !opts.Verbose {
		l = log.New(io.Discard, "", 0)
	}
	bs := opts.BatchSize
	if bs <= 0 {
		bs = DefaultBatchSize
	}
	return &Loader{repo: repo, prefix: opts.TablePrefix, batchSize: bs, log: l}
}

// Spec returns the table spec used for records of type typ.
func (l *Loader) Spec(typ string) storage.TableSpec {
	spec := storage.RecordTable(storage.TableName(l.prefix, typ))
	spec.Columns = append(spec.Columns, storage.ColumnSpec{Name: HashColumn, Type: storage.TypeText})
	return spec
}

type pending struct {
	spec storage.TableSpec
	rows [][]any
	n    int64
}

// Load creates the tables for every type in cls and inserts the document's
// measurement records in document order, batching per table. Results are
// returned in cls.Types() order.
func (l *Loader) Load(ctx context.Context, doc *extract.Document, cls extract.Classification) (_ []Result, err error) {
	defer metrics.RecordStep("load", time.Now(), &err)

	if !doc.Normalized() {
		return nil, errNotNormalized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	types := cls.Types()
	byType := make(map[string]*pending, len(types))
	specs := make([]storage.TableSpec, 0, len(types))
	owners := make(map[string]string, len(types))
	for _, t := range types {
		p := &pending{spec: l.Spec(t)}
		if prev, taken := owners[p.spec.Name]; taken {
			return nil, fmt.Errorf("%w: types %q and %q both map to %s", ErrTableClash, prev, t, p.spec.Name)
		}
		owners[p.spec.Name] = t
		byType[t] = p
		specs = append(specs, p.spec)
	}
	if err := l.repo.EnsureTables(ctx, specs); err != nil {
		return nil, fmt.Errorf("ensure tables: %w", err)
	}

	fieldNames := record.FieldNames()
	flush := func(p *pending) error {
		if len(p.rows) == 0 {
			return nil
		}
		n, err := l.repo.InsertRows(ctx, p.spec.Name, p.spec.ColumnNames(), p.rows)
		if err != nil {
			return fmt.Errorf("load %s: %w", p.spec.Name, err)
		}
		p.n += n
		p.rows = nil
		return nil
	}

	seen := 0
	for _, n := range doc.Nodes {
		if !n.IsGeneric() {
			continue
		}
		if seen++; seen%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p := byType[n.Type()]
		if p == nil {
			return nil, fmt.Errorf("load: record type %q missing from classification", n.Type())
		}
		vals := n.Values()
		row := append(vals, RowHash(fieldNames, vals))
		p.rows = append(p.rows, row)
		if len(p.rows) >= l.batchSize {
			if err := flush(p); err != nil {
				return nil, err
			}
		}
	}

	out := make([]Result, 0, len(types))
	for _, t := range types {
		p := byType[t]
		if err := flush(p); err != nil {
			return nil, err
		}
		l.log.Printf("Loaded %s data into %s (%d rows).", label(t), p.spec.Name, p.n)
		metrics.IncCounter(metrics.RowsWrittenTotal, float64(p.n), metrics.Labels{"kind": t, "sink": "db"})
		out = append(out, Result{Type: t, Table: p.spec.Name, Rows: p.n})
	}
	return out, nil
}

func label(t string) string {
	if t == "" {
		return "untyped"
	}
	return t
}
