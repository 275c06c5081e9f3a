// Package tabular writes normalized measurement records into per-type (or a
// single combined) comma-separated tables with the fixed record schema.
package tabular

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"healthetl/internal/extract"
	"healthetl/internal/metrics"
	"healthetl/internal/record"
)

// DefaultCombinedName is the file used when Options.Combined is set.
const DefaultCombinedName = "export.csv"

// Ext is the extension of every emitted table.
const Ext = ".csv"

// ErrNameClash is returned when two record types map to the same table file.
var ErrNameClash = errors.New("table name clash")

// WriteError reports a failed filesystem operation on an output destination.
type WriteError struct {
	Op   string // "mkdir", "open", "write", "close"
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options configure a Writer.
type Options struct {
	// Dir is created if missing.
	Dir string
	// Combined writes every record to one table instead of one per type.
	Combined bool
	// CombinedName overrides DefaultCombinedName.
	CombinedName string

	Verbose bool
	Logger  *log.Logger
}

// Output describes one destination after it has been closed.
type Output struct {
	// Type is the record type written, or "" for a combined table.
	Type  string
	Path  string
	Rows  int
	Bytes int64
}

// Writer fans records out to table files.
type Writer struct {
	opts Options
	log  *log.Logger
}

// NewWriter returns a Writer.
func NewWriter(opts Options) *Writer {
	if opts.CombinedName == "" {
		opts.CombinedName = DefaultCombinedName
	}
	l := opts.Logger
	if l == nil {
		l = log.Default()
	}
	if !opts.Verbose {
		l = log.New(io.Discard, "", 0)
	}
	return &Writer{opts: opts, log: l}
}

// FileName returns the per-type table name for typ. Distinct types can share
// a name ("a/b" and "a_b", "" and "untyped"); Write rejects such documents
// with ErrNameClash.
func FileName(typ string) string {
	if typ == "" {
		typ = "untyped"
	}
	typ = strings.NewReplacer("/", "_", `\`, "_").Replace(typ)
	return typ + Ext
}

type dest struct {
	typ  string
	path string
	f    *os.File
	bw   *bufio.Writer
	rows int
	n    int64
}

func (d *dest) writeLine(s string) error {
	n, err := d.bw.WriteString(s)
	d.n += int64(n)
	if err != nil {
		return err
	}
	if err := d.bw.WriteByte('\n'); err != nil {
		return err
	}
	d.n++
	return nil
}

// Write emits every measurement record of doc. cls must be the classification
// of the same (normalized) document; it decides which destinations exist.
//
// Every destination is closed before Write returns, on success and on error.
// Files already written for other types are left on disk when a later step
// fails.
func (w *Writer) Write(ctx context.Context, doc *extract.Document, cls extract.Classification) (_ []Output, err error) {
	defer metrics.RecordStep("write", time.Now(), &err)

	if !doc.Normalized() {
		return nil, errors.New("write tables: document not normalized")
	}
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return nil, &WriteError{Op: "mkdir", Path: w.opts.Dir, Err: err}
	}

	dests := map[string]*dest{}
	var order []*dest
	closed := false
	defer func() {
		if closed {
			return
		}
		for _, d := range order {
			_ = d.f.Close()
		}
	}()

	open := func(typ, name string) (*dest, error) {
		p := filepath.Join(w.opts.Dir, name)
		f, err := os.Create(p)
		if err != nil {
			return nil, &WriteError{Op: "open", Path: p, Err: err}
		}
		d := &dest{typ: typ, path: p, f: f, bw: bufio.NewWriterSize(f, 64<<10)}
		order = append(order, d)
		w.log.Printf("Opening %s for writing", p)
		if err := d.writeLine(record.Header()); err != nil {
			return nil, &WriteError{Op: "write", Path: p, Err: err}
		}
		return d, nil
	}

	if w.opts.Combined {
		d, err := open("", w.opts.CombinedName)
		if err != nil {
			return nil, err
		}
		for _, t := range cls.Types() {
			dests[t] = d
		}
	} else {
		owners := map[string]string{}
		for _, t := range cls.Types() {
			name := FileName(t)
			if prev, taken := owners[name]; taken {
				return nil, &WriteError{Op: "open", Path: filepath.Join(w.opts.Dir, name),
					Err: fmt.Errorf("%w: types %q and %q", ErrNameClash, prev, t)}
			}
			owners[name] = t
		}
		for _, t := range cls.Types() {
			d, err := open(t, FileName(t))
			if err != nil {
				return nil, err
			}
			dests[t] = d
		}
	}

	for i, n := range doc.Nodes {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !n.IsGeneric() {
			continue
		}
		d, ok := dests[n.Type()]
		if !ok {
			return nil, fmt.Errorf("write tables: type %q missing from classification", n.Type())
		}
		line, err := n.Line()
		if err != nil {
			return nil, err
		}
		if err := d.writeLine(line); err != nil {
			return nil, &WriteError{Op: "write", Path: d.path, Err: err}
		}
		d.rows++
	}

	closed = true
	outs := make([]Output, 0, len(order))
	var errs []error
	for _, d := range order {
		if err := d.bw.Flush(); err != nil {
			errs = append(errs, &WriteError{Op: "write", Path: d.path, Err: err})
			_ = d.f.Close()
			continue
		}
		if err := d.f.Close(); err != nil {
			errs = append(errs, &WriteError{Op: "close", Path: d.path, Err: err})
			continue
		}
		label := d.typ
		switch {
		case w.opts.Combined:
			label = "combined"
		case label == "":
			label = "untyped"
		}
		w.log.Printf("Written %s data (%d rows, %d bytes).", label, d.rows, d.n)
		metrics.IncCounter(metrics.RowsWrittenTotal, float64(d.rows), metrics.Labels{"kind": label})
		outs = append(outs, Output{Type: d.typ, Path: d.path, Rows: d.rows, Bytes: d.n})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return outs, nil
}
