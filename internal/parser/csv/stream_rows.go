// Package csv reads the comma-separated tables produced by internal/tabular.
//
// Tables use backslash escapes inside double-quoted string fields rather than
// RFC 4180 quote doubling. The reader rewrites that dialect on the fly and
// then delegates to encoding/csv.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/transform"
)

// Options control table reading.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// RFC4180 disables the backslash-escape rewrite for tables that use
	// standard quote doubling.
	RFC4180 bool
	// TrimSpace trims leading/trailing whitespace from every value.
	TrimSpace bool
}

// Row is one data line aligned to the table header.
type Row struct {
	Line   int // 1-based record number; the header is record 1
	Values []string
	index  map[string]int
}

// Get returns the value of column name and whether the column exists.
func (r Row) Get(name string) (string, bool) {
	i, ok := r.index[name]
	if !ok || i >= len(r.Values) {
		return "", false
	}
	return r.Values[i], true
}

// Reader reads a header-tagged table row by row.
type Reader struct {
	cr     *csv.Reader
	header []string
	index  map[string]int
	line   int
	trim   bool
}

// NewReader reads the header line from r and returns a Reader positioned at
// the first data row. An input with no header at all is an error.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}
	if !opt.RFC4180 {
		if comma > 0x7f {
			return nil, fmt.Errorf("csv: escaped dialect needs an ASCII delimiter, got %q", comma)
		}
		r = transform.NewReader(r, newUnescaper(byte(comma)))
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = opt.TrimSpace
	cr.FieldsPerRecord = -1

	rd := &Reader{cr: cr, trim: opt.TrimSpace}
	hdr, err := rd.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty table")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	rd.header = make([]string, len(hdr))
	rd.index = make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		rd.header[i] = h
		if _, dup := rd.index[h]; !dup {
			rd.index[h] = i
		}
	}
	return rd, nil
}

// Header returns the table's column names in file order.
func (r *Reader) Header() []string {
	return append([]string(nil), r.header...)
}

// HasColumn reports whether the header contains name.
func (r *Reader) HasColumn(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Read returns the next row, or io.EOF after the last one.
func (r *Reader) Read() (Row, error) {
	rec, err := r.next()
	if err != nil {
		return Row{}, err
	}
	if r.trim {
		for i, v := range rec {
			rec[i] = strings.TrimSpace(v)
		}
	}
	return Row{Line: r.line, Values: rec, index: r.index}, nil
}

func (r *Reader) next() ([]string, error) {
	rec, err := r.cr.Read()
	var pe *csv.ParseError
	if err == nil || errors.As(err, &pe) {
		r.line++
	}
	return rec, err
}
