// Package extract loads a health export document into memory, normalizes
// record type identifiers, classifies records by type and gathers frequency
// statistics.
//
// The whole node list is materialized before anything else runs: counting
// needs every record exactly once and the table writer needs the full set
// again afterwards.
package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"healthetl/internal/record"
)

// ErrParse marks a document that is not well-formed XML.
var ErrParse = errors.New("parse export xml")

// Document is the in-memory snapshot of one export.
//
// Nodes are mutated exactly once, by Normalize, before any other component
// reads them; after that the snapshot is read-only.
type Document struct {
	Path  string
	Root  string
	Nodes []record.Raw

	normalized bool
}

// Normalized reports whether Normalize has run on d.
func (d *Document) Normalized() bool { return d.normalized }

// GenericCount returns the number of measurement records.
func (d *Document) GenericCount() int {
	n := 0
	for _, r := range d.Nodes {
		if r.IsGeneric() {
			n++
		}
	}
	return n
}

// Load reads and parses the export at path.
//
// Errors:
//   - the wrapped *os.PathError when path cannot be opened or read
//     (errors.Is(err, fs.ErrNotExist) holds for a missing file)
//   - ErrParse when the document is not well-formed XML
func Load(ctx context.Context, path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	doc, err := Parse(ctx, f)
	if err != nil {
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

// Parse reads an export from r. Every direct child of the root element
// becomes one record.Raw; deeper elements (metadata entries, workout routes)
// are validated but not kept.
func Parse(ctx context.Context, r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}

	depth := 0
	sawRoot := false
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapParseErr(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch depth {
			case 0:
				if sawRoot {
					return nil, fmt.Errorf("%w: second root element <%s>", ErrParse, t.Name.Local)
				}
				sawRoot = true
				doc.Root = t.Name.Local
				depth++
			case 1:
				doc.Nodes = append(doc.Nodes, rawFromStart(t))
				if err := dec.Skip(); err != nil {
					return nil, wrapParseErr(err)
				}
			}
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("%w: text outside root element", ErrParse)
			}
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: no root element", ErrParse)
	}
	return doc, nil
}

func rawFromStart(t xml.StartElement) record.Raw {
	attrs := make(map[string]string, len(t.Attr))
	for _, a := range t.Attr {
		attrs[a.Name.Local] = a.Value
	}
	return record.Raw{Tag: t.Name.Local, Attrs: attrs}
}

func wrapParseErr(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: line %d: %s", ErrParse, se.Line, se.Msg)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return fmt.Errorf("read export: %w", err)
}
