// Package record defines the health-export record model: the fixed, ordered
// field schema every output table uses, the raw record shape produced by the
// extractor, and the per-kind value serialization.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// Kind controls how a field value is serialized. It carries no validation:
// numeric and datetime values are opaque text.
type Kind byte

const (
	KindString   Kind = 's'
	KindNumeric  Kind = 'n'
	KindDatetime Kind = 'd'
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumeric:
		return "numeric"
	case KindDatetime:
		return "datetime"
	default:
		return fmt.Sprintf("kind(%q)", rune(k))
	}
}

// Field is one column of the schema.
type Field struct {
	Name string
	Kind Kind
}

// fields is the column order of every emitted table.
var fields = []Field{
	{Name: "sourceName", Kind: KindString},
	{Name: "sourceVersion", Kind: KindString},
	{Name: "device", Kind: KindString},
	{Name: "type", Kind: KindString},
	{Name: "unit", Kind: KindString},
	{Name: "creationDate", Kind: KindDatetime},
	{Name: "startDate", Kind: KindDatetime},
	{Name: "endDate", Kind: KindDatetime},
	{Name: "value", Kind: KindNumeric},
}

// Fields returns a copy of the ordered field schema.
func Fields() []Field {
	return append([]Field(nil), fields...)
}

// FieldNames returns the schema column names in order.
func FieldNames() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// Header is the header line written at the top of every table (no newline).
func Header() string {
	return strings.Join(FieldNames(), ",")
}

// KindOf reports the kind of a schema field.
func KindOf(name string) (Kind, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Kind, true
		}
	}
	return 0, false
}

// ErrUnknownKind is returned by FormatValue for a kind outside the schema's
// set. Reaching it means a caller built a Field by hand with a bad kind.
var ErrUnknownKind = errors.New("unknown value kind")

// FormatValue serializes one value for a table cell.
//
//   - absent (ok=false) -> empty cell
//   - KindString        -> double-quoted, backslashes escaped before quotes
//   - KindNumeric/KindDatetime -> raw text
func FormatValue(v string, ok bool, kind Kind) (string, error) {
	if !ok {
		return "", nil
	}
	switch kind {
	case KindString:
		return `"` + escaper.Replace(v) + `"`, nil
	case KindNumeric, KindDatetime:
		return v, nil
	default:
		return "", fmt.Errorf("format value: %w: %s", ErrUnknownKind, kind)
	}
}

// strings.Replacer applies the pairs in one pass, so an escaped quote's
// backslash is never escaped again.
var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
