package storage

import (
	"strings"
	"unicode"

	"healthetl/internal/record"
)

// Logical column types. Backends map them to their own DDL.
const (
	TypeText     = "text"
	TypeNumeric  = "numeric"
	TypeDatetime = "datetime"
)

// TableSpec describes one destination table.
type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

type ColumnSpec struct {
	Name string `json:"name"`
	// Type is a logical type. Values are always bound as text so a malformed
	// cell never fails a load; the logical type only documents intent.
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// RecordTable returns the spec of a table holding records of one type, with
// one nullable column per record field.
func RecordTable(name string) TableSpec {
	fields := record.Fields()
	cols := make([]ColumnSpec, len(fields))
	for i, f := range fields {
		typ := TypeText
		switch f.Kind {
		case record.KindNumeric:
			typ = TypeNumeric
		case record.KindDatetime:
			typ = TypeDatetime
		}
		cols[i] = ColumnSpec{Name: SnakeCase(f.Name), Type: typ, Nullable: true}
	}
	return TableSpec{Name: name, Columns: cols}
}

// TableName builds "<prefix><snake_type>" for a record type. Records with no
// type go to "<prefix>untyped".
func TableName(prefix, recordType string) string {
	s := SnakeCase(recordType)
	if s == "" {
		s = "untyped"
	}
	return prefix + s
}

// SnakeCase converts identifiers such as "HeartRateVariabilitySDNN" or
// "sourceName" to "heart_rate_variability_sdnn" / "source_name". Runs of
// characters that are not letters or digits collapse into one underscore.
func SnakeCase(s string) string {
	rs := []rune(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(rs) + 4)

	lastUnderscore := true
	for i, r := range rs {
		switch {
		case unicode.IsUpper(r):
			prevLower := i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1]))
			nextLower := i > 0 && i+1 < len(rs) && unicode.IsUpper(rs[i-1]) && unicode.IsLower(rs[i+1])
			if (prevLower || nextLower) && !lastUnderscore {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
