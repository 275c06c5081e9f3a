package record

import (
	"regexp"
	"strings"
)

// GenericTag is the element name of actual measurement entries in the export.
const GenericTag = "Record"

// Raw is one direct child of the export root: its element name and its flat
// attribute set. Nested content is ignored.
type Raw struct {
	Tag   string
	Attrs map[string]string
}

// IsGeneric reports whether r is a measurement record.
func (r Raw) IsGeneric() bool { return r.Tag == GenericTag }

// Get returns the attribute value and whether it was present.
func (r Raw) Get(name string) (string, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}

// Type returns the (possibly normalized) type attribute.
func (r Raw) Type() string { return r.Attrs["type"] }

// SourceName returns the sourceName attribute.
func (r Raw) SourceName() string { return r.Attrs["sourceName"] }

// Row serializes r in schema order.
func (r Raw) Row() ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		v, ok := r.Attrs[f.Name]
		s, err := FormatValue(v, ok, f.Kind)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Line serializes r as one table line without the trailing newline.
func (r Raw) Line() (string, error) {
	row, err := r.Row()
	if err != nil {
		return "", err
	}
	return strings.Join(row, ","), nil
}

// Values returns r's attributes in schema order, nil for absent ones.
// Used by database sinks where absent maps to NULL.
func (r Raw) Values() []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		if v, ok := r.Attrs[f.Name]; ok {
			out[i] = v
		}
	}
	return out
}

// (?s) so the greedy prefix always reaches the last marker with a nonempty
// tail; the result then never matches again.
var typePrefix = regexp.MustCompile(`(?s)^HK.*TypeIdentifier(.+)$`)

// NormalizeType strips the verbose vendor prefix from a type identifier:
// "HKQuantityTypeIdentifierStepCount" -> "StepCount". Identifiers that do not
// match are returned unchanged.
func NormalizeType(s string) string {
	if m := typePrefix.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
