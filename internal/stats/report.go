// Package stats renders the extractor's frequency counters as a plain-text
// report and persists it.
package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"healthetl/internal/extract"
)

// DefaultReportName is the report file written next to the tables.
const DefaultReportName = "report.txt"

// FormatCounter lists c as "key: count" lines sorted by key, joined by
// newline-tab so the listing nests under its section label.
func FormatCounter(c extract.Counter) string {
	keys := c.Keys()
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s: %d", k, c[k])
	}
	return strings.Join(lines, "\n\t")
}

// Format renders all four counters under their section labels.
func Format(c extract.Counters) string {
	sections := []struct {
		label string
		c     extract.Counter
	}{
		{"Tags", c.Tags},
		{"Fields", c.Fields},
		{"Record types", c.RecordTypes},
		{"Source Names", c.SourceNames},
	}

	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "%s:\n\t%s\n\n", s.label, FormatCounter(s.c))
	}
	return b.String()
}

// Report writes the formatted counters to path (creating its directory) and
// then echoes the same bytes to console. A nil console skips the echo.
func Report(path string, console io.Writer, c extract.Counters) error {
	body := Format(c)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if console != nil {
		if _, err := io.WriteString(console, body); err != nil {
			return fmt.Errorf("echo report: %w", err)
		}
	}
	return nil
}
