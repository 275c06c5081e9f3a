// Package plot turns a record table into a per-day value series and renders
// it as a self-contained HTML line chart.
package plot

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	tablecsv "healthetl/internal/parser/csv"
)

// Timestamp layouts accepted for creationDate, tried in order.
var layouts = []string{
	"2006-01-02 15:04:05 -0700",
	time.RFC3339Nano,
	"2006-01-02",
}

// Point is the summed value of one calendar day.
type Point struct {
	Day   string // YYYY-MM-DD in the timestamp's own offset
	Value float64
}

// Series is a date-ordered list of daily totals.
type Series struct {
	Points []Point
	// Skipped counts rows whose date or value could not be parsed.
	Skipped int
}

// ParseTimestamp parses a creationDate cell.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported layout", s)
}

// ReadOptions control how ReadDailySeries parses the table.
type ReadOptions struct {
	// RFC4180 reads tables re-saved with standard quote doubling instead of
	// backslash escapes.
	RFC4180 bool
}

// ReadDailySeries reads the table at path and sums value per calendar day of
// creationDate. A header without creationDate or value is an error even when
// the table has no data rows.
func ReadDailySeries(ctx context.Context, path string, opt ReadOptions) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	rd, err := tablecsv.NewReader(f, tablecsv.Options{RFC4180: opt.RFC4180, TrimSpace: true})
	if err != nil {
		return Series{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := requireColumns(rd.Header(), "creationDate", "value"); err != nil {
		return Series{}, fmt.Errorf("read %s: %w", path, err)
	}

	sums := map[string]float64{}
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return Series{}, err
		}
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			skipped++
			continue
		}
		if err != nil {
			return Series{}, fmt.Errorf("read %s: %w", path, err)
		}

		ds, _ := row.Get("creationDate")
		vs, _ := row.Get("value")
		ts, err := ParseTimestamp(ds)
		if err != nil {
			skipped++
			continue
		}
		v, err := strconv.ParseFloat(vs, 64)
		if err != nil {
			skipped++
			continue
		}
		sums[ts.Format("2006-01-02")] += v
	}

	days := make([]string, 0, len(sums))
	for d := range sums {
		days = append(days, d)
	}
	sort.Strings(days)

	s := Series{Points: make([]Point, len(days)), Skipped: skipped}
	for i, d := range days {
		s.Points[i] = Point{Day: d, Value: sums[d]}
	}
	return s, nil
}

func requireColumns(hdr []string, names ...string) error {
	have := make(map[string]bool, len(hdr))
	for _, h := range hdr {
		have[h] = true
	}
	for _, n := range names {
		if !have[n] {
			return fmt.Errorf("table lacks column %q", n)
		}
	}
	return nil
}

// WriteCSV writes the series as a plain "date,value" CSV.
func WriteCSV(w io.Writer, s Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "value"}); err != nil {
		return err
	}
	for _, p := range s.Points {
		if err := cw.Write([]string{p.Day, strconv.FormatFloat(p.Value, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
