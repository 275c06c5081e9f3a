package tabular

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"healthetl/internal/extract"
	tablecsv "healthetl/internal/parser/csv"
	"healthetl/internal/record"
)

const scenario = `<HealthData>
 <ExportDate value="2023-03-01 10:00:00 +0100"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="Watch &quot;A&quot;" unit="count" creationDate="2023-02-01 10:00:00 +0100" value="1"/>
 <Record type="HKQuantityTypeIdentifierHeight" sourceName="Salute" unit="cm" value="180"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="C:\phone" value="2"/>
 <Record type="HKQuantityTypeIdentifierStepCount" value="3"/>
</HealthData>`

func loadScenario(t *testing.T) (*extract.Document, extract.Classification) {
	t.Helper()
	doc, err := extract.Parse(context.Background(), strings.NewReader(scenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	extract.Normalize(doc)
	return doc, extract.Classify(doc)
}

func readTable(t *testing.T, path string) ([]string, []tablecsv.Row) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rd, err := tablecsv.NewReader(f, tablecsv.Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	var rows []tablecsv.Row
	for {
		row, err := rd.Read()
		if err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rd.Header(), rows
}

func TestWrite_PerTypeTables(t *testing.T) {
	t.Parallel()

	doc, cls := loadScenario(t)
	dir := filepath.Join(t.TempDir(), "nested", "output")
	outs, err := NewWriter(Options{Dir: dir}).Write(context.Background(), doc, cls)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("outputs=%d want 2", len(outs))
	}

	want := map[string]int{"StepCount": 3, "Height": 1}
	total := 0
	for _, o := range outs {
		if o.Rows != want[o.Type] {
			t.Fatalf("%s rows=%d want %d", o.Type, o.Rows, want[o.Type])
		}
		if filepath.Base(o.Path) != o.Type+".csv" {
			t.Fatalf("path=%s", o.Path)
		}
		st, err := os.Stat(o.Path)
		if err != nil || st.Size() != o.Bytes {
			t.Fatalf("size mismatch for %s: stat=%v err=%v bytes=%d", o.Path, st, err, o.Bytes)
		}

		hdr, rows := readTable(t, o.Path)
		if strings.Join(hdr, ",") != record.Header() {
			t.Fatalf("header=%v", hdr)
		}
		for _, r := range rows {
			if len(r.Values) != len(record.FieldNames()) {
				t.Fatalf("row width=%d", len(r.Values))
			}
			if typ, _ := r.Get("type"); typ != o.Type {
				t.Fatalf("row of type %q in %s table", typ, o.Type)
			}
		}
		total += len(rows)
	}
	if total != doc.GenericCount() {
		t.Fatalf("rows across tables=%d generic records=%d", total, doc.GenericCount())
	}

	_, steps := readTable(t, filepath.Join(dir, "StepCount.csv"))
	var values, sources []string
	for _, r := range steps {
		v, _ := r.Get("value")
		s, _ := r.Get("sourceName")
		values = append(values, v)
		sources = append(sources, s)
	}
	if strings.Join(values, ",") != "1,2,3" {
		t.Fatalf("source order lost: %v", values)
	}
	if sources[0] != `Watch "A"` || sources[1] != `C:\phone` || sources[2] != "" {
		t.Fatalf("escaping round trip failed: %q", sources)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "StepCount.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if lines[3] != `,,,"StepCount",,,,,3` {
		t.Fatalf("absent fields must be empty: %q", lines[3])
	}
}

func TestWrite_Combined(t *testing.T) {
	t.Parallel()

	doc, cls := loadScenario(t)
	dir := t.TempDir()
	outs, err := NewWriter(Options{Dir: dir, Combined: true}).Write(context.Background(), doc, cls)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(outs) != 1 || outs[0].Rows != 4 || filepath.Base(outs[0].Path) != DefaultCombinedName {
		t.Fatalf("outs=%+v", outs)
	}
	_, rows := readTable(t, outs[0].Path)
	var types []string
	for _, r := range rows {
		typ, _ := r.Get("type")
		types = append(types, typ)
	}
	if strings.Join(types, ",") != "StepCount,Height,StepCount,StepCount" {
		t.Fatalf("types=%v", types)
	}
}

func TestWrite_TruncatesExisting(t *testing.T) {
	t.Parallel()

	doc, cls := loadScenario(t)
	dir := t.TempDir()
	stale := filepath.Join(dir, "Height.csv")
	if err := os.WriteFile(stale, []byte(strings.Repeat("stale\n", 100)), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewWriter(Options{Dir: dir}).Write(context.Background(), doc, cls); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, rows := readTable(t, stale)
	if len(rows) != 1 {
		t.Fatalf("rows=%d want 1", len(rows))
	}
}

func TestWrite_Errors(t *testing.T) {
	t.Parallel()

	doc, cls := loadScenario(t)

	t.Run("mkdir", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := NewWriter(Options{Dir: filepath.Join(file, "out")}).Write(context.Background(), doc, cls)
		var we *WriteError
		if !errors.As(err, &we) || we.Op != "mkdir" {
			t.Fatalf("want mkdir WriteError, got %v", err)
		}
	})

	t.Run("open", func(t *testing.T) {
		dir := t.TempDir()
		// A directory squatting on the second destination makes its open fail
		// after Height.csv was already opened.
		if err := os.Mkdir(filepath.Join(dir, "StepCount.csv"), 0o755); err != nil {
			t.Fatal(err)
		}
		_, err := NewWriter(Options{Dir: dir}).Write(context.Background(), doc, cls)
		var we *WriteError
		if !errors.As(err, &we) || we.Op != "open" {
			t.Fatalf("want open WriteError, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "Height.csv")); err != nil {
			t.Fatalf("earlier destination should remain on disk: %v", err)
		}
	})

	t.Run("not_normalized", func(t *testing.T) {
		raw, err := extract.Parse(context.Background(), strings.NewReader(scenario))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewWriter(Options{Dir: t.TempDir()}).Write(context.Background(), raw, extract.Classify(raw)); err == nil {
			t.Fatalf("expected error for unnormalized document")
		}
	})
}

func TestWrite_FileNameClash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records string
		file    string
	}{
		{
			name:    "untyped",
			records: `<Record type="untyped" value="1"/><Record value="2"/>`,
			file:    "untyped.csv",
		},
		{
			name:    "separator",
			records: `<Record type="x/y" value="3"/><Record type="x_y" value="4"/>`,
			file:    "x_y.csv",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc, err := extract.Parse(context.Background(), strings.NewReader("<HealthData>"+tt.records+"</HealthData>"))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			extract.Normalize(doc)
			cls := extract.Classify(doc)
			if len(cls) != 2 {
				t.Fatalf("classification=%v, want two types", cls)
			}

			dir := t.TempDir()
			outs, err := NewWriter(Options{Dir: dir}).Write(context.Background(), doc, cls)
			var we *WriteError
			if !errors.Is(err, ErrNameClash) || !errors.As(err, &we) || we.Op != "open" {
				t.Fatalf("want open WriteError wrapping ErrNameClash, got outs=%v err=%v", outs, err)
			}
			if filepath.Base(we.Path) != tt.file {
				t.Fatalf("path=%s want %s", we.Path, tt.file)
			}
			if _, err := os.Stat(filepath.Join(dir, tt.file)); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("no table should be written on a clash, stat err=%v", err)
			}
		})
	}

	t.Run("combined_is_unaffected", func(t *testing.T) {
		t.Parallel()

		doc, err := extract.Parse(context.Background(), strings.NewReader(`<HealthData><Record type="x/y" value="3"/><Record type="x_y" value="4"/></HealthData>`))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		extract.Normalize(doc)
		outs, err := NewWriter(Options{Dir: t.TempDir(), Combined: true}).Write(context.Background(), doc, extract.Classify(doc))
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if len(outs) != 1 || outs[0].Rows != 2 {
			t.Fatalf("outs=%+v", outs)
		}
	})
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"StepCount": "StepCount.csv",
		"":          "untyped.csv",
		"a/b":       "a_b.csv",
		`a\b`:       "a_b.csv",
	}
	for in, want := range tests {
		if got := FileName(in); got != want {
			t.Fatalf("FileName(%q)=%q want %q", in, got, want)
		}
	}
}
