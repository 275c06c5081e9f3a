package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"healthetl/internal/extract"
)

func sampleCounters() extract.Counters {
	return extract.Counters{
		Tags:        extract.Counter{"Record": 4, "ExportDate": 1},
		Fields:      extract.Counter{"value": 5, "type": 4},
		RecordTypes: extract.Counter{"StepCount": 3, "Height": 1},
		SourceNames: extract.Counter{"iPhone": 2, "Apple Watch": 1, "Salute": 1},
	}
}

func TestFormatCounter_SortedByKey(t *testing.T) {
	t.Parallel()

	got := FormatCounter(extract.Counter{"b": 2, "a": 10, "B": 1})
	want := "B: 1\n\ta: 10\n\tb: 2"
	if got != want {
		t.Fatalf("FormatCounter=%q want %q", got, want)
	}
	if FormatCounter(extract.Counter{}) != "" {
		t.Fatalf("empty counter should format empty")
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	want := "Tags:\n\tExportDate: 1\n\tRecord: 4\n\n" +
		"Fields:\n\ttype: 4\n\tvalue: 5\n\n" +
		"Record types:\n\tHeight: 1\n\tStepCount: 3\n\n" +
		"Source Names:\n\tApple Watch: 1\n\tSalute: 1\n\tiPhone: 2\n\n"
	if got := Format(sampleCounters()); got != want {
		t.Fatalf("Format mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestReport_FileMatchesConsole(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", DefaultReportName)
	var console bytes.Buffer
	if err := Report(path, &console, sampleCounters()); err != nil {
		t.Fatalf("Report: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Equal(onDisk, console.Bytes()) {
		t.Fatalf("file and console differ:\nfile=%q\nconsole=%q", onDisk, console.Bytes())
	}
}

func TestReport_UnwritableDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Report(filepath.Join(file, "report.txt"), nil, sampleCounters()); err == nil {
		t.Fatalf("expected error")
	}
}
