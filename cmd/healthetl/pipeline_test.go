package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"healthetl/internal/config"
	"healthetl/internal/publish"
)

const sampleExport = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData locale="it_IT">
 <ExportDate value="2023-03-01 10:00:00 +0100"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="Apple Watch di Mattia" unit="count" creationDate="2023-02-01 10:00:00 +0100" startDate="2023-02-01 09:50:00 +0100" endDate="2023-02-01 10:00:00 +0100" value="120"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2023-02-01 11:00:00 +0100" startDate="2023-02-01 10:50:00 +0100" endDate="2023-02-01 11:00:00 +0100" value="30"/>
 <Record type="HKQuantityTypeIdentifierHeight" sourceName="Salute" unit="cm" creationDate="2023-01-01 08:00:00 +0100" startDate="2023-01-01 08:00:00 +0100" endDate="2023-01-01 08:00:00 +0100" value="180"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2023-02-02 11:00:00 +0100" startDate="2023-02-02 10:50:00 +0100" endDate="2023-02-02 11:00:00 +0100" value="45"/>
</HealthData>
`

type fakePublisher struct {
	runID, baseDir string
	files          []string
	err            error
}

func (f *fakePublisher) Publish(_ context.Context, runID, baseDir string, files []string) ([]publish.Object, error) {
	f.runID, f.baseDir, f.files = runID, baseDir, files
	return nil, f.err
}

func newTestPipeline(t *testing.T, stdout io.Writer, pub *fakePublisher) *pipeline {
	t.Helper()
	pl := newPipeline(stdout, log.New(io.Discard, "", 0))
	pl.newPublisher = func(c publish.Config) (publisher, error) {
		if c.Bucket != "exports" || c.Region != config.DefaultS3Region {
			t.Fatalf("publish config=%+v", c)
		}
		return pub, nil
	}
	return pl
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	sort.Strings(out)
	return out
}

func TestPipeline_PerTypeTablesSplitLoadPublish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "export.xml")
	if err := os.WriteFile(in, []byte(sampleExport), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	dbPath := filepath.Join(dir, "health.db")

	p := config.Pipeline{
		Input:  config.Input{Path: in},
		Output: config.Output{Dir: out},
		Split: []config.SplitKey{
			{Source: "iPhone", Type: "StepCount"},
			{Source: "iPhone", Type: "BodyMass"},
		},
		Storage: config.Storage{Kind: "sqlite", DSN: dbPath},
		Publish: config.Publish{Endpoint: "localhost:9000", Bucket: "exports"},
	}
	config.ApplyDefaults(&p)

	var stdout bytes.Buffer
	pub := &fakePublisher{}
	if err := newTestPipeline(t, &stdout, pub).Run(context.Background(), p, "run-7"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(stdout.String(), "Record types:\n\tHeight: 1\n\tStepCount: 3\n") {
		t.Fatalf("report echo=%q", stdout.String())
	}
	report, err := os.ReadFile(filepath.Join(out, config.DefaultReportName))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if string(report) != stdout.String() {
		t.Fatalf("report file differs from console echo")
	}

	split, err := os.ReadFile(filepath.Join(out, config.DefaultSplitDir, "iPhone_StepCount.csv"))
	if err != nil {
		t.Fatalf("read split: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(split)), "\n"); len(lines) != 3 {
		t.Fatalf("split lines=%d, want header + 2 rows:\n%s", len(lines), split)
	}
	if _, err := os.Stat(filepath.Join(out, config.DefaultSplitDir, "iPhone_BodyMass.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("absent type should be skipped, stat err=%v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "hk_step_count"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("hk_step_count rows=%d, want 3", n)
	}

	if pub.runID != "run-7" || pub.baseDir != out {
		t.Fatalf("publish runID=%q baseDir=%q", pub.runID, pub.baseDir)
	}
	want := []string{"Height.csv", "StepCount.csv", "iPhone_StepCount.csv", "report.txt"}
	got := baseNames(pub.files)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("published=%v, want %v", got, want)
	}
}

func TestPipeline_CombinedSplitsFromCombinedTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "export.xml")
	if err := os.WriteFile(in, []byte(sampleExport), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")

	p := config.Pipeline{
		Input:  config.Input{Path: in},
		Output: config.Output{Dir: out, Combined: true},
		Split:  []config.SplitKey{{Source: "Salute", Type: "Height"}},
	}
	config.ApplyDefaults(&p)

	if err := newTestPipeline(t, io.Discard, nil).Run(context.Background(), p, "r"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, config.DefaultCombinedName)); err != nil {
		t.Fatalf("combined table: %v", err)
	}
	split, err := os.ReadFile(filepath.Join(out, config.DefaultSplitDir, "Salute_Height.csv"))
	if err != nil {
		t.Fatalf("read split: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(split)), "\n"); len(lines) != 2 {
		t.Fatalf("split lines=%d, want header + 1 row:\n%s", len(lines), split)
	}
}

func TestPipeline_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing_input", func(t *testing.T) {
		t.Parallel()
		p := config.Pipeline{Input: config.Input{Path: filepath.Join(t.TempDir(), "nope.xml")}}
		config.ApplyDefaults(&p)
		p.Output.Dir = t.TempDir()

		err := newTestPipeline(t, io.Discard, nil).Run(context.Background(), p, "r")
		if err == nil || !strings.Contains(err.Error(), "extract:") {
			t.Fatalf("err=%v, want extract error", err)
		}
	})

	t.Run("publish_error", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		in := filepath.Join(dir, "export.xml")
		if err := os.WriteFile(in, []byte(sampleExport), 0o644); err != nil {
			t.Fatal(err)
		}
		p := config.Pipeline{
			Input:   config.Input{Path: in},
			Output:  config.Output{Dir: filepath.Join(dir, "out")},
			Publish: config.Publish{Endpoint: "localhost:9000", Bucket: "exports"},
		}
		config.ApplyDefaults(&p)

		pub := &fakePublisher{err: errors.New("access denied")}
		err := newTestPipeline(t, io.Discard, pub).Run(context.Background(), p, "r")
		if err == nil || !strings.Contains(err.Error(), "publish: access denied") {
			t.Fatalf("err=%v", err)
		}
	})
}
