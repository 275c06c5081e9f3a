package extract

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleExport = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE HealthData [
<!ELEMENT HealthData (ExportDate,Me,(Record|Workout)*)>
<!ATTLIST HealthData locale CDATA #REQUIRED>
]>
<HealthData locale="it_IT">
 <ExportDate value="2023-03-01 10:00:00 +0100"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="Apple Watch di Mattia" sourceVersion="9.1" unit="count" creationDate="2023-02-01 10:00:00 +0100" startDate="2023-02-01 09:50:00 +0100" endDate="2023-02-01 10:00:00 +0100" value="120"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2023-02-01 11:00:00 +0100" startDate="2023-02-01 10:50:00 +0100" endDate="2023-02-01 11:00:00 +0100" value="30">
  <MetadataEntry key="HKWasUserEntered" value="1"/>
 </Record>
 <Record type="HKQuantityTypeIdentifierHeight" sourceName="Salute" unit="cm" creationDate="2023-01-01 08:00:00 +0100" startDate="2023-01-01 08:00:00 +0100" endDate="2023-01-01 08:00:00 +0100" value="180"/>
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="iPhone" unit="count" creationDate="2023-02-02 11:00:00 +0100" startDate="2023-02-02 10:50:00 +0100" endDate="2023-02-02 11:00:00 +0100" value="45"/>
</HealthData>
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoad_EndToEndScenario(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "export.xml", sampleExport)
	res, err := New(Options{}).Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Doc.Root != "HealthData" {
		t.Fatalf("root=%q", res.Doc.Root)
	}
	if len(res.Doc.Nodes) != 5 {
		t.Fatalf("nodes=%d want 5", len(res.Doc.Nodes))
	}

	cls := res.Classification
	if len(cls) != 2 || cls["StepCount"] != 3 || cls["Height"] != 1 {
		t.Fatalf("classification=%v", cls)
	}
	if got := strings.Join(cls.Types(), ","); got != "Height,StepCount" {
		t.Fatalf("Types()=%q", got)
	}

	st := res.Stats
	if len(st.Tags) != 2 || st.Tags["Record"] != 4 || st.Tags["ExportDate"] != 1 {
		t.Fatalf("tags=%v", st.Tags)
	}
	if st.RecordTypes.Total() != 4 {
		t.Fatalf("record types total=%d want 4", st.RecordTypes.Total())
	}
	if st.Tags.Total() != len(res.Doc.Nodes) {
		t.Fatalf("tag total=%d want %d", st.Tags.Total(), len(res.Doc.Nodes))
	}
	if st.SourceNames["iPhone"] != 2 || st.SourceNames["Salute"] != 1 {
		t.Fatalf("sources=%v", st.SourceNames)
	}
	// ExportDate carries "value" too; sourceVersion only once.
	if st.Fields["value"] != 5 || st.Fields["sourceVersion"] != 1 {
		t.Fatalf("fields=%v", st.Fields)
	}
}

func TestParse_KeepsSourceOrderAndSkipsNested(t *testing.T) {
	t.Parallel()

	doc, err := Parse(context.Background(), strings.NewReader(sampleExport))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var values []string
	for _, n := range doc.Nodes {
		if n.IsGeneric() {
			values = append(values, n.Attrs["value"])
		}
	}
	if got := strings.Join(values, ","); got != "120,30,180,45" {
		t.Fatalf("values in order=%q", got)
	}
	for _, n := range doc.Nodes {
		if n.Tag == "MetadataEntry" {
			t.Fatalf("nested element leaked into node list")
		}
	}
}

func TestNormalize_OnlyGenericAndOnce(t *testing.T) {
	t.Parallel()

	doc, err := Parse(context.Background(), strings.NewReader(`<R>
<Record type="HKQuantityTypeIdentifierStepCount"/>
<Workout type="HKQuantityTypeIdentifierStepCount"/>
<Record value="1"/>
</R>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	Normalize(doc)
	Normalize(doc)

	if got := doc.Nodes[0].Type(); got != "StepCount" {
		t.Fatalf("generic type=%q", got)
	}
	if got := doc.Nodes[1].Type(); got != "HKQuantityTypeIdentifierStepCount" {
		t.Fatalf("non-generic type must be untouched, got %q", got)
	}
	if _, ok := doc.Nodes[2].Attrs["type"]; ok {
		t.Fatalf("normalize must not invent a type attribute")
	}
	if !doc.Normalized() {
		t.Fatalf("Normalized() false after Normalize")
	}

	cls := Classify(doc)
	if cls[""] != 1 || cls["StepCount"] != 1 || len(cls) != 2 {
		t.Fatalf("classification=%v", cls)
	}
	st := CollectStats(doc)
	if st.RecordTypes.Total() != doc.GenericCount() {
		t.Fatalf("record types total=%d generic=%d", st.RecordTypes.Total(), doc.GenericCount())
	}
	if st.Tags["Workout"] != 1 || st.RecordTypes["HKQuantityTypeIdentifierStepCount"] != 0 {
		t.Fatalf("non-generic nodes must not reach type counts: %+v", st)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file: want fs.ErrNotExist, got %v", err)
	}

	tests := []struct {
		name string
		in   string
	}{
		{name: "unclosed_root", in: `<HealthData><Record type="x"/>`},
		{name: "mismatched", in: `<HealthData><Record></HealthData>`},
		{name: "empty", in: ``},
		{name: "only_text", in: `hello`},
		{name: "two_roots", in: `<a/><b/>`},
		{name: "bad_attr", in: `<a><Record type=x/></a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.xml", tt.in)
			_, err := Load(context.Background(), path)
			if !errors.Is(err, ErrParse) {
				t.Fatalf("want ErrParse, got %v", err)
			}
		})
	}
}

func TestParse_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Parse(ctx, strings.NewReader(sampleExport)); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
