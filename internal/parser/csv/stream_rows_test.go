package csv

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"healthetl/internal/record"
)

func TestEscapedRoundTrip(t *testing.T) {
	t.Parallel()

	values := []string{
		`plain`,
		`with "quotes"`,
		`back\slash`,
		`both \" mixed`,
		`trailing backslash\`,
		`\\double`,
		`comma, inside`,
		"new\nline",
		`Caf` + "é" + ` Device`,
		``,
	}

	for _, v := range values {
		cell, err := record.FormatValue(v, true, record.KindString)
		if err != nil {
			t.Fatalf("FormatValue: %v", err)
		}
		table := "name,value\n" + cell + ",1\n"

		for _, mode := range []string{"whole", "one_byte"} {
			var src io.Reader = strings.NewReader(table)
			if mode == "one_byte" {
				src = iotest.OneByteReader(src)
			}
			rd, err := NewReader(src, Options{})
			if err != nil {
				t.Fatalf("%s: NewReader: %v", mode, err)
			}
			row, err := rd.Read()
			if err != nil {
				t.Fatalf("%s: Read(%q): %v", mode, cell, err)
			}
			got, _ := row.Get("name")
			if got != v {
				t.Fatalf("%s: round trip of %q via %q gave %q", mode, v, cell, got)
			}
			if n, _ := row.Get("value"); n != "1" {
				t.Fatalf("%s: value column=%q", mode, n)
			}
		}
	}
}

func TestReader_RawFieldsUntouched(t *testing.T) {
	t.Parallel()

	rd, err := NewReader(strings.NewReader("a,b\n1\\2,\"x\"\n"), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	row, err := rd.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if a, _ := row.Get("a"); a != `1\2` {
		t.Fatalf("unquoted backslash must pass through, got %q", a)
	}
	if _, err := rd.Read(); err != io.EOF {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestReader_HeaderHandling(t *testing.T) {
	t.Parallel()

	rd, err := NewReader(strings.NewReader("\uFEFFsourceName , type\n"), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if got := strings.Join(rd.Header(), "|"); got != "sourceName|type" {
		t.Fatalf("header=%q", got)
	}
	if !rd.HasColumn("type") || rd.HasColumn("value") {
		t.Fatalf("HasColumn mismatch")
	}
	if _, err := rd.Read(); err != io.EOF {
		t.Fatalf("header-only table: want io.EOF, got %v", err)
	}

	if _, err := NewReader(strings.NewReader(""), Options{}); err == nil {
		t.Fatalf("empty input must fail")
	}
}

func TestReader_RFC4180Mode(t *testing.T) {
	t.Parallel()

	rd, err := NewReader(strings.NewReader("a\n\"x\"\"y\\\"\n"), Options{RFC4180: true})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	row, err := rd.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if a, _ := row.Get("a"); a != `x"y\` {
		t.Fatalf("got %q", a)
	}
}

func TestReader_TrimSpace(t *testing.T) {
	t.Parallel()

	rd, err := NewReader(strings.NewReader("a,b\n 1 ,  x \n"), Options{TrimSpace: true})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	row, err := rd.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if a, _ := row.Get("a"); a != "1" {
		t.Fatalf("a=%q", a)
	}
	if b, _ := row.Get("b"); b != "x" {
		t.Fatalf("b=%q", b)
	}
}
