// Package split partitions a previously written record table by its
// (folded source name, type) composite key.
package split

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	tablecsv "healthetl/internal/parser/csv"
	"healthetl/internal/record"
)

// DefaultDir is the subdirectory (under the tables' directory) that receives
// split outputs.
const DefaultDir = "splitted"

// ErrNotFound is returned when the input table does not exist.
var ErrNotFound = errors.New("input table not found")

// ErrNameClash is returned when two distinct keys map to the same subset file.
var ErrNameClash = errors.New("subset file name clash")

// Options configure a Splitter.
type Options struct {
	// OutDir receives the subset files; created if missing.
	OutDir string
	// CacheSize bounds the folded-source-name cache. Zero uses 256.
	CacheSize int

	Verbose bool
	Logger  *log.Logger
}

// Splitter filters tables by composite key.
type Splitter struct {
	outDir string
	folded *lru.Cache[string, string]
	log    *log.Logger
}

// New returns a Splitter.
func New(opts Options) (*Splitter, error) {
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("split: out dir is required")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("split: name cache: %w", err)
	}
	l := opts.Logger
	if l == nil {
		l = log.Default()
	}
	if !opts.Verbose {
		l = log.New(io.Discard, "", 0)
	}
	return &Splitter{outDir: opts.OutDir, folded: cache, log: l}, nil
}

// Key is a (folded source name, type) pair.
type Key struct {
	Source string
	Type   string
}

// FileName returns "<source>_<type><ext>" with path separators replaced.
func (k Key) FileName(ext string) string {
	name := k.Source + "_" + k.Type + ext
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}

// Result describes one written subset.
type Result struct {
	Key  Key
	Path string
	Rows int
}

func (s *Splitter) fold(name string) string {
	if v, ok := s.folded.Get(name); ok {
		return v
	}
	v := FoldSourceName(name)
	s.folded.Add(name, v)
	return v
}

// Filter writes the rows of inputTable whose folded sourceName equals
// sourceLabel and whose type equals typeLabel to
// <OutDir>/<sourceLabel>_<typeLabel><ext>, keeping the input header and row
// order. It returns the written path. Zero matches still produce a
// header-only file.
func (s *Splitter) Filter(ctx context.Context, inputTable, sourceLabel, typeLabel string) (string, error) {
	want := Key{Source: sourceLabel, Type: typeLabel}
	res, err := s.run(ctx, inputTable, func(k Key) bool { return k == want }, &want)
	if err != nil {
		return "", err
	}
	r := res[0]
	s.log.Printf("split %s: %d rows -> %s", filepath.Base(inputTable), r.Rows, r.Path)
	return r.Path, nil
}

// SplitAll writes one subset per distinct composite key present in
// inputTable, in order of first appearance.
func (s *Splitter) SplitAll(ctx context.Context, inputTable string) ([]Result, error) {
	res, err := s.run(ctx, inputTable, func(Key) bool { return true }, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range res {
		s.log.Printf("split %s [%s/%s]: %d rows -> %s", filepath.Base(inputTable), r.Key.Source, r.Key.Type, r.Rows, r.Path)
	}
	return res, nil
}

type subset struct {
	res Result
	f   *os.File
	bw  *bufio.Writer
}

// run streams inputTable once and routes each row to the subset of its key
// when keep(key) holds. When fixed is non-nil that subset is created up
// front so an empty match still yields a file.
func (s *Splitter) run(ctx context.Context, inputTable string, keep func(Key) bool, fixed *Key) (_ []Result, err error) {
	src, err := os.Open(inputTable)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("open table: %w", err)
	}

	rd, err := tablecsv.NewReader(src, tablecsv.Options{})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("read %s: %w", inputTable, err)
	}
	if !rd.HasColumn("sourceName") || !rd.HasColumn("type") {
		_ = src.Close()
		return nil, fmt.Errorf("read %s: table lacks sourceName/type columns", inputTable)
	}
	header := rd.Header()
	kinds := columnKinds(header)
	ext := filepath.Ext(inputTable)

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create split dir: %w", err)
	}

	subsets := map[Key]*subset{}
	var order []*subset
	defer func() {
		_ = src.Close()
		if err == nil {
			return
		}
		for _, ss := range order {
			_ = ss.f.Close()
			_ = os.Remove(ss.res.Path)
		}
	}()

	owners := map[string]Key{}
	open := func(k Key) (*subset, error) {
		p := filepath.Join(s.outDir, k.FileName(ext))
		if prev, taken := owners[p]; taken {
			return nil, fmt.Errorf("%w: %s/%s and %s/%s both write %s",
				ErrNameClash, prev.Source, prev.Type, k.Source, k.Type, p)
		}
		owners[p] = k
		f, err := os.Create(p)
		if err != nil {
			return nil, fmt.Errorf("create subset: %w", err)
		}
		ss := &subset{res: Result{Key: k, Path: p}, f: f, bw: bufio.NewWriter(f)}
		subsets[k] = ss
		order = append(order, ss)
		if _, err := ss.bw.WriteString(strings.Join(header, ",") + "\n"); err != nil {
			return nil, fmt.Errorf("write subset: %w", err)
		}
		return ss, nil
	}

	if fixed != nil {
		if _, err := open(*fixed); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", inputTable, err)
		}

		srcName, _ := row.Get("sourceName")
		typ, _ := row.Get("type")
		k := Key{Source: s.fold(srcName), Type: typ}
		if !keep(k) {
			continue
		}

		ss, ok := subsets[k]
		if !ok {
			if ss, err = open(k); err != nil {
				return nil, err
			}
		}
		line, err := formatRow(row.Values, kinds)
		if err != nil {
			return nil, err
		}
		if _, err := ss.bw.WriteString(line + "\n"); err != nil {
			return nil, fmt.Errorf("write subset: %w", err)
		}
		ss.res.Rows++
	}

	out := make([]Result, 0, len(order))
	for _, ss := range order {
		if err := ss.bw.Flush(); err != nil {
			return nil, fmt.Errorf("write subset: %w", err)
		}
		if err := ss.f.Close(); err != nil {
			return nil, fmt.Errorf("close subset: %w", err)
		}
		out = append(out, ss.res)
	}
	return out, nil
}

// columnKinds maps each header column to its schema kind; columns outside
// the schema are treated as strings.
func columnKinds(header []string) []record.Kind {
	out := make([]record.Kind, len(header))
	for i, h := range header {
		k, ok := record.KindOf(h)
		if !ok {
			k = record.KindString
		}
		out[i] = k
	}
	return out
}

// formatRow re-serializes a parsed row in the table dialect. Empty cells are
// written as absent.
func formatRow(values []string, kinds []record.Kind) (string, error) {
	cells := make([]string, len(kinds))
	for i, k := range kinds {
		var v string
		if i < len(values) {
			v = values[i]
		}
		c, err := record.FormatValue(v, v != "", k)
		if err != nil {
			return "", err
		}
		cells[i] = c
	}
	return strings.Join(cells, ","), nil
}
