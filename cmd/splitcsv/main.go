// Command splitcsv writes the rows of a health table that belong to one
// (source, type) pair, or to every pair present with -all.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"healthetl/internal/split"
)

const usageLine = "usage: splitcsv -in table.csv (-source NAME -type TYPE | -all) [-out-dir DIR]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("splitcsv", flag.ContinueOnError)
	fs.SetOutput(stderr)

	in := fs.String("in", "", "input table")
	source := fs.String("source", "", "source label, compared against the folded sourceName")
	typ := fs.String("type", "", "record type")
	outDir := fs.String("out-dir", split.DefaultDir, "directory receiving the subsets")
	all := fs.Bool("all", false, "write one subset per (source, type) pair")
	cacheSize := fs.Int("cache", 0, "folded source name cache size (0 = default)")
	verbose := fs.Bool("v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, usageLine)
		return 2
	}
	if strings.TrimSpace(*in) == "" || fs.NArg() != 0 {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}
	switch {
	case *all && (*source != "" || *typ != ""), !*all && (*source == "" || *typ == ""):
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	s, err := split.New(split.Options{
		OutDir:    *outDir,
		CacheSize: *cacheSize,
		Verbose:   *verbose,
		Logger:    log.New(stderr, "", log.LstdFlags),
	})
	if err != nil {
		fmt.Fprintf(stderr, "splitcsv: %v\n", err)
		return 1
	}

	if *all {
		res, err := s.SplitAll(ctx, *in)
		if err != nil {
			fmt.Fprintf(stderr, "splitcsv: %v\n", err)
			return 1
		}
		for _, r := range res {
			fmt.Fprintf(stdout, "%s\t%d\n", r.Path, r.Rows)
		}
		return 0
	}

	path, err := s.Filter(ctx, *in, *source, *typ)
	if err != nil {
		fmt.Fprintf(stderr, "splitcsv: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, path)
	return 0
}
