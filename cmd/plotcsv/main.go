// Command plotcsv sums the value column of a health table per day and renders
// the result as an HTML line chart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"healthetl/internal/plot"
)

const usageLine = "usage: plotcsv -in table.csv [-out chart.html] [-daily daily.csv] [-title TITLE] [-rfc4180]"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plotcsv", flag.ContinueOnError)
	fs.SetOutput(stderr)

	in := fs.String("in", "", "input table with creationDate and value columns")
	out := fs.String("out", "", "chart file (default: <input>.html)")
	daily := fs.String("daily", "", "also write the daily series as CSV")
	title := fs.String("title", "", "chart title (default: input file name)")
	rfc := fs.Bool("rfc4180", false, "input uses standard quote doubling instead of backslash escapes")

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

	base := strings.TrimSuffix(filepath.Base(*in), filepath.Ext(*in))
	if *out == "" {
		*out = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".html"
	}
	if *title == "" {
		*title = base
	}

	s, err := plot.ReadDailySeries(ctx, *in, plot.ReadOptions{RFC4180: *rfc})
	if err != nil {
		fmt.Fprintf(stderr, "plotcsv: %v\n", err)
		return 1
	}

	if err := writeFile(*out, func(w io.Writer) error { return plot.RenderHTML(w, *title, s) }); err != nil {
		fmt.Fprintf(stderr, "plotcsv: %v\n", err)
		return 1
	}
	if *daily != "" {
		if err := writeFile(*daily, func(w io.Writer) error { return plot.WriteCSV(w, s) }); err != nil {
			fmt.Fprintf(stderr, "plotcsv: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stdout, "%s: %d days, %d rows skipped\n", *out, len(s.Points), s.Skipped)
	return 0
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
