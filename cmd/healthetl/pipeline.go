package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"healthetl/internal/config"
	"healthetl/internal/extract"
	"healthetl/internal/load"
	"healthetl/internal/publish"
	"healthetl/internal/split"
	"healthetl/internal/stats"
	"healthetl/internal/storage"
	"healthetl/internal/tabular"
)

// publisher is the part of *publish.Publisher the pipeline uses.
type publisher interface {
	Publish(ctx context.Context, runID, baseDir string, files []string) ([]publish.Object, error)
}

// pipeline runs extract -> tables -> report -> split -> load -> publish.
type pipeline struct {
	stdout io.Writer
	log    *log.Logger

	openRepo     func(context.Context, storage.Config) (storage.Repository, error)
	newPublisher func(publish.Config) (publisher, error)
}

func newPipeline(stdout io.Writer, logger *log.Logger) *pipeline {
	return &pipeline{
		stdout:   stdout,
		log:      logger,
		openRepo: storage.New,
		newPublisher: func(c publish.Config) (publisher, error) {
			return publish.New(c)
		},
	}
}

func (pl *pipeline) Run(ctx context.Context, p config.Pipeline, runID string) error {
	res, err := extract.New(extract.Options{Verbose: p.IsVerbose(), Logger: pl.log}).Run(ctx, p.Input.Path)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	outs, err := tabular.NewWriter(tabular.Options{
		Dir:          p.Output.Dir,
		Combined:     p.Output.Combined,
		CombinedName: p.Output.CombinedName,
		Verbose:      p.IsVerbose(),
		Logger:       pl.log,
	}).Write(ctx, res.Doc, res.Classification)
	if err != nil {
		return fmt.Errorf("write tables: %w", err)
	}
	files := make([]string, 0, len(outs)+1+len(p.Split))
	for _, o := range outs {
		files = append(files, o.Path)
	}

	reportPath := filepath.Join(p.Output.Dir, p.Output.ReportName)
	if err := stats.Report(reportPath, pl.stdout, res.Stats); err != nil {
		return err
	}
	files = append(files, reportPath)

	splitFiles, err := pl.split(ctx, p)
	if err != nil {
		return err
	}
	files = append(files, splitFiles...)

	if p.Storage.Kind != "" {
		if err := pl.load(ctx, p, res); err != nil {
			return err
		}
	}

	if p.Publish.Enabled() {
		pub, err := pl.newPublisher(publish.Config{
			Endpoint:  p.Publish.Endpoint,
			Region:    p.Publish.Region,
			AccessKey: p.Publish.AccessKey,
			SecretKey: p.Publish.SecretKey,
			Bucket:    p.Publish.Bucket,
			UseSSL:    p.Publish.SSL(),
			Prefix:    p.Publish.Prefix,
			Verbose:   p.IsVerbose(),
			Logger:    pl.log,
		})
		if err != nil {
			return err
		}
		if _, err := pub.Publish(ctx, runID, p.Output.Dir, files); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

// split writes one subset per configured key. Per-type layouts read the
// table of the key's type; a type that produced no table is skipped.
func (pl *pipeline) split(ctx context.Context, p config.Pipeline) ([]string, error) {
	if len(p.Split) == 0 {
		return nil, nil
	}
	dir := p.Output.SplitDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.Output.Dir, dir)
	}
	s, err := split.New(split.Options{OutDir: dir, Verbose: p.IsVerbose(), Logger: pl.log})
	if err != nil {
		return nil, err
	}

	var files []string
	for _, k := range p.Split {
		in := filepath.Join(p.Output.Dir, p.Output.CombinedName)
		if !p.Output.Combined {
			in = filepath.Join(p.Output.Dir, tabular.FileName(k.Type))
		}
		path, err := s.Filter(ctx, in, k.Source, k.Type)
		if errors.Is(err, split.ErrNotFound) && !p.Output.Combined {
			pl.log.Printf("split %s/%s: no %s table, skipped", k.Source, k.Type, k.Type)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("split %s/%s: %w", k.Source, k.Type, err)
		}
		files = append(files, path)
	}
	return files, nil
}

func (pl *pipeline) load(ctx context.Context, p config.Pipeline, res *extract.Result) error {
	repo, err := pl.openRepo(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		return err
	}
	defer repo.Close()

	_, err = load.New(repo, load.Options{
		TablePrefix: p.Storage.TablePrefix,
		Verbose:     p.IsVerbose(),
		Logger:      pl.log,
	}).Load(ctx, res.Doc, res.Classification)
	return err
}
