// Package publish uploads a run's output files to an S3-compatible bucket
// under <prefix>/<run id>/.
package publish

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is an optional key prefix, e.g. "healthetl".
	Prefix string

	Verbose bool
	Logger  *log.Logger
}

// objectClient is the subset of *minio.Client the publisher uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher uploads files to one bucket, creating it on first use.
type Publisher struct {
	client objectClient
	bucket string
	region string
	prefix string
	log    *log.Logger

	initOnce sync.Once
	initErr  error
}

// Object describes one uploaded file.
type Object struct {
	File string
	Key  string
	Size int64
}

// New returns a Publisher backed by a minio client for cfg.
func New(cfg Config) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("publish: endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("publish: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: init s3 client: %w", err)
	}
	cfg.Region = region
	return newWithClient(client, cfg), nil
}

func newWithClient(c objectClient, cfg Config) *Publisher {
	l := cfg.Logger
	if l == nil {
		l = log.Default()
	}
	if !cfg.Verbose {
		l = log.New(io.Discard, "", 0)
	}
	return &Publisher{
		client: c,
		bucket: strings.TrimSpace(cfg.Bucket),
		region: cfg.Region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		log:    l,
	}
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads files under <prefix>/<runID>/<name>, where name is the
// file's path relative to baseDir (or its base name when it lies outside
// baseDir). Upload stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, runID, baseDir string, files []string) ([]Object, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("publish: run id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("publish: ensure bucket %s: %w", p.bucket, err)
	}

	out := make([]Object, 0, len(files))
	for _, f := range files {
		key := ObjectKey(p.prefix, runID, relName(baseDir, f))
		info, err := p.client.FPutObject(ctx, p.bucket, key, f, minio.PutObjectOptions{
			ContentType: contentType(f),
		})
		if err != nil {
			return out, fmt.Errorf("publish: upload %s: %w", f, err)
		}
		p.log.Printf("Published %s to s3://%s/%s (%d bytes)", f, p.bucket, key, info.Size)
		out = append(out, Object{File: f, Key: key, Size: info.Size})
	}
	return out, nil
}

// ObjectKey joins the non-empty parts with "/".
func ObjectKey(prefix, runID, name string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{prefix, runID, name} {
		if s = strings.Trim(strings.TrimSpace(s), "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return path.Join(parts...)
}

func relName(baseDir, file string) string {
	if baseDir != "" {
		if rel, err := filepath.Rel(baseDir, file); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(file)
}

func contentType(file string) string {
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
