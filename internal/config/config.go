// Package config holds the pipeline configuration shared by the healthetl
// commands. A pipeline file may be JSON or YAML; values missing from the file
// fall back to the environment and then to built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultJob          = "healthetl"
	DefaultOutputDir    = "output"
	DefaultCombinedName = "export.csv"
	DefaultReportName   = "report.txt"
	DefaultSplitDir     = "splitted"
	DefaultTablePrefix  = "hk_"
	DefaultS3Region     = "us-east-1"
)

type Pipeline struct {
	Job     string     `json:"job" yaml:"job"`
	Input   Input      `json:"input" yaml:"input"`
	Output  Output     `json:"output" yaml:"output"`
	Split   []SplitKey `json:"split,omitempty" yaml:"split,omitempty"`
	Storage Storage    `json:"storage" yaml:"storage"`
	Publish Publish    `json:"publish" yaml:"publish"`
	Metrics Metrics    `json:"metrics" yaml:"metrics"`
	// Verbose is nil when neither a flag nor the file set it.
	Verbose *bool      `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

type Input struct {
	Path string `json:"path" yaml:"path"`
}

type Output struct {
	Dir string `json:"dir" yaml:"dir"`
	// Combined writes every record to a single table instead of one table
	// per record type.
	Combined     bool   `json:"combined" yaml:"combined"`
	CombinedName string `json:"combined_name" yaml:"combined_name"`
	ReportName   string `json:"report_name" yaml:"report_name"`
	SplitDir     string `json:"split_dir" yaml:"split_dir"`
}

// SplitKey selects the rows of one (source, type) pair.
type SplitKey struct {
	Source string `json:"source" yaml:"source"`
	Type   string `json:"type" yaml:"type"`
}

type Storage struct {
	// Kind: "sqlite" | "postgres" | "mssql". Empty disables the database sink.
	Kind        string `json:"kind" yaml:"kind"`
	DSN         string `json:"dsn" yaml:"dsn"`
	TablePrefix string `json:"table_prefix" yaml:"table_prefix"`
}

type Publish struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	UseSSL    *bool  `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty"`
	Prefix    string `json:"prefix" yaml:"prefix"`
}

// IsVerbose returns Verbose, defaulting to false.
func (p Pipeline) IsVerbose() bool { return p.Verbose != nil && *p.Verbose }

// Enabled reports whether output publishing is configured.
func (p Publish) Enabled() bool { return strings.TrimSpace(p.Bucket) != "" }

// SSL returns UseSSL, defaulting to true.
func (p Publish) SSL() bool { return p.UseSSL == nil || *p.UseSSL }

type Metrics struct {
	// Backend: "none" | "datadog".
	Backend string   `json:"backend" yaml:"backend"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Decode parses a pipeline document. YAML is used for .yaml/.yml paths,
// JSON otherwise.
func Decode(path string, data []byte) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode json: %w", err)
		}
	}
	return p, nil
}

// Read reads and decodes the pipeline file at path. A nil readFile uses
// os.ReadFile. Environment and defaults are applied separately so callers can
// layer flags in between.
func Read(path string, readFile func(string) ([]byte, error)) (Pipeline, error) {
	if readFile == nil {
		readFile = os.ReadFile
	}
	data, err := readFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	p, err := Decode(path, data)
	if err != nil {
		return Pipeline{}, fmt.Errorf("parse config: %s: %w", path, err)
	}
	return p, nil
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// not an error; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv fills empty fields from environment variables read through getenv.
func ApplyEnv(p *Pipeline, getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }
	fill := func(dst *string, keys ...string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		*dst = firstNonEmpty(mapStrings(keys, env)...)
	}

	fill(&p.Job, "HEALTHETL_JOB")
	fill(&p.Input.Path, "HEALTHETL_INPUT")
	fill(&p.Output.Dir, "HEALTHETL_OUTPUT_DIR")
	fill(&p.Storage.Kind, "STORAGE_KIND")
	fill(&p.Storage.DSN, "STORAGE_DSN", "DATABASE_URL")
	fill(&p.Metrics.Backend, "METRICS_BACKEND")
	if len(p.Metrics.Tags) == 0 {
		p.Metrics.Tags = ParseTagsCSV(env("METRICS_TAGS"))
	}

	fill(&p.Publish.Endpoint, "S3_ENDPOINT")
	fill(&p.Publish.Region, "S3_REGION")
	fill(&p.Publish.Bucket, "S3_BUCKET")
	fill(&p.Publish.AccessKey, "S3_ACCESS_KEY", "MINIO_ROOT_USER")
	fill(&p.Publish.SecretKey, "S3_SECRET_KEY", "MINIO_ROOT_PASSWORD")
	if p.Publish.UseSSL == nil {
		if v, err := strconv.ParseBool(env("S3_USE_SSL")); err == nil {
			p.Publish.UseSSL = &v
		}
	}
	if p.Verbose == nil {
		if v, err := strconv.ParseBool(env("HEALTHETL_VERBOSE")); err == nil {
			p.Verbose = &v
		}
	}
}

// ApplyDefaults sets built-in defaults for every field still empty.
func ApplyDefaults(p *Pipeline) {
	def := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	def(&p.Job, DefaultJob)
	def(&p.Output.Dir, DefaultOutputDir)
	def(&p.Output.CombinedName, DefaultCombinedName)
	def(&p.Output.ReportName, DefaultReportName)
	def(&p.Output.SplitDir, DefaultSplitDir)
	def(&p.Metrics.Backend, "none")
	if p.Storage.Kind != "" {
		def(&p.Storage.TablePrefix, DefaultTablePrefix)
	}
	if p.Publish.Enabled() {
		def(&p.Publish.Region, DefaultS3Region)
	}
}

// ParseTagsCSV splits "k:v,k2:v2" into trimmed non-empty tags.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func mapStrings(in []string, f func(string) string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = f(s)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
