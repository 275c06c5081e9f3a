package config

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses dotted field names as they
// appear in the pipeline file.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	storageKinds = map[string]bool{"sqlite": true, "postgres": true, "mssql": true}
	metricKinds  = map[string]bool{"": true, "none": true, "noop": true, "datadog": true, "dd": true}
)

// ValidatePipeline checks p for values the pipeline cannot run with (errors)
// and for settings that are probably mistakes (warnings).
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Input.Path) == "" {
		add(SeverityError, "input.path", "required")
	}
	if strings.TrimSpace(p.Output.Dir) == "" {
		add(SeverityError, "output.dir", "required")
	}
	for _, name := range []struct{ path, v string }{
		{"output.combined_name", p.Output.CombinedName},
		{"output.report_name", p.Output.ReportName},
	} {
		if strings.ContainsAny(name.v, `/\`) {
			add(SeverityError, name.path, "must be a file name, got %q", name.v)
		}
	}
	if !p.Output.Combined && p.Output.CombinedName != "" && p.Output.CombinedName != DefaultCombinedName {
		add(SeverityWarning, "output.combined_name", "ignored unless output.combined is true")
	}

	for i, k := range p.Split {
		path := fmt.Sprintf("split[%d]", i)
		if strings.TrimSpace(k.Source) == "" {
			add(SeverityError, path+".source", "required")
		}
		if strings.TrimSpace(k.Type) == "" {
			add(SeverityError, path+".type", "required")
		}
	}

	if kind := p.Storage.Kind; kind != "" {
		if !storageKinds[kind] {
			add(SeverityError, "storage.kind", "unknown kind %q (want sqlite|postgres|mssql)", kind)
		}
		if strings.TrimSpace(p.Storage.DSN) == "" {
			add(SeverityError, "storage.dsn", "required when storage.kind is set")
		}
	} else if p.Storage.DSN != "" {
		add(SeverityWarning, "storage.dsn", "ignored because storage.kind is empty")
	}

	if p.Publish.Enabled() {
		if strings.TrimSpace(p.Publish.Endpoint) == "" {
			add(SeverityError, "publish.endpoint", "required when publish.bucket is set")
		}
		if p.Publish.AccessKey == "" || p.Publish.SecretKey == "" {
			add(SeverityWarning, "publish.access_key", "credentials are empty; anonymous upload will likely fail")
		}
	}

	if !metricKinds[strings.ToLower(p.Metrics.Backend)] {
		add(SeverityError, "metrics.backend", "unknown backend %q (want none|datadog)", p.Metrics.Backend)
	}
	return issues
}
