package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the machine-readable record of one run
type Report struct {
	*model.SyncResult
	DurationSeconds float64             `json:"duration_seconds"`
	Metrics         *MetricsSnapshot    `json:"metrics,omitempty"`
	Verification    *VerificationResult `json:"verification,omitempty"`
}

// NewReport builds a report, keeping at most maxErrors entries in each of
// the error and skip lists. maxErrors <= 0 keeps everything.
func NewReport(result *model.SyncResult, metrics *Metrics, verification *VerificationResult, maxErrors int) *Report {
	trimmed := *result
	if maxErrors > 0 {
		if len(trimmed.Errors) > maxErrors {
			trimmed.Errors = trimmed.Errors[:maxErrors]
		}
		if len(trimmed.Skips) > maxErrors {
			trimmed.Skips = trimmed.Skips[:maxErrors]
		}
	}

	report := &Report{
		SyncResult:      &trimmed,
		DurationSeconds: result.Duration().Seconds(),
		Verification:    verification,
	}
	if metrics != nil {
		s := metrics.Snapshot()
		report.Metrics = &s
	}
	return report
}

// WriteReport saves the report as JSON under dir and returns the file path
func WriteReport(dir string, report *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	stamp := report.StartTime
	if stamp.IsZero() {
		stamp = time.Now()
	}
	mode := "live"
	if report.DryRun {
		mode = "dryrun"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.json", fileSafe(report.Dataset), mode, stamp.Format("20060102_150405")))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// fileSafe replaces characters that do not belong in a file name
func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
