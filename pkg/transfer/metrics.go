package transfer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
)

// Run phases timed by Metrics
const (
	PhaseRead      = "read"
	PhaseNormalize = "normalize"
	PhaseIndex     = "index"
	PhaseSync      = "sync"
	PhaseVerify    = "verify"
)

// Metrics tracks timing and volume for one dataset run
type Metrics struct {
	mu          sync.Mutex
	logger      *zap.Logger
	Dataset     string
	StartTime   time.Time
	EndTime     time.Time
	Phases      map[string]time.Duration
	RowsRead    int
	Records     int
	CleaningOps int
	APIRequests int64
	APIRetries  int64
	ErrorCounts map[ErrorCategory]int
}

// MetricsSnapshot is the serializable view of Metrics
type MetricsSnapshot struct {
	Dataset     string            `json:"dataset"`
	Duration    string            `json:"duration"`
	Phases      map[string]string `json:"phases"`
	RowsRead    int               `json:"rows_read"`
	Records     int               `json:"records"`
	CleaningOps int               `json:"cleaning_operations"`
	APIRequests int64             `json:"api_requests"`
	APIRetries  int64             `json:"api_retries"`
	Throughput  float64           `json:"records_per_second"`
	Errors      map[string]int    `json:"errors,omitempty"`
}

// NewMetrics creates a metrics tracker for a dataset run
func NewMetrics(dataset string, logger *zap.Logger) *Metrics {
	return &Metrics{
		logger:      logger,
		Dataset:     dataset,
		StartTime:   time.Now(),
		Phases:      make(map[string]time.Duration),
		ErrorCounts: make(map[ErrorCategory]int),
	}
}

// Phase starts timing name and returns the function that stops it
func (m *Metrics) Phase(name string) func() {
	start := time.Now()
	return func() {
		m.mu.Lock()
		m.Phases[name] += time.Since(start)
		m.mu.Unlock()
	}
}

// RecordAPI stores the request and retry counts made between two stats
// readings
func (m *Metrics) RecordAPI(before, after erp.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.APIRequests += after.Requests - before.Requests
	m.APIRetries += after.Retries - before.Retries
}

// RecordError counts an error by category
func (m *Metrics) RecordError(category ErrorCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCounts[category]++
}

// Complete marks the run as finished
func (m *Metrics) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

// Duration returns the total duration of the run
func (m *Metrics) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return time.Since(m.StartTime)
	}
	return m.EndTime.Sub(m.StartTime)
}

// CalculateThroughput returns records per second
func (m *Metrics) CalculateThroughput() float64 {
	duration := m.Duration().Seconds()
	if duration <= 0 {
		return 0
	}
	return float64(m.Records) / duration
}

// Snapshot returns a copy suitable for the run report
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	phases := make(map[string]string, len(m.Phases))
	for name, d := range m.Phases {
		phases[name] = formatDuration(d)
	}

	var errs map[string]int
	if len(m.ErrorCounts) > 0 {
		errs = make(map[string]int, len(m.ErrorCounts))
		for c, n := range m.ErrorCounts {
			errs[c.String()] = n
		}
	}

	return MetricsSnapshot{
		Dataset:     m.Dataset,
		Duration:    formatDuration(m.Duration()),
		Phases:      phases,
		RowsRead:    m.RowsRead,
		Records:     m.Records,
		CleaningOps: m.CleaningOps,
		APIRequests: m.APIRequests,
		APIRetries:  m.APIRetries,
		Throughput:  m.CalculateThroughput(),
		Errors:      errs,
	}
}

// LogSummary writes the end-of-run summary line
func (m *Metrics) LogSummary(result *model.SyncResult) {
	if m.logger == nil {
		return
	}
	s := m.Snapshot()
	m.logger.Info("Sync complete",
		zap.String("dataset", result.Dataset),
		zap.Bool("dry_run", result.DryRun),
		zap.Int("total", result.Total),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int64("api_requests", s.APIRequests),
		zap.Int64("api_retries", s.APIRetries),
		zap.String("duration", s.Duration))
}

// GenerateSummary renders the human-readable summary printed after a run
func GenerateSummary(result *model.SyncResult, m *Metrics) string {
	var sb strings.Builder

	mode := "LIVE"
	if result.DryRun {
		mode = "DRY RUN"
	}

	sb.WriteString(fmt.Sprintf("\n%s sync summary (%s)\n", result.Dataset, mode))
	sb.WriteString(strings.Repeat("=", 40) + "\n")
	sb.WriteString(fmt.Sprintf("Total records:   %d\n", result.Total))
	sb.WriteString(fmt.Sprintf("Created:         %d\n", result.Created))
	sb.WriteString(fmt.Sprintf("Updated:         %d\n", result.Updated))
	sb.WriteString(fmt.Sprintf("Unchanged:       %d\n", result.Unchanged))
	sb.WriteString(fmt.Sprintf("Skipped:         %d\n", result.Skipped))
	sb.WriteString(fmt.Sprintf("Failed:          %d\n", result.Failed))
	sb.WriteString(fmt.Sprintf("Duration:        %s\n", formatDuration(result.Duration())))

	if m != nil {
		s := m.Snapshot()
		sb.WriteString(fmt.Sprintf("API requests:    %d (%d retries)\n", s.APIRequests, s.APIRetries))

		phases := make([]string, 0, len(s.Phases))
		for name := range s.Phases {
			phases = append(phases, name)
		}
		sort.Strings(phases)
		for _, name := range phases {
			sb.WriteString(fmt.Sprintf("  %-14s %s\n", name+":", s.Phases[name]))
		}
	}

	if len(result.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("Warnings:        %d\n", len(result.Warnings)))
	}

	for i, f := range result.Errors {
		if i == 10 {
			sb.WriteString(fmt.Sprintf("  ... and %d more errors\n", len(result.Errors)-i))
			break
		}
		sb.WriteString(fmt.Sprintf("  ! %s [%s]: %s\n", f.Key, f.Operation, f.Message))
	}

	return sb.String()
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
