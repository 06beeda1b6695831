package model

import (
	"time"
)

// Outcome classifies what happened to one record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// SkipRecord describes a record dropped before reaching the ERP.
type SkipRecord struct {
	Sheet  string `json:"sheet,omitempty"`
	Row    int    `json:"row,omitempty"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// FailureRecord describes a record the ERP rejected.
type FailureRecord struct {
	Key       string `json:"key"`
	Operation string `json:"operation"`
	Status    int    `json:"status,omitempty"`
	Message   string `json:"message"`
}

// RecordOutcome is the per-record trail kept for the ledger.
type RecordOutcome struct {
	Key           string
	RemoteName    string
	Outcome       Outcome
	ChangedFields []string
	Message       string
}

// SyncResult aggregates a single run over one dataset.
type SyncResult struct {
	RunID     string          `json:"run_id"`
	Dataset   string          `json:"dataset"`
	DryRun    bool            `json:"dry_run"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Total     int             `json:"total_records"`
	Created   int             `json:"created"`
	Updated   int             `json:"updated"`
	Unchanged int             `json:"unchanged"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Skips     []SkipRecord    `json:"skipped_rows"`
	Errors    []FailureRecord `json:"errors"`
	Warnings  []string        `json:"warnings,omitempty"`

	Outcomes   []RecordOutcome     `json:"-"`
	Operations []CleaningOperation `json:"-"`
}

// NewSyncResult starts a result for the dataset.
func NewSyncResult(runID, dataset string, dryRun bool) *SyncResult {
	return &SyncResult{
		RunID:     runID,
		Dataset:   dataset,
		DryRun:    dryRun,
		StartTime: time.Now(),
		Skips:     make([]SkipRecord, 0),
		Errors:    make([]FailureRecord, 0),
	}
}

// Record counts an outcome for a record that reached the resolver.
func (r *SyncResult) Record(o RecordOutcome) {
	switch o.Outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Skip records a record dropped with a reason.
func (r *SyncResult) Skip(s SkipRecord) {
	r.Skipped++
	r.Skips = append(r.Skips, s)
	r.Outcomes = append(r.Outcomes, RecordOutcome{Key: s.Key, Outcome: OutcomeSkipped, Message: s.Reason})
}

// Fail records a rejected record.
func (r *SyncResult) Fail(f FailureRecord) {
	r.Failed++
	r.Errors = append(r.Errors, f)
	r.Outcomes = append(r.Outcomes, RecordOutcome{Key: f.Key, Outcome: OutcomeFailed, Message: f.Message})
}

// Warn appends a run-level warning.
func (r *SyncResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Complete stamps the end time.
func (r *SyncResult) Complete() {
	r.EndTime = time.Now()
}

// Duration of the run so far.
func (r *SyncResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Succeeded is the count of records that reached a terminal non-failed state
// in the ERP.
func (r *SyncResult) Succeeded() int {
	return r.Created + r.Updated + r.Unchanged
}

// HasFailures reports whether the run should exit non-zero.
func (r *SyncResult) HasFailures() bool {
	return r.Failed > 0
}
