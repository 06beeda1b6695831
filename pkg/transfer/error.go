package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/config"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/source"
)

// Action defines the recommended action after an error
type Action int

const (
	// ActionContinue indicates processing should continue despite the error
	ActionContinue Action = iota
	// ActionSkipRecord drops the record into the skip list
	ActionSkipRecord
	// ActionFailRecord records the record as failed and moves on
	ActionFailRecord
	// ActionAbort indicates the entire run should be aborted
	ActionAbort
)

// String returns a string representation of the action
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionSkipRecord:
		return "SkipRecord"
	case ActionFailRecord:
		return "FailRecord"
	case ActionAbort:
		return "Abort"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// ErrorCategory defines categories of errors during a sync run
type ErrorCategory int

const (
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryWarning
	ErrorCategoryValidation
	ErrorCategoryRemote
	ErrorCategoryTransient
	ErrorCategorySourceRead
	ErrorCategoryConfiguration
	ErrorCategoryCancelled
)

// String returns a string representation of the error category
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryNone:
		return "None"
	case ErrorCategoryWarning:
		return "Warning"
	case ErrorCategoryValidation:
		return "Validation"
	case ErrorCategoryRemote:
		return "Remote"
	case ErrorCategoryTransient:
		return "Transient"
	case ErrorCategorySourceRead:
		return "SourceRead"
	case ErrorCategoryConfiguration:
		return "Configuration"
	case ErrorCategoryCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", ec)
	}
}

// Categorize classifies err by its type
func Categorize(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var (
		missing *config.MissingEnvError
		readErr *source.ReadError
		valErr  *cleaner.ValidationError
		client  *erp.ClientError
		cfgErr  *ConfigError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &client):
		return ErrorCategoryCancelled
	case errors.As(err, &missing), errors.As(err, &cfgErr):
		return ErrorCategoryConfiguration
	case errors.As(err, &readErr):
		return ErrorCategorySourceRead
	case errors.As(err, &valErr):
		return ErrorCategoryValidation
	case errors.As(err, &client):
		if client.Retryable() {
			return ErrorCategoryTransient
		}
		return ErrorCategoryRemote
	default:
		return ErrorCategoryRemote
	}
}

// ConfigError is a dataset or run option that cannot work
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// ErrorRecord represents a single error during a run
type ErrorRecord struct {
	Category  ErrorCategory
	Dataset   string
	Key       string
	Operation string
	Status    int
	Error     error
	Message   string // Derived from Error but stored for serialization
	Timestamp time.Time
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(err error) ErrorRecord {
	record := ErrorRecord{
		Category:  Categorize(err),
		Error:     err,
		Timestamp: time.Now(),
	}

	if err != nil {
		record.Message = err.Error()
	}

	var client *erp.ClientError
	if errors.As(err, &client) {
		record.Status = client.Status
	}

	return record
}

// WithRecord adds the dataset and natural key
func (r ErrorRecord) WithRecord(dataset, key string) ErrorRecord {
	r.Dataset = dataset
	r.Key = key
	return r
}

// WithOperation names the step that failed
func (r ErrorRecord) WithOperation(op string) ErrorRecord {
	r.Operation = op
	return r
}

// WithCategory overrides the derived category
func (r ErrorRecord) WithCategory(c ErrorCategory) ErrorRecord {
	r.Category = c
	return r
}

// String returns a formatted error message
func (r ErrorRecord) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] ", r.Category))

	if r.Dataset != "" {
		sb.WriteString(fmt.Sprintf("Dataset: %s ", r.Dataset))
	}

	if r.Key != "" {
		sb.WriteString(fmt.Sprintf("Key: %s ", r.Key))
	}

	if r.Operation != "" {
		sb.WriteString(fmt.Sprintf("Op: %s ", r.Operation))
	}

	if r.Status != 0 {
		sb.WriteString(fmt.Sprintf("Status: %d ", r.Status))
	}

	sb.WriteString("Error: " + r.Message)
	return sb.String()
}

// ActionFor returns what the run does with an error of category c. Only
// configuration, primary source and cancellation errors end a run.
func ActionFor(c ErrorCategory) Action {
	switch c {
	case ErrorCategoryNone, ErrorCategoryWarning:
		return ActionContinue
	case ErrorCategoryValidation:
		return ActionSkipRecord
	case ErrorCategoryRemote, ErrorCategoryTransient:
		return ActionFailRecord
	case ErrorCategorySourceRead, ErrorCategoryConfiguration, ErrorCategoryCancelled:
		return ActionAbort
	default:
		return ActionFailRecord
	}
}

// ErrorHandler counts and samples errors during a run
type ErrorHandler struct {
	logger       *zap.Logger
	errorCounts  map[ErrorCategory]int
	sampleErrors map[ErrorCategory][]ErrorRecord
	mu           sync.Mutex
	maxSamples   int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger,
		errorCounts:  make(map[ErrorCategory]int),
		sampleErrors: make(map[ErrorCategory][]ErrorRecord),
		maxSamples:   5, // Store up to 5 sample errors per category
	}
}

// HandleError records an error and returns the action to take
func (eh *ErrorHandler) HandleError(record ErrorRecord) Action {
	eh.RecordError(record)
	return ActionFor(record.Category)
}

// RecordError saves an error occurrence
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.errorCounts[record.Category]++

	samples := eh.sampleErrors[record.Category]
	if len(samples) < eh.maxSamples {
		eh.sampleErrors[record.Category] = append(samples, record)
	}

	if eh.logger != nil {
		logLevel := zap.InfoLevel
		switch record.Category {
		case ErrorCategoryWarning, ErrorCategoryRemote, ErrorCategoryTransient:
			logLevel = zap.WarnLevel
		case ErrorCategorySourceRead, ErrorCategoryConfiguration:
			logLevel = zap.ErrorLevel
		}

		eh.logger.Log(logLevel, "Sync error",
			zap.String("category", record.Category.String()),
			zap.String("key", record.Key),
			zap.String("operation", record.Operation),
			zap.Int("status", record.Status),
			zap.String("error", record.Message))
	}
}

// GetErrorSummary returns error counts by category
func (eh *ErrorHandler) GetErrorSummary() map[ErrorCategory]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	summary := make(map[ErrorCategory]int)
	for category, count := range eh.errorCounts {
		summary[category] = count
	}

	return summary
}

// GetErrorSamples returns sample errors for each category
func (eh *ErrorHandler) GetErrorSamples() map[ErrorCategory][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[ErrorCategory][]ErrorRecord)
	for category, records := range eh.sampleErrors {
		categorySamples := make([]ErrorRecord, len(records))
		copy(categorySamples, records)
		samples[category] = categorySamples
	}

	return samples
}
