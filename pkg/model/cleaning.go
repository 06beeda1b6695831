// pkg/model/cleaning.go
package model

import (
	"time"
)

// CleaningOperation represents a single value the normalizer changed on ingest
type CleaningOperation struct {
	Dataset           string    // Logical dataset (e.g. "items")
	Sheet             string    // Source sheet/tab name
	FieldName         string    // Logical field that was cleaned
	OriginalValue     string    // Raw cell value
	NewValue          string    // Value after cleaning
	RowIdentifier     string    // Natural key of the record, or "row N" when no key exists yet
	CleaningOperation string    // Type of cleaning performed (e.g. "default_applied")
	CleaningReason    string    // Reason for cleaning (e.g. "blank_cell")
	CleanedAt         time.Time // When the cleaning occurred
}

// CleaningContext contains information needed for cleaning a value
type CleaningContext struct {
	Dataset       string
	Sheet         string
	FieldName     string
	RowIdentifier string
}

// Op builds a CleaningOperation for the context
func (c CleaningContext) Op(original, cleaned, operation, reason string) CleaningOperation {
	return CleaningOperation{
		Dataset:           c.Dataset,
		Sheet:             c.Sheet,
		FieldName:         c.FieldName,
		OriginalValue:     original,
		NewValue:          cleaned,
		RowIdentifier:     c.RowIdentifier,
		CleaningOperation: operation,
		CleaningReason:    reason,
		CleanedAt:         time.Now(),
	}
}
