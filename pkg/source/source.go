// pkg/source/source.go
package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

// Reader reads one range of one sheet into ordered rows
type Reader interface {
	ReadRange(ctx context.Context, sheet, rng string) ([]model.SourceRow, error)
}

// ReadError reports a failed range read
type ReadError struct {
	Sheet string
	Range string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read %s!%s: %v", e.Sheet, e.Range, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Spec names a sheet range feeding a dataset. Optional sheets only warn on
// failure and contribute no rows.
type Spec struct {
	Sheet    string
	Range    string
	Optional bool
}

// ReadAll reads every spec in order. A failure on a required sheet aborts with
// a *ReadError; a failure on an optional sheet is returned as a warning.
func ReadAll(ctx context.Context, r Reader, specs []Spec, logger *zap.Logger) ([]model.SourceRow, []string, error) {
	var rows []model.SourceRow
	var warnings []string

	for _, spec := range specs {
		got, err := r.ReadRange(ctx, spec.Sheet, spec.Range)
		if err != nil {
			readErr := &ReadError{Sheet: spec.Sheet, Range: spec.Range, Err: err}
			if !spec.Optional {
				return nil, warnings, readErr
			}
			logger.Warn("Optional sheet could not be read, continuing without it",
				zap.String("sheet", spec.Sheet),
				zap.String("range", spec.Range),
				zap.Error(err))
			warnings = append(warnings, readErr.Error())
			continue
		}

		logger.Info("Read sheet",
			zap.String("sheet", spec.Sheet),
			zap.String("range", spec.Range),
			zap.Int("rows", len(got)))
		rows = append(rows, got...)
	}

	return rows, warnings, nil
}

// window cuts a full grid (row 1 first) down to the range, keeping short rows
// short and numbering each row by its position in the sheet.
func window(sheet string, grid [][]string, rng Range) []model.SourceRow {
	var rows []model.SourceRow
	for i, line := range grid {
		number := i + 1
		if !rng.Contains(number) {
			continue
		}
		var cells []string
		if rng.StartCol < len(line) {
			end := rng.EndCol + 1
			if end > len(line) {
				end = len(line)
			}
			cells = append([]string(nil), line[rng.StartCol:end]...)
		}
		rows = append(rows, model.SourceRow{Sheet: sheet, Number: number, Cells: cells})
	}
	return rows
}
