// pkg/source/xlsx.go
package source

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

// XLSXReader reads ranges from an exported workbook
type XLSXReader struct {
	file   *excelize.File
	path   string
	logger *zap.Logger
}

// NewXLSXReader opens the workbook at path
func NewXLSXReader(path string, logger *zap.Logger) (*XLSXReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return newXLSXReader(f, path, logger), nil
}

func newXLSXReader(f *excelize.File, path string, logger *zap.Logger) *XLSXReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XLSXReader{file: f, path: path, logger: logger.Named("xlsx-reader")}
}

// ReadRange implements Reader
func (r *XLSXReader) ReadRange(ctx context.Context, sheet, rng string) ([]model.SourceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}

	grid, err := r.file.GetRows(sheet)
	if err != nil {
		return nil, err
	}

	rows := window(sheet, grid, parsed)
	r.logger.Debug("Read workbook range",
		zap.String("path", r.path),
		zap.String("sheet", sheet),
		zap.String("range", rng),
		zap.Int("rows", len(rows)))

	return rows, nil
}

// Close releases the workbook
func (r *XLSXReader) Close() error {
	return r.file.Close()
}
