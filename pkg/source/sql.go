// pkg/source/sql.go
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

// SQLReader reads sheets that were exported to database tables. Each sheet is
// a table in the configured schema; the column names play the part of sheet
// row 1 so ranges line up with the spreadsheet layout.
type SQLReader struct {
	db     *sqlx.DB
	schema string
	logger *zap.Logger
}

// NewSQLReader creates a reader over db
func NewSQLReader(db *sqlx.DB, schema string, logger *zap.Logger) *SQLReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLReader{
		db:     db,
		schema: schema,
		logger: logger.Named("sql-reader"),
	}
}

// ReadRange implements Reader
func (r *SQLReader) ReadRange(ctx context.Context, sheet, rng string) ([]model.SourceRow, error) {
	parsed, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s", quoteIdent(r.schema), quoteIdent(sheet))
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", sheet, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	grid := [][]string{columns}
	for rows.Next() {
		if parsed.EndRow > 0 && len(grid) >= parsed.EndRow {
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(grid)+1, err)
		}
		grid = append(grid, trimTrailingEmpty(valuesToCells(values)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	result := window(sheet, grid, parsed)
	r.logger.Debug("Read table range",
		zap.String("schema", r.schema),
		zap.String("table", sheet),
		zap.String("range", rng),
		zap.Int("rows", len(result)))

	return result, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func valuesToCells(values []interface{}) []string {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = sqlValueString(v)
	}
	return cells
}

// trimTrailingEmpty mirrors how spreadsheet APIs drop trailing blank cells.
func trimTrailingEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && cells[end-1] == "" {
		end--
	}
	return cells[:end]
}

// sqlValueString renders a driver value the way a spreadsheet would show it
func sqlValueString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339)
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%v", v)
	default:
		// Complex types are rendered as JSON
		b, err := jsoniter.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
