// pkg/source/sheets.go
package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/David-Botos/erp-ingress/pkg/config"
	"github.com/David-Botos/erp-ingress/pkg/model"
)

// SheetsReader reads ranges from a Google spreadsheet
type SheetsReader struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        *zap.Logger
}

// NewSheetsReader authenticates with a service account. Credentials may be a
// path to the key file or the key JSON itself.
func NewSheetsReader(ctx context.Context, cfg *config.SheetsConfig, logger *zap.Logger) (*SheetsReader, error) {
	if cfg == nil {
		return nil, errors.New("sheets configuration cannot be nil")
	}

	data, err := loadCredentials(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	jwtConf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return NewSheetsReaderWithService(svc, cfg.SpreadsheetID, logger), nil
}

// NewSheetsReaderWithService wraps an already configured service
func NewSheetsReaderWithService(svc *sheets.Service, spreadsheetID string, logger *zap.Logger) *SheetsReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetsReader{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger.Named("sheets-reader"),
	}
}

// ReadRange implements Reader
func (r *SheetsReader) ReadRange(ctx context.Context, sheet, rng string) ([]model.SourceRow, error) {
	parsed, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}

	resp, err := r.svc.Spreadsheets.Values.Get(r.spreadsheetID, a1(sheet, rng)).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	rows := make([]model.SourceRow, 0, len(resp.Values))
	for i, values := range resp.Values {
		cells := make([]string, len(values))
		for j, v := range values {
			cells[j] = cellString(v)
		}
		rows = append(rows, model.SourceRow{
			Sheet:  sheet,
			Number: parsed.StartRow + i,
			Cells:  cells,
		})
	}

	r.logger.Debug("Fetched range",
		zap.String("sheet", sheet),
		zap.String("range", rng),
		zap.Int("rows", len(rows)))

	return rows, nil
}

func loadCredentials(creds string) ([]byte, error) {
	if creds == "" {
		return nil, errors.New("GOOGLE_SHEETS_CREDS is empty")
	}
	if info, err := os.Stat(creds); err == nil && !info.IsDir() {
		data, err := os.ReadFile(creds)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return data, nil
	}
	if !jsoniter.Valid([]byte(creds)) {
		return nil, errors.New("GOOGLE_SHEETS_CREDS must be either a valid file path or JSON content")
	}
	return []byte(creds), nil
}

func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
