package transfer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
)

// VerificationResult lists records that did not land as written
type VerificationResult struct {
	Dataset     string              `json:"dataset"`
	Checked     int                 `json:"checked"`
	RemoteCount int                 `json:"remote_count"`
	Missing     []string            `json:"missing,omitempty"`
	Drifted     map[string][]string `json:"drifted,omitempty"`
}

// OK reports whether every record was found with the expected values
func (r *VerificationResult) OK() bool {
	return len(r.Missing) == 0 && len(r.Drifted) == 0
}

func (r *VerificationResult) driftedKeys() []string {
	keys := make([]string, 0, len(r.Drifted))
	for k := range r.Drifted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Verifier re-reads the ERP after a run and compares it with what was sent
type Verifier struct {
	lister  resolver.Lister
	logger  *zap.Logger
	timeout time.Duration
}

// NewVerifier creates a new verifier
func NewVerifier(lister resolver.Lister, logger *zap.Logger) *Verifier {
	return &Verifier{
		lister:  lister,
		logger:  logger,
		timeout: time.Minute * 5, // Default 5-minute timeout
	}
}

// WithTimeout sets a custom timeout for verification operations
func (v *Verifier) WithTimeout(timeout time.Duration) *Verifier {
	v.timeout = timeout
	return v
}

// Verify lists the dataset's doctype again and checks each record exists and
// matches on the compared fields. Fields not fetched by the listing are not
// compared.
func (v *Verifier) Verify(ctx context.Context, ds *Dataset, records []model.Record) (*VerificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	v.logger.Info("Verifying sync", zap.String("doctype", ds.Doctype), zap.Int("records", len(records)))

	idx, err := resolver.Load(ctx, v.lister, ds.Doctype, ds.identity(), erp.ListOptions{
		Fields:  ds.listFields(),
		Filters: ds.Filters,
	}, v.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to re-list %s: %w", ds.Doctype, err)
	}

	fields := ds.DiffFields
	if len(fields) == 0 {
		fields = ds.ListFields
	}

	result := &VerificationResult{
		Dataset:     ds.Name,
		RemoteCount: idx.Len(),
		Drifted:     make(map[string][]string),
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.Key] {
			continue
		}
		seen[rec.Key] = true
		result.Checked++

		remote, ok := idx.Resolve(rec.Key, ds.Fallbacks...)
		if !ok {
			result.Missing = append(result.Missing, rec.Key)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		if changes := Diff(rec.Fields, remote.Fields, fields); len(changes) > 0 {
			result.Drifted[rec.Key] = ChangedFields(changes)
		}
	}

	if result.OK() {
		v.logger.Info("Verification successful",
			zap.Int("checked", result.Checked),
			zap.Int("remote_count", result.RemoteCount))
	} else {
		v.logger.Warn("Verification found differences",
			zap.Int("checked", result.Checked),
			zap.Int("missing", len(result.Missing)),
			zap.Int("drifted", len(result.Drifted)))
	}

	return result, nil
}
