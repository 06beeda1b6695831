// Package ops runs document workflow operations over existing ERP documents:
// submitting drafts and cancelling submitted documents.
package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

const messageLimit = 200

// Client reads the documents an operation works on
type Client interface {
	ListAll(ctx context.Context, doctype string, opts erp.ListOptions) ([]erp.Doc, error)
	Get(ctx context.Context, doctype, name string) (erp.Doc, error)
}

// Runner applies one operation to many documents. A failing document is
// recorded and the run moves on.
type Runner struct {
	client     Client
	effects    transfer.Effects
	logger     *zap.Logger
	batchSize  int
	batchPause time.Duration
}

// NewRunner creates a runner writing through effects
func NewRunner(client Client, effects transfer.Effects, logger *zap.Logger) *Runner {
	return &Runner{
		client:  client,
		effects: effects,
		logger:  logger.Named("ops"),
	}
}

// WithBatching pauses for pause after every size documents
func (r *Runner) WithBatching(size int, pause time.Duration) *Runner {
	r.batchSize = size
	r.batchPause = pause
	return r
}

// SubmitDrafts submits every draft of doctype matching filters. Each
// submitted draft counts as updated.
func (r *Runner) SubmitDrafts(ctx context.Context, doctype string, filters []erp.Filter) (*model.SyncResult, error) {
	result := model.NewSyncResult(uuid.New().String(), "submit-drafts:"+doctype, r.effects.DryRun())
	logger := r.logger.With(zap.String("run_id", result.RunID), zap.String("doctype", doctype))
	defer result.Complete()

	all := append([]erp.Filter{{"docstatus", "=", 0}}, filters...)
	drafts, err := r.client.ListAll(ctx, doctype, erp.ListOptions{Fields: []string{"name"}, Filters: all})
	if err != nil {
		return result, fmt.Errorf("failed to list %s drafts: %w", doctype, err)
	}
	logger.Info("Submitting drafts", zap.Int("drafts", len(drafts)))

	handler := transfer.NewErrorHandler(logger)
	for i, d := range drafts {
		name, _ := d["name"].(string)
		if err := r.submit(ctx, result, handler, doctype, name); err != nil {
			return result, err
		}
		if err := r.pause(ctx, i+1, len(drafts)); err != nil {
			return result, err
		}
		logger.Debug("Progress", zap.Int("done", i+1), zap.Int("total", len(drafts)))
	}

	result.Total = result.Succeeded() + result.Skipped + result.Failed
	logger.Info("Drafts submitted",
		zap.Int("submitted", result.Updated),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (r *Runner) submit(ctx context.Context, result *model.SyncResult, handler *transfer.ErrorHandler, doctype, name string) error {
	if err := r.effects.Submit(ctx, doctype, name); err != nil {
		if abort := r.fail(result, handler, name, "submit", err); abort {
			return err
		}
		return nil
	}
	result.Record(model.RecordOutcome{Key: name, RemoteName: name, Outcome: model.OutcomeUpdated, Message: "submitted"})
	r.logger.Info("Submitted", zap.String("doctype", doctype), zap.String("name", name))
	return nil
}

// CancelDocuments cancels the named documents, or every submitted document of
// doctype when names is empty. Already cancelled documents count as unchanged
// and drafts are skipped.
func (r *Runner) CancelDocuments(ctx context.Context, doctype string, names []string) (*model.SyncResult, error) {
	result := model.NewSyncResult(uuid.New().String(), "cancel:"+doctype, r.effects.DryRun())
	logger := r.logger.With(zap.String("run_id", result.RunID), zap.String("doctype", doctype))
	defer result.Complete()

	if len(names) == 0 {
		docs, err := r.client.ListAll(ctx, doctype, erp.ListOptions{
			Fields:  []string{"name"},
			Filters: []erp.Filter{{"docstatus", "=", 1}},
		})
		if err != nil {
			return result, fmt.Errorf("failed to list submitted %s: %w", doctype, err)
		}
		for _, d := range docs {
			if name, _ := d["name"].(string); name != "" {
				names = append(names, name)
			}
		}
	}
	logger.Info("Cancelling documents", zap.Int("documents", len(names)))

	handler := transfer.NewErrorHandler(logger)
	for i, name := range names {
		if err := r.cancel(ctx, result, handler, doctype, name); err != nil {
			return result, err
		}
		if err := r.pause(ctx, i+1, len(names)); err != nil {
			return result, err
		}
	}

	result.Total = result.Succeeded() + result.Skipped + result.Failed
	logger.Info("Documents cancelled",
		zap.Int("cancelled", result.Updated),
		zap.Int("already_cancelled", result.Unchanged),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (r *Runner) cancel(ctx context.Context, result *model.SyncResult, handler *transfer.ErrorHandler, doctype, name string) error {
	doc, err := r.client.Get(ctx, doctype, name)
	if err != nil {
		if abort := r.fail(result, handler, name, "get", err); abort {
			return err
		}
		return nil
	}

	switch erp.DocStatus(doc) {
	case 2:
		result.Record(model.RecordOutcome{Key: name, RemoteName: name, Outcome: model.OutcomeUnchanged, Message: "already cancelled"})
		return nil
	case 0:
		result.Skip(model.SkipRecord{Key: name, Reason: fmt.Sprintf("%s %s is a draft, nothing to cancel", doctype, name)})
		return nil
	}

	if err := r.effects.Cancel(ctx, doctype, name); err != nil {
		if abort := r.fail(result, handler, name, "cancel", err); abort {
			return err
		}
		return nil
	}
	result.Record(model.RecordOutcome{Key: name, RemoteName: name, Outcome: model.OutcomeUpdated, Message: "cancelled"})
	r.logger.Info("Cancelled", zap.String("doctype", doctype), zap.String("name", name))
	return nil
}

// fail records a failed document and reports whether the run must stop
func (r *Runner) fail(result *model.SyncResult, handler *transfer.ErrorHandler, name, op string, err error) bool {
	rec := transfer.NewErrorRecord(err).WithRecord(result.Dataset, name).WithOperation(op)
	if handler.HandleError(rec) == transfer.ActionAbort {
		return true
	}
	result.Fail(model.FailureRecord{
		Key:       name,
		Operation: op,
		Status:    rec.Status,
		Message:   cleaner.Truncate(rec.Message, messageLimit),
	})
	return false
}

func (r *Runner) pause(ctx context.Context, done, total int) error {
	if r.batchSize <= 0 || r.batchPause <= 0 || r.effects.DryRun() || done%r.batchSize != 0 || done == total {
		return ctx.Err()
	}
	t := time.NewTimer(r.batchPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
