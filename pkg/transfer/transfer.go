package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
)

// Options tune the pacing and reporting of a run
type Options struct {
	BatchSize    int           // Records between pauses
	BatchPause   time.Duration // Pause between batches, skipped on dry runs
	MessageLimit int           // Longest error message kept per record
	Verify       bool          // Re-list written documents after the run
}

// DefaultOptions returns the standard pacing
func DefaultOptions() Options {
	return Options{
		BatchSize:    50,
		BatchPause:   2 * time.Second,
		MessageLimit: 200,
	}
}

// RunOptions narrow a single run
type RunOptions struct {
	Limit  int      // Process at most this many records; 0 means all
	Sheets []string // Read only these sheets of the dataset
}

// Recorder persists finished runs
type Recorder interface {
	RecordRun(ctx context.Context, result *model.SyncResult) error
}

// StatsSource exposes request counters of the ERP client
type StatsSource interface {
	Stats() erp.Stats
}

// Engine runs datasets through read, normalize, resolve and upsert
type Engine struct {
	reader   source.Reader
	lister   resolver.Lister
	effects  Effects
	opts     Options
	logger   *zap.Logger
	recorder Recorder
	stats    StatsSource
	metrics  *Metrics
	verified *VerificationResult
}

// NewEngine creates an engine over a source reader and an ERP
func NewEngine(reader source.Reader, lister resolver.Lister, effects Effects, opts Options, logger *zap.Logger) *Engine {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 200
	}
	if stats, ok := lister.(StatsSource); ok {
		return &Engine{reader: reader, lister: lister, effects: effects, opts: opts, logger: logger, stats: stats}
	}
	return &Engine{reader: reader, lister: lister, effects: effects, opts: opts, logger: logger}
}

// WithRecorder persists each finished run
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// Metrics of the last run
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Verification of the last run, nil unless verification ran
func (e *Engine) Verification() *VerificationResult {
	return e.verified
}

// run carries the state of one dataset run
type run struct {
	ds      *Dataset
	result  *model.SyncResult
	metrics *Metrics
	errors  *ErrorHandler
	logger  *zap.Logger
	index   *resolver.Index
	links   Links
	synced  []model.Record
	total   int
}

// Run syncs one dataset. Per-record problems land in the result; the
// returned error is reserved for failures that stop the whole run, in which
// case the partial result is still returned.
func (e *Engine) Run(ctx context.Context, ds *Dataset, opts RunOptions) (*model.SyncResult, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	specs, err := ds.sources(opts.Sheets)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := e.logger.With(zap.String("dataset", ds.Name), zap.String("run_id", runID))
	r := &run{
		ds:      ds,
		result:  model.NewSyncResult(runID, ds.Name, e.effects.DryRun()),
		metrics: NewMetrics(ds.Name, logger),
		errors:  NewErrorHandler(logger),
		logger:  logger,
	}
	e.metrics = r.metrics
	e.verified = nil

	var before erp.Stats
	if e.stats != nil {
		before = e.stats.Stats()
	}

	logger.Info("Starting sync",
		zap.String("doctype", ds.Doctype),
		zap.Bool("dry_run", r.result.DryRun),
		zap.Bool("submit", ds.Submit),
		zap.Int("limit", opts.Limit))

	err = e.execute(ctx, r, specs, opts)

	r.result.Total = r.result.Succeeded() + r.result.Skipped + r.result.Failed
	r.result.Complete()
	r.metrics.Records = r.total
	r.metrics.CleaningOps = len(r.result.Operations)
	if e.stats != nil {
		r.metrics.RecordAPI(before, e.stats.Stats())
	}
	for c, n := range r.errors.GetErrorSummary() {
		for i := 0; i < n; i++ {
			r.metrics.RecordError(c)
		}
	}
	r.metrics.Complete()
	r.metrics.LogSummary(r.result)

	if e.recorder != nil {
		if recErr := e.recorder.RecordRun(ctx, r.result); recErr != nil {
			logger.Warn("Failed to record run", zap.Error(recErr))
		}
	}

	return r.result, err
}

func (e *Engine) execute(ctx context.Context, r *run, specs []source.Spec, opts RunOptions) error {
	records, err := e.load(ctx, r, specs)
	if err != nil {
		return err
	}

	if opts.Limit > 0 && len(records) > opts.Limit {
		r.logger.Info("Limiting records", zap.Int("available", len(records)), zap.Int("limit", opts.Limit))
		records = records[:opts.Limit]
	}
	r.total = len(records)

	if err := e.index(ctx, r); err != nil {
		return err
	}

	stop := r.metrics.Phase(PhaseSync)
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			stop()
			r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, rec.Key))
			return err
		}

		e.process(ctx, r, rec, i)

		done := i + 1
		if e.opts.BatchSize > 0 && done%e.opts.BatchSize == 0 && done < len(records) {
			r.logger.Info("Batch complete",
				zap.Int("processed", done),
				zap.Int("total", len(records)))
			if !r.result.DryRun {
				if err := sleep(ctx, e.opts.BatchPause); err != nil {
					stop()
					return err
				}
			}
		}
	}
	stop()

	if e.opts.Verify && !r.result.DryRun && len(r.synced) > 0 {
		stop := r.metrics.Phase(PhaseVerify)
		defer stop()

		v := NewVerifier(e.lister, r.logger)
		res, err := v.Verify(ctx, r.ds, r.synced)
		if err != nil {
			r.result.Warn(fmt.Sprintf("verification failed: %s", err))
			return nil
		}
		e.verified = res
		for _, key := range res.Missing {
			r.result.Warn(fmt.Sprintf("verify: %s not found after sync", key))
		}
		for _, key := range res.driftedKeys() {
			r.result.Warn(fmt.Sprintf("verify: %s differs after sync: %s", key, strings.Join(res.Drifted[key], ", ")))
		}
	}

	return nil
}

// load reads and normalizes every source row
func (e *Engine) load(ctx context.Context, r *run, specs []source.Spec) ([]model.Record, error) {
	stop := r.metrics.Phase(PhaseRead)
	rows, warnings, err := source.ReadAll(ctx, e.reader, specs, r.logger)
	stop()
	for _, w := range warnings {
		r.result.Warn(w)
		r.errors.RecordError(NewErrorRecord(errors.New(w)).WithCategory(ErrorCategoryWarning))
	}
	if err != nil {
		r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, ""))
		return nil, err
	}
	r.metrics.RowsRead = len(rows)

	stop = r.metrics.Phase(PhaseNormalize)
	defer stop()

	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		if row.IsBlank() {
			continue
		}
		rec, ops, err := r.ds.normalizer(row.Sheet).Normalize(row)
		r.result.Operations = append(r.result.Operations, ops...)
		if err != nil {
			if !cleaner.IsValidation(err) {
				return nil, err
			}
			r.result.Skip(model.SkipRecord{Sheet: row.Sheet, Row: row.Number, Key: rec.Key, Reason: err.Error()})
			r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, rec.Key))
			continue
		}
		records = append(records, rec)
	}

	if r.ds.Prepare != nil {
		var skips []model.SkipRecord
		records, skips = r.ds.Prepare(records)
		for _, s := range skips {
			r.result.Skip(s)
			r.errors.RecordError(NewErrorRecord(errors.New(s.Reason)).WithRecord(r.ds.Name, s.Key).WithCategory(ErrorCategoryValidation))
		}
	}

	r.logger.Info("Normalized source",
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)),
		zap.Int("skipped", r.result.Skipped),
		zap.Int("cleaning_operations", len(r.result.Operations)))

	return records, nil
}

// index bulk-loads the dataset's own doctype and every linked doctype
func (e *Engine) index(ctx context.Context, r *run) error {
	stop := r.metrics.Phase(PhaseIndex)
	defer stop()

	idx, err := resolver.Load(ctx, e.lister, r.ds.Doctype, r.ds.identity(), erp.ListOptions{
		Fields:  r.ds.listFields(),
		Filters: r.ds.Filters,
	}, r.logger)
	if err != nil {
		r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, ""))
		return err
	}
	for _, d := range idx.Duplicates() {
		r.result.Warn(fmt.Sprintf("%s %q matches %d documents; using %s", r.ds.Doctype, d.Key, len(d.Ignored)+1, d.Kept))
	}
	r.index = idx

	r.links = make(Links, len(r.ds.Links))
	for _, l := range r.ds.Links {
		if _, ok := r.links[l.Doctype]; ok {
			continue
		}
		li, err := resolver.Load(ctx, e.lister, l.Doctype, []string{l.KeyField}, erp.ListOptions{
			Fields:  l.Fields,
			Filters: l.Filters,
		}, r.logger)
		if err != nil {
			r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, ""))
			return err
		}
		r.links[l.Doctype] = li
	}
	return nil
}

// process takes one record to its outcome
func (e *Engine) process(ctx context.Context, r *run, rec model.Record, i int) {
	logger := r.logger.With(
		zap.String("key", rec.Key),
		zap.String("progress", fmt.Sprintf("%d/%d", i+1, r.total)))

	if !e.resolveLinks(ctx, r, &rec, logger) {
		return
	}

	if r.ds.Finalize != nil {
		warnings, err := r.ds.Finalize(&rec, r.links)
		for _, w := range warnings {
			r.result.Warn(fmt.Sprintf("%s: %s", rec.Key, w))
		}
		if err != nil {
			if cleaner.IsValidation(err) {
				r.result.Skip(model.SkipRecord{Sheet: rec.Sheet, Row: rec.Row, Key: rec.Key, Reason: err.Error()})
				r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, rec.Key))
				return
			}
			e.fail(r, rec, "validate", err, logger)
			return
		}
	}

	if r.ds.composite() {
		key := resolver.KeyOf(rec.Fields, r.ds.identity())
		if key == "" {
			err := &cleaner.ValidationError{Reason: fmt.Sprintf("Row %d: missing %s", rec.Row, strings.Join(r.ds.identity(), ", "))}
			r.result.Skip(model.SkipRecord{Sheet: rec.Sheet, Row: rec.Row, Key: rec.Key, Reason: err.Error()})
			r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, rec.Key))
			return
		}
		rec.Key = key
		logger = logger.With(zap.String("identity", key))
	}

	remote, found := r.index.Resolve(rec.Key, r.ds.Fallbacks...)
	if !found {
		e.create(ctx, r, rec, logger)
		return
	}
	e.update(ctx, r, rec, remote, logger)
}

// resolveLinks rewrites link fields from natural keys to remote names
func (e *Engine) resolveLinks(ctx context.Context, r *run, rec *model.Record, logger *zap.Logger) bool {
	for _, l := range r.ds.Links {
		if l.Field == "" {
			continue
		}
		ref := strings.TrimSpace(rec.String(l.Field))
		if ref == "" {
			if l.Required {
				e.fail(r, *rec, "link", &cleaner.ValidationError{Field: l.Field, Reason: fmt.Sprintf("missing %s reference", l.Doctype)}, logger)
				return false
			}
			continue
		}

		target, ok := r.links[l.Doctype].Resolve(ref, l.Fallbacks...)
		if !ok && l.Ensure != nil {
			created, err := e.ensure(ctx, r, l, ref, logger)
			if err != nil {
				e.fail(r, *rec, "create "+l.Doctype, err, logger)
				return false
			}
			target, ok = created, true
		}
		if !ok {
			if l.Required {
				e.fail(r, *rec, "link", fmt.Errorf("%s %q not found", l.Doctype, ref), logger)
				return false
			}
			delete(rec.Fields, l.Field)
			r.result.Warn(fmt.Sprintf("%s: %s %q not found, %s left empty", rec.Key, l.Doctype, ref, l.Field))
			logger.Warn("Link not resolved", zap.String("doctype", l.Doctype), zap.String("ref", ref))
			continue
		}
		rec.Fields[l.Field] = target.Name
	}
	return true
}

// ensure creates a missing linked document and remembers it under ref
func (e *Engine) ensure(ctx context.Context, r *run, l Link, ref string, logger *zap.Logger) (model.RemoteRecord, error) {
	fields := l.Ensure(ref)
	name, err := e.effects.Create(ctx, l.Doctype, fields)
	if err != nil {
		return model.RemoteRecord{}, err
	}
	created := model.RemoteRecord{Name: name, Fields: copyFields(fields)}
	r.links[l.Doctype].Remember(ref, created)
	r.result.Warn(fmt.Sprintf("created missing %s %s", l.Doctype, name))
	logger.Info("Created linked document", zap.String("doctype", l.Doctype), zap.String("name", name))
	return created, nil
}

func (e *Engine) create(ctx context.Context, r *run, rec model.Record, logger *zap.Logger) {
	name, err := e.effects.Create(ctx, r.ds.Doctype, rec.Fields)
	if err != nil {
		e.fail(r, rec, "create", err, logger)
		return
	}

	stored := model.RemoteRecord{Name: name, Fields: copyFields(rec.Fields)}
	r.index.Remember(rec.Key, stored)
	logger.Info("Created", zap.String("name", name))

	e.createDependents(ctx, r, rec, name, logger)

	if r.ds.submits(rec) {
		if err := e.effects.Submit(ctx, r.ds.Doctype, name); err != nil {
			msg := cleaner.Truncate(err.Error(), e.opts.MessageLimit)
			r.result.Warn(fmt.Sprintf("%s: created %s but submit failed: %s", rec.Key, name, msg))
			r.errors.RecordError(NewErrorRecord(err).WithRecord(r.ds.Name, rec.Key).WithOperation("submit"))
		} else {
			stored.DocStatus = 1
			r.index.Remember(rec.Key, stored)
		}
	}

	r.result.Record(model.RecordOutcome{Key: rec.Key, RemoteName: name, Outcome: model.OutcomeCreated})
	r.synced = append(r.synced, rec)
}

// createDependents is best-effort; the parent stays created when a child fails
func (e *Engine) createDependents(ctx context.Context, r *run, rec model.Record, parent string, logger *zap.Logger) {
	if r.ds.Dependents == nil {
		return
	}
	for _, d := range r.ds.Dependents(rec, parent) {
		name, err := e.effects.Create(ctx, d.Doctype, d.Fields)
		if err != nil {
			msg := cleaner.Truncate(err.Error(), e.opts.MessageLimit)
			r.result.Warn(fmt.Sprintf("%s: %s %s not created: %s", rec.Key, d.Doctype, d.Label, msg))
			r.errors.RecordError(NewErrorRecord(err).
				WithRecord(r.ds.Name, rec.Key).
				WithOperation("create " + d.Doctype).
				WithCategory(ErrorCategoryWarning))
			continue
		}
		logger.Debug("Created dependent", zap.String("doctype", d.Doctype), zap.String("name", name))
	}
}

func (e *Engine) update(ctx context.Context, r *run, rec model.Record, remote model.RemoteRecord, logger *zap.Logger) {
	changes := Diff(rec.Fields, remote.Fields, r.ds.DiffFields)
	changed := ChangedFields(changes)

	if remote.DocStatus == 2 {
		r.result.Skip(model.SkipRecord{Sheet: rec.Sheet, Row: rec.Row, Key: rec.Key,
			Reason: fmt.Sprintf("%s is cancelled", remote.Name)})
		return
	}

	if remote.Submitted() {
		if len(changes) > 0 {
			r.result.Skip(model.SkipRecord{Sheet: rec.Sheet, Row: rec.Row, Key: rec.Key,
				Reason: fmt.Sprintf("%s is submitted; cannot change %s", remote.Name, strings.Join(changed, ", "))})
			logger.Info("Submitted document differs, skipping", zap.String("name", remote.Name), zap.Strings("fields", changed))
			return
		}
		r.result.Record(model.RecordOutcome{Key: rec.Key, RemoteName: remote.Name, Outcome: model.OutcomeUnchanged})
		r.synced = append(r.synced, rec)
		return
	}

	outcome := model.OutcomeUnchanged
	if len(changes) > 0 {
		if err := e.effects.Update(ctx, r.ds.Doctype, remote.Name, changes); err != nil {
			e.fail(r, rec, "update", err, logger)
			return
		}
		if remote.Fields == nil {
			remote.Fields = make(map[string]any, len(changes))
		}
		for k, v := range changes {
			remote.Fields[k] = v
		}
		outcome = model.OutcomeUpdated
		logger.Info("Updated", zap.String("name", remote.Name), zap.Strings("fields", changed))
	}

	if r.ds.submits(rec) {
		if err := e.effects.Submit(ctx, r.ds.Doctype, remote.Name); err != nil {
			e.fail(r, rec, "submit", err, logger)
			return
		}
		remote.DocStatus = 1
		outcome = model.OutcomeUpdated
		logger.Info("Submitted", zap.String("name", remote.Name))
	}

	r.index.Remember(rec.Key, remote)
	r.result.Record(model.RecordOutcome{Key: rec.Key, RemoteName: remote.Name, Outcome: outcome, ChangedFields: changed})
	r.synced = append(r.synced, rec)
}

func (e *Engine) fail(r *run, rec model.Record, op string, err error, logger *zap.Logger) {
	er := NewErrorRecord(err).WithRecord(r.ds.Name, rec.Key).WithOperation(op)
	if op == "link" {
		er = er.WithCategory(ErrorCategoryValidation)
	}
	r.errors.RecordError(er)

	r.result.Fail(model.FailureRecord{
		Key:       rec.Key,
		Operation: op,
		Status:    er.Status,
		Message:   cleaner.Truncate(er.Message, e.opts.MessageLimit),
	})
	logger.Warn("Record failed", zap.String("operation", op), zap.Error(err))
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
