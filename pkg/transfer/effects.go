package transfer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/erp"
)

// Effects performs the remote writes of a run. Dry runs swap in an
// implementation that only records what would have been written.
type Effects interface {
	Create(ctx context.Context, doctype string, doc erp.Doc) (string, error)
	Update(ctx context.Context, doctype, name string, fields erp.Doc) error
	Submit(ctx context.Context, doctype, name string) error
	Cancel(ctx context.Context, doctype, name string) error
	DryRun() bool
}

// Writer is the subset of the ERP client used for writes
type Writer interface {
	Create(ctx context.Context, doctype string, doc erp.Doc) (erp.Doc, error)
	Update(ctx context.Context, doctype, name string, fields erp.Doc) (erp.Doc, error)
	Submit(ctx context.Context, doctype, name string) (erp.Doc, error)
	Cancel(ctx context.Context, doctype, name string) error
}

// LiveEffects writes through to the ERP
type LiveEffects struct {
	writer Writer
}

// NewLiveEffects wraps an ERP writer
func NewLiveEffects(w Writer) *LiveEffects {
	return &LiveEffects{writer: w}
}

func (e *LiveEffects) Create(ctx context.Context, doctype string, doc erp.Doc) (string, error) {
	created, err := e.writer.Create(ctx, doctype, doc)
	if err != nil {
		return "", err
	}
	name, _ := created["name"].(string)
	return name, nil
}

func (e *LiveEffects) Update(ctx context.Context, doctype, name string, fields erp.Doc) error {
	_, err := e.writer.Update(ctx, doctype, name, fields)
	return err
}

func (e *LiveEffects) Submit(ctx context.Context, doctype, name string) error {
	_, err := e.writer.Submit(ctx, doctype, name)
	return err
}

func (e *LiveEffects) Cancel(ctx context.Context, doctype, name string) error {
	return e.writer.Cancel(ctx, doctype, name)
}

func (e *LiveEffects) DryRun() bool { return false }

// Call is one write a dry run would have made
type Call struct {
	Method  string
	Doctype string
	Name    string
	Fields  erp.Doc
}

// DryRunEffects records writes without performing them
type DryRunEffects struct {
	mu     sync.Mutex
	calls  []Call
	logger *zap.Logger
}

// NewDryRunEffects creates a recorder for dry runs
func NewDryRunEffects(logger *zap.Logger) *DryRunEffects {
	return &DryRunEffects{logger: logger}
}

func (e *DryRunEffects) record(c Call) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()

	e.logger.Info("Dry run: would write",
		zap.String("method", c.Method),
		zap.String("doctype", c.Doctype),
		zap.String("name", c.Name),
		zap.Int("fields", len(c.Fields)))
}

// Create returns a placeholder name so dependents can still be planned
func (e *DryRunEffects) Create(_ context.Context, doctype string, doc erp.Doc) (string, error) {
	name := "dry-run-" + uuid.New().String()
	e.record(Call{Method: "create", Doctype: doctype, Name: name, Fields: doc})
	return name, nil
}

func (e *DryRunEffects) Update(_ context.Context, doctype, name string, fields erp.Doc) error {
	e.record(Call{Method: "update", Doctype: doctype, Name: name, Fields: fields})
	return nil
}

func (e *DryRunEffects) Submit(_ context.Context, doctype, name string) error {
	e.record(Call{Method: "submit", Doctype: doctype, Name: name})
	return nil
}

func (e *DryRunEffects) Cancel(_ context.Context, doctype, name string) error {
	e.record(Call{Method: "cancel", Doctype: doctype, Name: name})
	return nil
}

func (e *DryRunEffects) DryRun() bool { return true }

// Calls returns the recorded writes in order
func (e *DryRunEffects) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}
