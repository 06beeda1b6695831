package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

var _ transfer.Recorder = (*Ledger)(nil)

func sampleResult() *model.SyncResult {
	r := model.NewSyncResult("run-1", "items", false)
	r.Record(model.RecordOutcome{Key: "BTH-1", RemoteName: "BTH-1", Outcome: model.OutcomeCreated})
	r.Record(model.RecordOutcome{Key: "PNL-1", RemoteName: "PNL-1", Outcome: model.OutcomeUpdated, ChangedFields: []string{"standard_rate"}})
	r.Skip(model.SkipRecord{Sheet: "Masterfile", Row: 11, Reason: "Row 11: missing item_name"})
	r.Fail(model.FailureRecord{Key: "MOS-1", Operation: "create", Status: 417, Message: "Item Group Moss not found"})
	r.Warn("optional sheet missing")
	r.Operations = append(r.Operations, model.CleaningOperation{
		Dataset:           "items",
		Sheet:             "Masterfile",
		FieldName:         "item_group",
		OriginalValue:     "",
		NewValue:          "Booth",
		RowIdentifier:     "BTH-1",
		CleaningOperation: "default_applied",
		CleaningReason:    "blank_cell",
		CleanedAt:         time.Now(),
	})
	r.Total = 4
	r.Complete()
	return r
}

func TestRows(t *testing.T) {
	r := sampleResult()

	run := newRunRow(r)
	assert.Equal(t, "run-1", run.RunID)
	assert.True(t, run.FinishedAt.Valid)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, pq.StringArray{"optional sheet missing"}, run.Warnings)

	outcomes := outcomeRows(r)
	require.Len(t, outcomes, 4)
	assert.Equal(t, "created", outcomes[0].Outcome)
	assert.Equal(t, pq.StringArray{"standard_rate"}, outcomes[1].ChangedFields)
	assert.Equal(t, "skipped", outcomes[2].Outcome)
	assert.False(t, outcomes[2].RemoteName.Valid)
	assert.Equal(t, "Row 11: missing item_name", outcomes[2].Message.String)
	assert.Equal(t, "failed", outcomes[3].Outcome)

	ops := cleaningRows(r)
	require.Len(t, ops, 1)
	assert.False(t, ops[0].OriginalValue.Valid, "blank originals are stored as NULL")
	assert.Equal(t, "Booth", ops[0].NewValue)
}

func TestRunRowUnfinished(t *testing.T) {
	r := model.NewSyncResult("run-2", "customers", true)
	assert.False(t, newRunRow(r).FinishedAt.Valid)
}

// TestRecordRun needs a scratch PostgreSQL database in LEDGER_TEST_DSN
func TestRecordRun(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DSN not set")
	}

	db, err := sqlx.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS ledger_test")
	require.NoError(t, err)
	defer db.ExecContext(ctx, "DROP SCHEMA ledger_test CASCADE")

	l := New(db, "ledger_test", zap.NewNop())
	require.NoError(t, l.EnsureTables(ctx))
	require.NoError(t, l.EnsureTables(ctx), "table creation is repeatable")

	r := sampleResult()
	r.RunID = "run-" + time.Now().Format("150405.000000")
	require.NoError(t, l.RecordRun(ctx, r))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT count(*) FROM ledger_test.sync_record_outcomes WHERE run_id = $1", r.RunID))
	assert.Equal(t, 4, count)

	var changed pq.StringArray
	require.NoError(t, db.GetContext(ctx, &changed,
		"SELECT changed_fields FROM ledger_test.sync_record_outcomes WHERE run_id = $1 AND record_key = 'PNL-1'", r.RunID))
	assert.Equal(t, pq.StringArray{"standard_rate"}, changed)

	require.NoError(t, db.GetContext(ctx, &count, "SELECT count(*) FROM ledger_test.cleaned_on_ingress WHERE run_id = $1", r.RunID))
	assert.Equal(t, 1, count)

	assert.Error(t, l.RecordRun(ctx, r), "a run is recorded once")
}
