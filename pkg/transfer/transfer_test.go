package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/erp/erptest"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/source"
)

// sheetReader serves fixed grids; the first row of each grid is sheet row 2
type sheetReader map[string][][]string

func (s sheetReader) ReadRange(_ context.Context, sheet, _ string) ([]model.SourceRow, error) {
	grid, ok := s[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	rows := make([]model.SourceRow, 0, len(grid))
	for i, cells := range grid {
		rows = append(rows, model.SourceRow{Sheet: sheet, Number: i + 2, Cells: cells})
	}
	return rows, nil
}

type recorderStub struct {
	results []*model.SyncResult
}

func (r *recorderStub) RecordRun(_ context.Context, result *model.SyncResult) error {
	r.results = append(r.results, result)
	return nil
}

func itemDataset() *Dataset {
	n := cleaner.NewNormalizer("items", "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: 0},
		{Name: "item_name", Column: 1},
		{Name: "standard_rate", Column: 2, Kind: cleaner.KindNumber},
		{Name: "description", Column: 3},
	}).WithConstants(map[string]any{"stock_uom": "Nos"})

	return &Dataset{
		Name:       "items",
		Doctype:    "Item",
		KeyField:   "item_code",
		DiffFields: []string{"item_name", "standard_rate", "description"},
		Sources:    []source.Spec{{Sheet: "Masterfile", Range: "A2:D"}},
		Normalizer: n,
	}
}

func newServer(t *testing.T) *erptest.Server {
	t.Helper()
	srv := erptest.NewServer()
	t.Cleanup(srv.Close)
	srv.NameBy("Item", "item_code")
	return srv
}

func newEngine(srv *erptest.Server, reader source.Reader, opts Options) *Engine {
	client := srv.Client(zap.NewNop())
	return NewEngine(reader, client, NewLiveEffects(client), opts, zap.NewNop())
}

func TestRunThreeRowScenario(t *testing.T) {
	srv := newServer(t)
	n := cleaner.NewNormalizer("stock", "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: 0},
		{Name: "qty", Column: 1, Kind: cleaner.KindInt},
	})
	ds := &Dataset{
		Name:       "stock",
		Doctype:    "Item",
		KeyField:   "item_code",
		DiffFields: []string{"qty"},
		Sources:    []source.Spec{{Sheet: "Stock", Range: "A2:B"}},
		Normalizer: n,
	}
	reader := sheetReader{"Stock": {
		{"A1", "10"},
		{"", "5"},
		{"A1", "10"},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, 3, result.Skips[0].Row)
	assert.Contains(t, result.Skips[0].Reason, "missing item_code")
	assert.Len(t, srv.Docs("Item"), 1)
}

func TestRunIsIdempotent(t *testing.T) {
	srv := newServer(t)
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "Booth One", "£1,486.00", "Quiet booth"},
		{"SKU-2", "Booth Two", "99.5"},
	}}

	first, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	writes := srv.Writes()

	second, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, writes, srv.Writes(), "second run must not write")

	doc, ok := srv.Doc("Item", "SKU-1")
	require.True(t, ok)
	assert.Equal(t, 1486.0, doc["standard_rate"])
	assert.Equal(t, "Nos", doc["stock_uom"])
}

func TestRunUpdatesOnlyChangedFields(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Item", erp.Doc{"name": "SKU-1", "item_code": "SKU-1", "item_name": "Old name", "standard_rate": 10.0, "description": "Same"})
	reader := sheetReader{"Masterfile": {{"SKU-1", "New name", "10", "Same"}}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, srv.Calls(erptest.OpUpdate, "Item"))
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, []string{"item_name"}, result.Outcomes[0].ChangedFields)
	assert.Equal(t, "SKU-1", result.Outcomes[0].RemoteName)

	doc, _ := srv.Doc("Item", "SKU-1")
	assert.Equal(t, "New name", doc["item_name"])
}

func TestRunTreatsFloatNoiseAndBlanksAsEqual(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Item", erp.Doc{"name": "SKU-1", "item_code": "SKU-1", "item_name": "Booth", "standard_rate": 10.0004, "description": nil})
	reader := sheetReader{"Masterfile": {{"SKU-1", "Booth", "10", ""}}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 0, srv.Writes())
}

func TestRunContinuesPastRejectedRecords(t *testing.T) {
	srv := newServer(t)
	srv.FailWhen(erptest.OpCreate, "Item", "item_code", "SKU-2", 417, "ValidationError: Item Group is mandatory")
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "One", "1"},
		{"SKU-2", "Two", "2"},
		{"SKU-3", "Three", "3"},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.HasFailures())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "SKU-2", result.Errors[0].Key)
	assert.Equal(t, "create", result.Errors[0].Operation)
	assert.Equal(t, 417, result.Errors[0].Status)
	assert.Contains(t, result.Errors[0].Message, "Item Group is mandatory")
}

func TestRunContinuesPastExhaustedRetries(t *testing.T) {
	srv := newServer(t)
	srv.FailWhen(erptest.OpCreate, "Item", "item_code", "SKU-2", 500, "InternalServerError")
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "One", "1"},
		{"SKU-2", "Two", "2"},
		{"SKU-3", "Three", "3"},
	}}

	engine := newEngine(srv, reader, Options{})
	result, err := engine.Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded())
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "SKU-2", result.Errors[0].Key)
	assert.Equal(t, "create", result.Errors[0].Operation)
	assert.Equal(t, 500, result.Errors[0].Status)

	assert.Equal(t, int64(2), engine.Metrics().APIRetries)
	assert.Equal(t, 5, srv.Calls(erptest.OpCreate, "Item"), "one attempt each plus two retries for SKU-2")
	assert.Len(t, srv.Docs("Item"), 2)
}

func TestRunSkipKeepsRecordKey(t *testing.T) {
	srv := newServer(t)
	ds := itemDataset()
	ds.Normalizer = cleaner.NewNormalizer("items", "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: 0},
		{Name: "item_name", Column: 1, Required: true},
	})
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "One"},
		{"SKU-2", ""},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, "SKU-2", result.Skips[0].Key)
	assert.Equal(t, 3, result.Skips[0].Row)
	assert.Contains(t, result.Skips[0].Reason, "missing item_name")
}

func TestRunTruncatesErrorMessages(t *testing.T) {
	srv := newServer(t)
	long := "ValidationError: "
	for len(long) < 400 {
		long += "x"
	}
	srv.FailWhen(erptest.OpCreate, "Item", "item_code", "SKU-1", 417, long)
	reader := sheetReader{"Masterfile": {{"SKU-1", "One", "1"}}}

	result, err := newEngine(srv, reader, Options{MessageLimit: 50}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.LessOrEqual(t, len([]rune(result.Errors[0].Message)), 50)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	srv := newServer(t)
	srv.FailNext(erptest.OpCreate, "Item", 1, 503, "busy")
	reader := sheetReader{"Masterfile": {{"SKU-1", "One", "1"}}}

	engine := newEngine(srv, reader, Options{})
	result, err := engine.Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(1), engine.Metrics().APIRetries)
	assert.Len(t, srv.Docs("Item"), 1)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Item", erp.Doc{"name": "SKU-1", "item_code": "SKU-1", "item_name": "Old", "standard_rate": 1.0})
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "New", "1"},
		{"SKU-2", "Two", "2"},
	}}

	client := srv.Client(zap.NewNop())
	effects := NewDryRunEffects(zap.NewNop())
	engine := NewEngine(reader, client, effects, Options{BatchSize: 1, BatchPause: 1 << 40}, zap.NewNop())

	result, err := engine.Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, srv.Writes())

	calls := effects.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "update", calls[0].Method)
	assert.Equal(t, erp.Doc{"item_name": "New"}, calls[0].Fields)
	assert.Equal(t, "create", calls[1].Method)
	assert.Contains(t, calls[1].Name, "dry-run-")
}

func TestRunSkipsSubmittedDocumentsThatDiffer(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Item",
		erp.Doc{"name": "SKU-1", "item_code": "SKU-1", "item_name": "Old", "standard_rate": 1.0, "docstatus": 1},
		erp.Doc{"name": "SKU-2", "item_code": "SKU-2", "item_name": "Two", "standard_rate": 2.0, "docstatus": 1},
	)
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "New", "1"},
		{"SKU-2", "Two", "2"},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Unchanged)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, "SKU-1", result.Skips[0].Key)
	assert.Contains(t, result.Skips[0].Reason, "submitted")
	assert.Contains(t, result.Skips[0].Reason, "item_name")
	assert.Equal(t, 0, srv.Writes())
}

func TestRunSubmitsCreatedAndDraftDocuments(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Item", erp.Doc{"name": "SKU-1", "item_code": "SKU-1", "item_name": "One", "standard_rate": 1.0})
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "One", "1"},
		{"SKU-2", "Two", "2"},
	}}
	ds := itemDataset()
	ds.Submit = true

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated, "an unchanged draft that gets submitted counts as updated")
	for _, name := range []string{"SKU-1", "SKU-2"} {
		doc, ok := srv.Doc("Item", name)
		require.True(t, ok)
		assert.Equal(t, 1, erp.DocStatus(doc), name)
	}

	again, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Unchanged)
}

func TestRunSubmitFailureAfterCreateIsAWarning(t *testing.T) {
	srv := newServer(t)
	srv.FailNext(erptest.OpSubmit, "Item", 1, 417, "Cannot submit")
	reader := sheetReader{"Masterfile": {{"SKU-1", "One", "1"}}}
	ds := itemDataset()
	ds.Submit = true

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "submit failed")
}

func TestRunDependentsAreBestEffort(t *testing.T) {
	srv := newServer(t)
	srv.FailNext(erptest.OpCreate, "Address", 1, 417, "Invalid pincode")
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "One", "1"},
		{"SKU-2", "Two", "2"},
	}}
	ds := itemDataset()
	ds.Dependents = func(rec model.Record, parent string) []model.Dependent {
		return []model.Dependent{{
			Doctype: "Address",
			Label:   "billing address",
			Fields: map[string]any{
				"address_title": rec.Key,
				"links":         []map[string]any{{"link_doctype": "Item", "link_name": parent}},
			},
		}}
	}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "SKU-1")
	assert.Contains(t, result.Warnings[0], "Invalid pincode")

	addresses := srv.Docs("Address")
	require.Len(t, addresses, 1)
	assert.Equal(t, "SKU-2", addresses[0]["address_title"])
}

func TestRunResolvesLinks(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Customer", erp.Doc{"name": "CUST-0001", "customer_name": "Acme Ltd"})
	srv.Seed("Warehouse", erp.Doc{"name": "London - SBS", "warehouse_name": "London"})

	n := cleaner.NewNormalizer("orders", "po_no", []cleaner.FieldSpec{
		{Name: "po_no", Column: 0},
		{Name: "customer", Column: 1},
		{Name: "set_warehouse", Column: 2, OmitZero: true},
	})
	ds := &Dataset{
		Name:       "orders",
		Doctype:    "Sales Order",
		KeyField:   "po_no",
		DiffFields: []string{"customer", "set_warehouse"},
		Sources:    []source.Spec{{Sheet: "Sales", Range: "A2:C"}},
		Normalizer: n,
		Links: []Link{
			{Field: "customer", Doctype: "Customer", KeyField: "customer_name", Required: true},
			{Field: "set_warehouse", Doctype: "Warehouse", KeyField: "warehouse_name"},
		},
	}
	reader := sheetReader{"Sales": {
		{"PO-1", "acme  ltd", "London"},
		{"PO-2", "Nobody", "London"},
		{"PO-3", "Acme Ltd", "Leeds"},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "PO-2", result.Errors[0].Key)
	assert.Equal(t, "link", result.Errors[0].Operation)
	assert.Contains(t, result.Errors[0].Message, `Customer "Nobody" not found`)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Leeds")

	orders := srv.Docs("Sales Order")
	require.Len(t, orders, 2)
	assert.Equal(t, "CUST-0001", orders[0]["customer"])
	assert.Equal(t, "London - SBS", orders[0]["set_warehouse"])
	assert.Equal(t, "CUST-0001", orders[1]["customer"])
	assert.NotContains(t, orders[1], "set_warehouse")
}

// allocationDataset keys allocations by sales order and item, with a second
// sheet laid out differently
func allocationDataset() *Dataset {
	return &Dataset{
		Name:       "allocations",
		Doctype:    "Container Pre-Allocation",
		KeyFields:  []string{"sales_order", "item_code"},
		DiffFields: []string{"qty"},
		Sources: []source.Spec{
			{Sheet: "Allocation", Range: "A2:C"},
			{Sheet: "Temp Allocation", Range: "A2:C", Optional: true},
		},
		Normalizer: cleaner.NewNormalizer("allocations", "sales_order", []cleaner.FieldSpec{
			{Name: "sales_order", Column: 0},
			{Name: "item_code", Column: 1},
			{Name: "qty", Column: 2, Kind: cleaner.KindFloat},
		}),
		SheetNormalizers: map[string]*cleaner.Normalizer{
			"Temp Allocation": cleaner.NewNormalizer("allocations", "sales_order", []cleaner.FieldSpec{
				{Name: "qty", Column: 0, Kind: cleaner.KindFloat},
				{Name: "sales_order", Column: 1},
				{Name: "item_code", Column: 2},
			}),
		},
		Links: []Link{
			{Field: "sales_order", Doctype: "Sales Order", KeyField: "po_no", Required: true},
		},
	}
}

func TestRunCompositeIdentity(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Sales Order",
		erp.Doc{"name": "SAL-ORD-0001", "po_no": "1001"},
		erp.Doc{"name": "SAL-ORD-0002", "po_no": "1002"},
	)
	srv.Seed("Container Pre-Allocation",
		erp.Doc{"name": "PA-1", "sales_order": "SAL-ORD-0001", "item_code": "BTH-1", "qty": 1.0},
	)
	reader := sheetReader{
		"Allocation": {
			{"1001", "BTH-1", "2"},
			{"1001", "BTH-2", "1"},
		},
		"Temp Allocation": {
			{"4", "1002", "BTH-1"},
		},
	}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), allocationDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Updated)
	keys := make([]string, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"SAL-ORD-0001 | BTH-1", "SAL-ORD-0001 | BTH-2", "SAL-ORD-0002 | BTH-1"}, keys)

	doc, _ := srv.Doc("Container Pre-Allocation", "PA-1")
	assert.Equal(t, 2.0, doc["qty"])

	docs := srv.Docs("Container Pre-Allocation")
	require.Len(t, docs, 3)
	assert.Equal(t, "SAL-ORD-0002", docs[2]["sales_order"])
	assert.Equal(t, 4.0, docs[2]["qty"])

	again, err := newEngine(srv, reader, Options{}).Run(context.Background(), allocationDataset(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Unchanged)
}

func TestRunCompositeIdentityRepeatedInRun(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Sales Order", erp.Doc{"name": "SAL-ORD-0001", "po_no": "1001"})
	reader := sheetReader{"Allocation": {
		{"1001", "BTH-1", "2"},
		{"1001", "BTH-1", "2"},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), allocationDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Unchanged)
	assert.Len(t, srv.Docs("Container Pre-Allocation"), 1)
}

func TestRunEnsuresMissingLinks(t *testing.T) {
	srv := newServer(t)
	srv.NameBy("Supplier", "supplier_name")
	srv.Seed("Supplier", erp.Doc{"name": "Acme Booths", "supplier_name": "Acme Booths"})

	n := cleaner.NewNormalizer("purchase-orders", "custom_container", []cleaner.FieldSpec{
		{Name: "custom_container", Column: 0},
		{Name: "supplier", Column: 1},
	})
	ds := &Dataset{
		Name:       "purchase-orders",
		Doctype:    "Purchase Order",
		KeyFields:  []string{"supplier", "custom_container"},
		Sources:    []source.Spec{{Sheet: "Inventory", Range: "A2:B"}},
		Normalizer: n,
		Links: []Link{{
			Field:    "supplier",
			Doctype:  "Supplier",
			KeyField: "supplier_name",
			Required: true,
			Ensure: func(ref string) map[string]any {
				return map[string]any{"supplier_name": ref, "supplier_group": "All Supplier Groups"}
			},
		}},
	}
	reader := sheetReader{"Inventory": {
		{"CONT 1", "Acme Booths"},
		{"CONT 1", "Nordic Panels"},
		{"CONT 2", "Nordic Panels"},
	}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 1, srv.Calls(erptest.OpCreate, "Supplier"), "the created supplier serves later records")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Supplier Nordic Panels")

	orders := srv.Docs("Purchase Order")
	require.Len(t, orders, 3)
	assert.Equal(t, "Nordic Panels", orders[1]["supplier"])
}

func TestRunEnsureFailureFailsRecord(t *testing.T) {
	srv := newServer(t)
	srv.FailNext(erptest.OpCreate, "Supplier", 1, 417, "ValidationError: Supplier Group is mandatory")

	n := cleaner.NewNormalizer("purchase-orders", "custom_container", []cleaner.FieldSpec{
		{Name: "custom_container", Column: 0},
		{Name: "supplier", Column: 1},
	})
	ds := &Dataset{
		Name:       "purchase-orders",
		Doctype:    "Purchase Order",
		KeyFields:  []string{"supplier", "custom_container"},
		Sources:    []source.Spec{{Sheet: "Inventory", Range: "A2:B"}},
		Normalizer: n,
		Links: []Link{{
			Field: "supplier", Doctype: "Supplier", KeyField: "supplier_name", Required: true,
			Ensure: func(ref string) map[string]any { return map[string]any{"supplier_name": ref} },
		}},
	}
	reader := sheetReader{"Inventory": {{"CONT 1", "Nordic Panels"}}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "create Supplier", result.Errors[0].Operation)
	assert.Empty(t, srv.Docs("Purchase Order"))
}

func TestRunFinalizeValidationSkips(t *testing.T) {
	srv := newServer(t)
	reader := sheetReader{"Masterfile": {
		{"SKU-1", "One", "1"},
		{"SKU-2", "Two", "0"},
	}}
	ds := itemDataset()
	ds.Finalize = func(rec *model.Record, _ Links) ([]string, error) {
		if rec.Fields["standard_rate"] == 0.0 {
			return nil, &cleaner.ValidationError{Field: "standard_rate", Reason: "no price"}
		}
		return []string{"checked price"}, nil
	}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "no price", result.Skips[0].Reason)
	assert.Equal(t, []string{"SKU-1: checked price"}, result.Warnings)
}

func TestRunAbortsWhenRequiredSheetFails(t *testing.T) {
	srv := newServer(t)

	result, err := newEngine(srv, sheetReader{}, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.Error(t, err)

	var readErr *source.ReadError
	assert.True(t, errors.As(err, &readErr))
	assert.Equal(t, ErrorCategorySourceRead, Categorize(err))
	assert.Equal(t, ActionAbort, ActionFor(Categorize(err)))
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, srv.Calls(erptest.OpList, "Item"))
}

func TestRunOptionalSheetFailureWarns(t *testing.T) {
	srv := newServer(t)
	ds := itemDataset()
	ds.Sources = append(ds.Sources, source.Spec{Sheet: "Archive", Range: "A2:D", Optional: true})
	reader := sheetReader{"Masterfile": {{"SKU-1", "One", "1"}}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Archive")
}

func TestRunAbortsWhenIndexCannotLoad(t *testing.T) {
	srv := newServer(t)
	srv.FailNext(erptest.OpList, "Item", 5, 500, "database down")
	reader := sheetReader{"Masterfile": {{"SKU-1", "One", "1"}}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
	assert.Equal(t, ErrorCategoryTransient, Categorize(err))
	require.NotNil(t, result)
	assert.Equal(t, 0, srv.Writes())
}

func TestRunLimitAndSheets(t *testing.T) {
	srv := newServer(t)
	ds := itemDataset()
	ds.Sources = append(ds.Sources, source.Spec{Sheet: "Extra", Range: "A2:D"})
	reader := sheetReader{
		"Masterfile": {{"SKU-1", "One", "1"}, {"SKU-2", "Two", "2"}, {"SKU-3", "Three", "3"}},
		"Extra":      {{"SKU-9", "Nine", "9"}},
	}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{Limit: 2, Sheets: []string{"Masterfile"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Created)

	_, err = newEngine(srv, reader, Options{}).Run(context.Background(), ds, RunOptions{Sheets: []string{"Missing"}})
	require.Error(t, err)
	assert.Equal(t, ErrorCategoryConfiguration, Categorize(err))
}

func TestRunDuplicateRemoteKeysUseFirst(t *testing.T) {
	srv := newServer(t)
	srv.Seed("Item",
		erp.Doc{"name": "ITEM-A", "item_code": "SKU-1", "item_name": "Old", "standard_rate": 1.0},
		erp.Doc{"name": "ITEM-B", "item_code": "SKU-1", "item_name": "Old", "standard_rate": 1.0},
	)
	reader := sheetReader{"Masterfile": {{"SKU-1", "New", "1"}}}

	result, err := newEngine(srv, reader, Options{}).Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "ITEM-A")

	a, _ := srv.Doc("Item", "ITEM-A")
	b, _ := srv.Doc("Item", "ITEM-B")
	assert.Equal(t, "New", a["item_name"])
	assert.Equal(t, "Old", b["item_name"])
}

func TestRunVerifiesAndRecords(t *testing.T) {
	srv := newServer(t)
	reader := sheetReader{"Masterfile": {{"SKU-1", "One", "1"}, {"SKU-2", "Two", "2"}}}
	rec := &recorderStub{}

	engine := newEngine(srv, reader, Options{Verify: true}).WithRecorder(rec)
	result, err := engine.Run(context.Background(), itemDataset(), RunOptions{})
	require.NoError(t, err)

	require.NotNil(t, engine.Verification())
	assert.True(t, engine.Verification().OK())
	assert.Equal(t, 2, engine.Verification().Checked)
	require.Len(t, rec.results, 1)
	assert.Same(t, result, rec.results[0])
	assert.False(t, result.EndTime.IsZero())
}

func TestRunRejectsIncompleteDataset(t *testing.T) {
	srv := newServer(t)
	ds := itemDataset()
	ds.Normalizer = nil

	_, err := newEngine(srv, sheetReader{}, Options{}).Run(context.Background(), ds, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, ErrorCategoryConfiguration, Categorize(err))
}
