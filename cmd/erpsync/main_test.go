package main

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/erp/erptest"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"--dry-run", "--limit", "5", "--sheets", "Sales,For Despatch", "sales-orders"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "sales-orders", opts.command)
	assert.True(t, opts.dryRun)
	assert.Equal(t, 5, opts.limit)
	assert.Equal(t, []string{"Sales", "For Despatch"}, opts.sheets)

	opts, err = parseArgs([]string{"cancel", "--doctype", "Delivery Note", "--names", "DN-1,DN-2"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"DN-1", "DN-2"}, opts.names)

	for _, args := range [][]string{
		{},
		{"stock"},
		{"items", "customers"},
		{"submit-drafts"},
		{"all", "--sheets", "Sales"},
		{"items", "--limit", "-1"},
	} {
		_, err := parseArgs(args, io.Discard)
		assert.Error(t, err, "%v", args)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitConfig, exitCode(&transfer.ConfigError{Reason: "bad"}))
	assert.Equal(t, exitFailure, exitCode(&erp.ClientError{Status: http.StatusBadGateway}))
}

func writeDespatched(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	_, err := f.NewSheet("Despatched")
	require.NoError(t, err)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Despatched", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func setupEnv(t *testing.T, srv *erptest.Server, xlsx string) string {
	t.Helper()
	reports := t.TempDir()
	for k, v := range map[string]string{
		"ERPNEXT_URL":        srv.URL,
		"ERPNEXT_API_KEY":    srv.APIKey,
		"ERPNEXT_API_SECRET": srv.APISecret,
		"SOURCE_KIND":        "xlsx",
		"XLSX_PATH":          xlsx,
		"REPORT_DIR":         reports,
		"BATCH_PAUSE_MS":     "0",
		"RETRY_BASE_MS":      "1",
		"LOG_LEVEL":          "error",
		"LEDGER_ENABLED":     "false",
		"DATASETS_FILE":      "",
	} {
		t.Setenv(k, v)
	}
	return reports
}

func despatchedRows() [][]interface{} {
	return [][]interface{}{
		{"Order", "Date", "", "", "", "", "", "Customer", "Email", "Phone", "Address", "City"},
		{"1001", "25/12/2025", "", "", "", "", "", "Acme Ltd", "ops@acme.test", "0207 946 0000", "1 High St", "London"},
		{"1002", "26/12/2025", "", "", "", "", "", "Jane Doe", "jane@example.test"},
	}
}

func TestRunDatasetFromWorkbook(t *testing.T) {
	srv := erptest.NewServer()
	defer srv.Close()
	srv.NameBy("Customer", "customer_name")
	reports := setupEnv(t, srv, writeDespatched(t, despatchedRows()))

	var stdout, stderr bytes.Buffer
	code := run([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "customers"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	assert.Contains(t, stdout.String(), "customers sync summary (LIVE)")
	assert.Contains(t, stdout.String(), "Created:         2")
	assert.Len(t, srv.Docs("Customer"), 2)
	assert.Len(t, srv.Docs("Address"), 1)

	entries, err := os.ReadDir(reports)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "customers_live_")
}

func TestRunDryRunWritesNothing(t *testing.T) {
	srv := erptest.NewServer()
	defer srv.Close()
	setupEnv(t, srv, writeDespatched(t, despatchedRows()))

	var stdout bytes.Buffer
	code := run([]string{"--env-file", "", "--dry-run", "customers"}, &stdout, io.Discard)
	require.Equal(t, exitOK, code)

	assert.Contains(t, stdout.String(), "(DRY RUN)")
	assert.Zero(t, srv.Writes())
}

func TestRunFailuresExitOne(t *testing.T) {
	srv := erptest.NewServer()
	defer srv.Close()
	srv.FailWhen(erptest.OpCreate, "Customer", "customer_name", "Jane Doe", http.StatusExpectationFailed, "Customer Group missing")
	setupEnv(t, srv, writeDespatched(t, despatchedRows()))

	var stdout bytes.Buffer
	code := run([]string{"--env-file", "", "customers"}, &stdout, io.Discard)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout.String(), "! Jane Doe [create]")
}

func TestRunSubmitDrafts(t *testing.T) {
	srv := erptest.NewServer()
	defer srv.Close()
	srv.Seed("Sales Order", erp.Doc{"name": "SO-1"}, erp.Doc{"name": "SO-2"})
	setupEnv(t, srv, writeDespatched(t, despatchedRows()))

	var stdout bytes.Buffer
	code := run([]string{"--env-file", "", "submit-drafts", "--doctype", "Sales Order"}, &stdout, io.Discard)
	require.Equal(t, exitOK, code)

	for _, d := range srv.Docs("Sales Order") {
		assert.Equal(t, 1, erp.DocStatus(d))
	}
	assert.Contains(t, stdout.String(), "Updated:         2")
}

func TestRunMissingConfigExitsTwo(t *testing.T) {
	t.Setenv("ERPNEXT_URL", "")
	t.Setenv("ERPNEXT_API_KEY", "")
	t.Setenv("ERPNEXT_API_SECRET", "")

	var stderr bytes.Buffer
	code := run([]string{"--env-file", "", "items"}, io.Discard, &stderr)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr.String(), "ERPNEXT_URL")
}
