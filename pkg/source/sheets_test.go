package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func TestSheetsReaderReadRange(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"range": "'Container Status'!A2:V500",
			"majorDimension": "ROWS",
			"values": [["C-001", "MSKU1234567", "40HC"], ["C-002"], [], ["C-003", 12.5]]
		}`))
	}))
	defer srv.Close()

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	reader := NewSheetsReaderWithService(svc, "sheet-id", zap.NewNop())
	rows, err := reader.ReadRange(context.Background(), "Container Status", "A2:V500")
	require.NoError(t, err)

	assert.True(t, strings.Contains(gotPath, "sheet-id"))
	require.Len(t, rows, 4)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, "40HC", rows[0].Col(2))
	assert.Equal(t, "", rows[1].Col(2))
	assert.True(t, rows[2].IsBlank())
	assert.Equal(t, 5, rows[3].Number)
	assert.Equal(t, "12.5", rows[3].Col(1))
}

func TestSheetsReaderPropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission"}}`))
	}))
	defer srv.Close()

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	reader := NewSheetsReaderWithService(svc, "sheet-id", nil)
	_, err = reader.ReadRange(context.Background(), "Masterfile", "A9:AU5000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission")
}

func TestLoadCredentials(t *testing.T) {
	inline := `{"type":"service_account","client_email":"x@y.iam.gserviceaccount.com"}`

	data, err := loadCredentials(inline)
	require.NoError(t, err)
	assert.Equal(t, inline, string(data))

	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(inline), 0o600))
	data, err = loadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, inline, string(data))

	_, err = loadCredentials("/definitely/not/a/file.json")
	assert.Error(t, err)

	_, err = loadCredentials("")
	assert.Error(t, err)
}
