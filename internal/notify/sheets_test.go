package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func newTestSheet(t *testing.T, body string) *SheetsAppender {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/spreadsheets/sheet-1/values/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	service, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return newSheetsAppender(service, "sheet-1", testLogger())
}

func TestSheetsFindOrder(t *testing.T) {
	s := newTestSheet(t, `{"range":"Sheet1!A1:AC3","majorDimension":"ROWS","values":[
		["Timestamp","Order ID","Payment ID","Customer Name"],
		["2025-03-01 10:00:00","order-1","pay_001","Ada Lovelace"],
		["2025-03-02 11:00:00","order-2"]
	]}`)

	row, err := s.FindOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "pay_001", row["Payment ID"])
	assert.Equal(t, "Ada Lovelace", row["Customer Name"])

	row, err = s.FindOrder(context.Background(), "order-2")
	require.NoError(t, err)
	assert.Equal(t, "", row["Payment ID"])

	_, err = s.FindOrder(context.Background(), "order-3")
	assert.True(t, errors.Is(err, ErrRowNotFound))
}

func TestFindRowIgnoresHeaderMatch(t *testing.T) {
	values := [][]interface{}{{"Timestamp", "Order ID"}}
	_, ok := findRow(values, "Order ID")
	assert.False(t, ok)
}
