package issuance_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"

	"casevault/internal/issuance"
)

func exportFixture() ([]issuance.Entry, time.Time) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	issued := now.AddDate(0, -2, 0)
	past := now.AddDate(0, -1, 0)
	future := now.AddDate(1, 0, 0)

	a := sampleEntry("a1", "Studio Bianchi", issued, &future)
	a.Fingerprint = strings.Repeat("ab", 32)
	b := sampleEntry("b2", "Studio Verdi", issued, &past)
	c := sampleEntry("c3", "Studio Bianchi", issued, nil)
	c.Status = issuance.StatusActivated
	d := sampleEntry("d4", "Studio Rossi", issued, &past)
	d.Status = issuance.StatusRevoked
	return []issuance.Entry{a, b, c, d}, now
}

func TestWriteCSV(t *testing.T) {
	entries, now := exportFixture()
	var buf bytes.Buffer
	require.NoError(t, issuance.Export(&buf, issuance.FormatCSV, entries, now))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"ID", "Client", "Issued", "Expires", "Status", "Fingerprint"}, rows[0])
	assert.Equal(t, "abababababababab", rows[1][5])
	assert.Equal(t, "expired", rows[2][4])
	assert.Equal(t, "never", rows[3][3])
	assert.Equal(t, "revoked", rows[4][4])
}

func TestWriteXLSX(t *testing.T) {
	entries, now := exportFixture()
	var buf bytes.Buffer
	require.NoError(t, issuance.Export(&buf, issuance.FormatXLSX, entries, now))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Issued Keys")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Client", rows[0][1])
	assert.Equal(t, "Studio Verdi", rows[2][1])
	assert.Equal(t, "activated", rows[3][4])
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, issuance.Export(&buf, issuance.Format("pdf"), nil, time.Now()))
}

func TestSummarize(t *testing.T) {
	entries, now := exportFixture()
	s := issuance.Summarize(entries, now)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Valid)
	assert.Equal(t, 1, s.Activated)
	assert.Equal(t, 1, s.Revoked)
	assert.Equal(t, 1, s.Expired)
	assert.Equal(t, []issuance.ClientCount{
		{Client: "Studio Bianchi", Count: 2},
		{Client: "Studio Rossi", Count: 1},
		{Client: "Studio Verdi", Count: 1},
	}, s.PerClient)
}

func TestPublish(t *testing.T) {
	entries, now := exportFixture()

	var (
		mu      sync.Mutex
		calls   []string
		written [][]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			var body struct {
				Values [][]interface{} `json:"values"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				written = body.Values
			}
			assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	p, err := issuance.NewPublisher(ctx, "sheet-123", "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	n, err := p.Publish(ctx, entries, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, "POST /v4/spreadsheets/sheet-123/values/Issued Keys:clear", calls[0])
	assert.Equal(t, "PUT /v4/spreadsheets/sheet-123/values/Issued Keys!A1", calls[1])
	require.Len(t, written, 5)
	assert.Equal(t, "ID", written[0][0])
	assert.Equal(t, "b2", written[2][0])
}

func TestPublishSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	ctx := context.Background()
	p, err := issuance.NewPublisher(ctx, "sheet-123", "Keys",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = p.Publish(ctx, nil, time.Now())
	assert.Error(t, err)

	_, err = issuance.NewPublisher(ctx, "", "", option.WithHTTPClient(srv.Client()))
	assert.Error(t, err)
}
