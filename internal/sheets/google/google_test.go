package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"

	"kesefly/internal/sheets"
)

// fakeSheets serves the three Values calls the client makes.
type fakeSheets struct {
	mu       sync.Mutex
	header   bool
	appended [][]any
	gets     int
	status   int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, f.status, http.StatusText(f.status))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet:
		f.gets++
		if f.header {
			_, _ = w.Write([]byte(`{"values":[["Date"]]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		f.header = true
		_, _ = w.Write([]byte(`{}`))
	case strings.HasSuffix(path, ":append"):
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		sheet := strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], "!A:J:append")
		_, _ = w.Write([]byte(`{"updates":{"updatedRange":"` + sheet + `!A2:J2"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), Config{SpreadsheetID: "sheet-1"}, nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func testEntry() sheets.Entry {
	return sheets.Entry{
		EventID:     "ev-1",
		Type:        "created",
		Kind:        "INCOME",
		ID:          "inc-1",
		Scope:       "BUSINESS",
		Date:        time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		Description: "ייעוץ",
		Amount:      decimal.RequireFromString("1500"),
		Currency:    "ILS",
	}
}

func TestClient_AppendEntry(t *testing.T) {
	f := &fakeSheets{}
	c := newTestClient(t, f)

	ref, err := c.AppendEntry(context.Background(), testEntry())
	if err != nil {
		t.Fatalf("AppendEntry() error = %v", err)
	}
	if ref != "2025 Ledger!A2:J2" {
		t.Errorf("ref = %q", ref)
	}
	if !f.header || len(f.appended) != 1 {
		t.Fatalf("header = %v, appended = %v", f.header, f.appended)
	}
	row := f.appended[0]
	if row[0] != "2025-03-04" || row[6] != "1500.00" || row[9] != "ev-1" {
		t.Errorf("row = %v", row)
	}

	if _, err := c.AppendEntry(context.Background(), testEntry()); err != nil {
		t.Fatal(err)
	}
	if f.gets != 1 {
		t.Errorf("header checked %d times, want once per sheet", f.gets)
	}
}

func TestClient_AppendEntryErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "forbidden", status: http.StatusForbidden, permanent: true},
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "throttled", status: http.StatusTooManyRequests},
		{name: "unavailable", status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeSheets{status: tt.status})
			_, err := c.AppendEntry(context.Background(), testEntry())
			if err == nil {
				t.Fatal("AppendEntry() succeeded")
			}
			if got := errors.Is(err, sheets.ErrPermanent); got != tt.permanent {
				t.Errorf("AppendEntry() error = %v, permanent = %v, want %v", err, got, tt.permanent)
			}
			var gerr *googleapi.Error
			if !errors.As(err, &gerr) && !tt.permanent {
				t.Errorf("transient error %v does not wrap the API error", err)
			}
		})
	}

	c := newTestClient(t, &fakeSheets{})
	bad := testEntry()
	bad.EventID = ""
	if _, err := c.AppendEntry(context.Background(), bad); !errors.Is(err, sheets.ErrPermanent) {
		t.Errorf("invalid entry error = %v, want ErrPermanent", err)
	}
}

func TestNew_MissingConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil || !strings.Contains(err.Error(), "GOOGLE_SPREADSHEET_ID") {
		t.Errorf("New() error = %v", err)
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if _, err := New(context.Background(), Config{SpreadsheetID: "x"}, nil); err == nil {
		t.Error("New() without credentials succeeded")
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Ledger", "2025 Ledger"},
		{"2024 Ledger", "2024 Ledger"},
		{" Ledger ", "2025 Ledger"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, 2025); got != tt.want {
			t.Errorf("yearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
