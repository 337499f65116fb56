package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/core"
	"fintrack/internal/log"
	ports "fintrack/internal/sheets"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewWithOptions(context.Background(), "sheet-id", "Ledger", log.Discard(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	return c
}

const existingHeader = `{"range":"Ledger!A1:G1","values":[["Date","Kind","Category","Amount","Description","User","Entity"]]}`

func TestClient_AppendRow(t *testing.T) {
	var gotPath, gotInput string
	var got gsheet.ValueRange

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(existingHeader))
		case http.MethodPost:
			gotPath = r.URL.Path
			gotInput = r.URL.Query().Get("valueInputOption")
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode body: %v", err)
			}
			_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-id","updates":{"updatedRange":"Ledger!A5:G5","updatedRows":1}}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
			http.Error(w, "{}", http.StatusBadRequest)
		}
	})

	desc := "groceries"
	row := ports.ExpenseRow(core.Expense{
		ID:          42,
		UserID:      7,
		Amount:      core.MustMoney("30.5"),
		Category:    core.ExpenseFood,
		Description: &desc,
		Date:        core.NewDate(2024, 1, 5),
	})

	ref, err := c.AppendRow(context.Background(), row)
	if err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	if ref != "Ledger!A5:G5" {
		t.Errorf("unexpected ref %q", ref)
	}
	if !strings.Contains(gotPath, "/spreadsheets/sheet-id/values/") || !strings.HasSuffix(gotPath, ":append") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotInput != "RAW" {
		t.Errorf("unexpected valueInputOption %q", gotInput)
	}
	if len(got.Values) != 1 {
		t.Fatalf("expected one row, got %v", got.Values)
	}
	want := []string{"2024-01-05", "expense", "food", "30.50", "groceries", "7", "42"}
	for i, w := range want {
		if got.Values[0][i] != w {
			t.Errorf("column %d = %v, want %q", i, got.Values[0][i], w)
		}
	}
}

func TestClient_AppendRow_WritesHeaderOnEmptySheet(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	var header gsheet.ValueRange

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[r.Method]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"range":"Ledger!A1:G1"}`))
		case http.MethodPut:
			if !strings.HasSuffix(r.URL.Path, "/values/Ledger!A1:G1") {
				t.Errorf("header written to %q", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&header); err != nil {
				t.Errorf("decode header: %v", err)
			}
			_, _ = w.Write([]byte(`{"updatedRange":"Ledger!A1:G1"}`))
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"updates":{"updatedRange":"Ledger!A2:G2"}}`))
		}
	})

	for i := 0; i < 2; i++ {
		if _, err := c.AppendRow(context.Background(), ports.LedgerRow{Kind: ports.KindEarning}); err != nil {
			t.Fatalf("AppendRow %d: %v", i, err)
		}
	}

	if calls[http.MethodGet] != 1 || calls[http.MethodPut] != 1 || calls[http.MethodPost] != 2 {
		t.Errorf("unexpected calls %v", calls)
	}
	if len(header.Values) != 1 || len(header.Values[0]) != len(ports.Header) {
		t.Fatalf("unexpected header payload %v", header.Values)
	}
	for i, h := range ports.Header {
		if header.Values[0][i] != h {
			t.Errorf("header column %d = %v, want %q", i, header.Values[0][i], h)
		}
	}
}

func TestClient_AppendRow_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(existingHeader))
			return
		}
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})

	_, err := c.AppendRow(context.Background(), ports.LedgerRow{Kind: ports.KindEarning})
	if err == nil || !strings.Contains(err.Error(), "append to sheet Ledger") {
		t.Fatalf("expected wrapped append error, got %v", err)
	}
}

func TestClient_AppendRow_HeaderReadError(t *testing.T) {
	appended := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			appended = true
		}
		http.Error(w, `{"error":{"code":404,"message":"no such sheet"}}`, http.StatusNotFound)
	})

	_, err := c.AppendRow(context.Background(), ports.LedgerRow{Kind: ports.KindExpense})
	if err == nil || !strings.Contains(err.Error(), "read header of sheet Ledger") {
		t.Fatalf("expected header error, got %v", err)
	}
	if appended {
		t.Error("row must not be appended when the header check fails")
	}
}

func TestClient_AppendRow_Uninitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetName: "Ledger"}
	if _, err := c.AppendRow(context.Background(), ports.LedgerRow{}); err == nil {
		t.Fatal("expected error without a sheets service")
	}
}

func TestNewWithOptions_RequiresTarget(t *testing.T) {
	ctx := context.Background()
	if _, err := NewWithOptions(ctx, " ", "Ledger", nil, goption.WithoutAuthentication()); err == nil {
		t.Error("expected error for missing spreadsheet id")
	}
	if _, err := NewWithOptions(ctx, "id", "", nil, goption.WithoutAuthentication()); err == nil {
		t.Error("expected error for missing sheet name")
	}
}

func TestCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(file, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "inline json wins", cfg: Config{CredentialsJSON: ` {"inline":true} `, CredentialsFile: file}, want: `{"inline":true}`},
		{name: "file", cfg: Config{CredentialsFile: file}, want: `{"type":"service_account"}`},
		{name: "missing file", cfg: Config{CredentialsFile: filepath.Join(dir, "nope.json")}, wantErr: true},
		{name: "nothing configured", cfg: Config{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := credentials(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
