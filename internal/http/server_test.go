package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/services"
	"fintrack/internal/storage"
	"fintrack/internal/storage/memory"
)

type envelope struct {
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *errorBody `json:"error"`
}

func newTestServer(t *testing.T, repo storage.Repository, opts Options) *Server {
	t.Helper()
	if repo == nil {
		repo = memory.New()
	}
	s := NewServer(services.NewFinanceService(repo), opts)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func call(t *testing.T, s *Server, method, procedure, input string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if method == http.MethodGet {
		target := "/" + procedure
		if input != "" {
			target += "?input=" + url.QueryEscape(input)
		}
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, "/"+procedure, strings.NewReader(input))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "198.51.100.7:40000"

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode envelope: %v (%s)", method, procedure, err, rec.Body.String())
		}
	}
	return rec, env
}

func mustData(t *testing.T, rec *httptest.ResponseRecorder, env envelope, dst any) {
	t.Helper()
	if rec.Code != http.StatusOK || env.Result == nil {
		t.Fatalf("expected success, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(env.Result.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func mustError(t *testing.T, rec *httptest.ResponseRecorder, env envelope, status int, kind core.ErrorKind) *errorBody {
	t.Helper()
	if rec.Code != status || env.Error == nil || env.Error.Kind != kind {
		t.Fatalf("expected %d %s, got %d: %s", status, kind, rec.Code, rec.Body.String())
	}
	return env.Error
}

func TestHealthcheck(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	rec, env := call(t, s, http.MethodGet, "healthcheck", "")

	var got services.HealthStatus
	mustData(t, rec, env, &got)
	if got.Status != "ok" || time.Since(got.Timestamp) > time.Minute {
		t.Errorf("unexpected health %+v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestProcedures_EndToEnd(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	// users
	rec, env := call(t, s, http.MethodPost, "createUser", `{"email":"ana@example.com","name":"Ana"}`)
	var user core.User
	mustData(t, rec, env, &user)
	if user.ID == 0 || user.Email != "ana@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	rec, env = call(t, s, http.MethodPost, "createUser", `{"email":"ana@example.com","name":"Other"}`)
	mustError(t, rec, env, http.StatusConflict, core.KindConflict)

	rec, env = call(t, s, http.MethodGet, "getUsers", "")
	var users []core.User
	mustData(t, rec, env, &users)
	if len(users) != 1 {
		t.Fatalf("expected one user, got %d", len(users))
	}

	// expenses and earnings
	for _, body := range []string{
		`{"user_id":1,"amount":30,"category":"food","date":"2024-01-05"}`,
		`{"user_id":1,"amount":"20.5","category":"transport","description":"bus","date":"2024-02-10"}`,
		`{"user_id":1,"amount":15,"category":"food","date":"2024-02-11"}`,
	} {
		rec, env = call(t, s, http.MethodPost, "createExpense", body)
		var e core.Expense
		mustData(t, rec, env, &e)
	}
	rec, env = call(t, s, http.MethodPost, "createEarning", `{"user_id":1,"amount":1000,"category":"salary","date":"2024-01-31"}`)
	var earning core.Earning
	mustData(t, rec, env, &earning)
	if earning.Amount.String() != "1000.00" {
		t.Errorf("earning amount %s", earning.Amount)
	}

	rec, env = call(t, s, http.MethodGet, "getUserExpenses", `{"user_id":1,"category":"food","start_date":"2024-02-01","end_date":"2024-02-28"}`)
	var expenses []core.Expense
	mustData(t, rec, env, &expenses)
	if len(expenses) != 1 || expenses[0].Amount.String() != "15.00" {
		t.Fatalf("unexpected filtered expenses %+v", expenses)
	}

	rec, env = call(t, s, http.MethodGet, "getUserEarnings", `{"user_id":1}`)
	var earnings []core.Earning
	mustData(t, rec, env, &earnings)
	if len(earnings) != 1 {
		t.Fatalf("expected one earning, got %d", len(earnings))
	}

	// budgets
	rec, env = call(t, s, http.MethodPost, "createBudget", `{"user_id":1,"category":"food","amount":200,"period":"monthly"}`)
	var budget core.Budget
	mustData(t, rec, env, &budget)

	rec, env = call(t, s, http.MethodPost, "updateBudget", `{"id":`+jsonInt(budget.ID)+`,"amount":250}`)
	var updated core.Budget
	mustData(t, rec, env, &updated)
	if updated.Amount.String() != "250.00" || updated.Period != core.Monthly || !updated.UpdatedAt.After(budget.UpdatedAt) {
		t.Fatalf("unexpected update %+v (before %+v)", updated, budget)
	}

	rec, env = call(t, s, http.MethodGet, "getUserBudgets", `{"userId":1}`)
	var budgets []core.Budget
	mustData(t, rec, env, &budgets)
	if len(budgets) != 1 || budgets[0].Amount.String() != "250.00" {
		t.Fatalf("unexpected budgets %+v", budgets)
	}

	// dashboard
	rec, env = call(t, s, http.MethodGet, "getDashboardData", `{"user_id":1}`)
	var dash core.DashboardData
	mustData(t, rec, env, &dash)
	if len(dash.SpendingByCategory) != 2 || dash.SpendingByCategory[0].Category != core.ExpenseFood ||
		dash.SpendingByCategory[0].Amount.String() != "45.00" {
		t.Errorf("unexpected spending %+v", dash.SpendingByCategory)
	}
	if len(dash.MonthlyIncomeVsExpenses) != 2 {
		t.Fatalf("unexpected months %+v", dash.MonthlyIncomeVsExpenses)
	}
	jan, feb := dash.MonthlyIncomeVsExpenses[0], dash.MonthlyIncomeVsExpenses[1]
	if jan.Month != "2024-01" || jan.Income.String() != "1000.00" || jan.Expenses.String() != "30.00" {
		t.Errorf("unexpected january %+v", jan)
	}
	if feb.Month != "2024-02" || !feb.Income.IsZero() || feb.Expenses.String() != "35.50" {
		t.Errorf("unexpected february %+v", feb)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	for _, tc := range []struct{ procedure, input string }{
		{"getUsers", ""},
		{"getUserExpenses", `{"user_id":99}`},
		{"getUserEarnings", `{"user_id":99}`},
		{"getUserBudgets", `{"userId":99}`},
	} {
		rec, env := call(t, s, http.MethodGet, tc.procedure, tc.input)
		if rec.Code != http.StatusOK || string(env.Result.Data) != "[]" {
			t.Errorf("%s: got %d %s", tc.procedure, rec.Code, rec.Body.String())
		}
	}
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	tests := []struct {
		name      string
		method    string
		procedure string
		input     string
		fields    []string
	}{
		{name: "every violation listed", method: http.MethodPost, procedure: "createExpense",
			input: `{"amount":-5,"category":"yachts"}`, fields: []string{"user_id", "amount", "category", "date"}},
		{name: "bad email", method: http.MethodPost, procedure: "createUser",
			input: `{"email":"nope","name":"x"}`, fields: []string{"email"}},
		{name: "malformed json body", method: http.MethodPost, procedure: "createBudget",
			input: `{"user_id":`, fields: []string{"input"}},
		{name: "malformed query input", method: http.MethodGet, procedure: "getUserExpenses",
			input: `not json`, fields: []string{"input"}},
		{name: "wrong budgets key", method: http.MethodGet, procedure: "getUserBudgets",
			input: `{"user_id":1}`, fields: []string{"userId"}},
		{name: "bad period", method: http.MethodPost, procedure: "updateBudget",
			input: `{"id":1,"period":"daily"}`, fields: []string{"period"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := call(t, s, tt.method, tt.procedure, tt.input)
			body := mustError(t, rec, env, http.StatusBadRequest, core.KindValidation)
			got := map[string]bool{}
			for _, v := range body.Violations {
				got[v.Field] = true
			}
			for _, f := range tt.fields {
				if !got[f] {
					t.Errorf("missing violation for %q in %+v", f, body.Violations)
				}
			}
		})
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec, env := call(t, s, http.MethodPost, "createExpense", `{"user_id":42,"amount":1,"category":"food","date":"2024-01-01"}`)
	mustError(t, rec, env, http.StatusNotFound, core.KindNotFound)

	rec, env = call(t, s, http.MethodPost, "updateBudget", `{"id":42,"amount":1}`)
	mustError(t, rec, env, http.StatusNotFound, core.KindNotFound)

	rec, env = call(t, s, http.MethodGet, "deleteEverything", "")
	body := mustError(t, rec, env, http.StatusNotFound, core.KindNotFound)
	if !strings.Contains(body.Message, "deleteEverything") {
		t.Errorf("message should name the procedure: %q", body.Message)
	}

	rec, env = call(t, s, http.MethodGet, "a/b/c", "")
	mustError(t, rec, env, http.StatusNotFound, core.KindNotFound)
}

func TestWrongMethod(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec, env := call(t, s, http.MethodGet, "createUser", `{"email":"a@b.co","name":"A"}`)
	mustError(t, rec, env, http.StatusMethodNotAllowed, kindMethodNotAllowed)
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow = %q", rec.Header().Get("Allow"))
	}

	rec, env = call(t, s, http.MethodPost, "getUsers", ``)
	mustError(t, rec, env, http.StatusMethodNotAllowed, kindMethodNotAllowed)
	if rec.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Allow = %q", rec.Header().Get("Allow"))
	}

	rec, env = call(t, s, http.MethodDelete, "getUsers", ``)
	mustError(t, rec, env, http.StatusMethodNotAllowed, kindMethodNotAllowed)

	// A rejected GET must not have created anything.
	rec, env = call(t, s, http.MethodGet, "getUsers", "")
	if string(env.Result.Data) != "[]" {
		t.Errorf("query side effect: %s", rec.Body.String())
	}
}

// failingRepo breaks every read with a driver error that must not leak.
type failingRepo struct {
	storage.Repository
}

func (failingRepo) ListUsers(context.Context) ([]core.User, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: secret host unreachable")
}

func (failingRepo) Ping(context.Context) error { return errors.New("down") }
func (failingRepo) Close() error               { return nil }

func TestStorageErrorsAreOpaque(t *testing.T) {
	s := newTestServer(t, failingRepo{}, Options{})

	rec, env := call(t, s, http.MethodGet, "getUsers", "")
	body := mustError(t, rec, env, http.StatusInternalServerError, core.KindStorage)
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("driver error leaked: %s", rec.Body.String())
	}
	if body.Message == "" {
		t.Error("storage error needs a message")
	}
}

// slowRepo blocks ListUsers until the caller's context ends.
type slowRepo struct {
	failingRepo
}

func (slowRepo) ListUsers(ctx context.Context) ([]core.User, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, errors.New("request deadline was not applied")
	}
}

func TestRequestTimeoutSurfacesAsStorageError(t *testing.T) {
	s := newTestServer(t, slowRepo{}, Options{RequestTimeout: 50 * time.Millisecond})

	start := time.Now()
	rec, env := call(t, s, http.MethodGet, "getUsers", "")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("request took %s", elapsed)
	}

	body := mustError(t, rec, env, http.StatusInternalServerError, core.KindStorage)
	if strings.Contains(body.Message, "deadline") {
		t.Errorf("storage message leaks cause: %q", body.Message)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || len(payload) != 1 {
		t.Fatalf("expected a single error envelope, got %s", rec.Body.String())
	}
}

func TestErrorBodyFor_UnknownError(t *testing.T) {
	body := errorBodyFor(errors.New("boom"))
	if body.Kind != core.KindStorage || body.Message != genericStorageMessage {
		t.Errorf("unexpected body %+v", body)
	}
	if statusFor(core.KindConflict) != http.StatusConflict || statusFor("weird") != http.StatusInternalServerError {
		t.Error("unexpected status mapping")
	}
}

func TestRateLimitAppliesToMutationsOnly(t *testing.T) {
	s := newTestServer(t, nil, Options{RateLimitPerMinute: 2})

	for i, email := range []string{"a@example.com", "b@example.com"} {
		rec, _ := call(t, s, http.MethodPost, "createUser", `{"email":"`+email+`","name":"x"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("mutation %d: status %d", i, rec.Code)
		}
	}
	rec, env := call(t, s, http.MethodPost, "createUser", `{"email":"c@example.com","name":"x"}`)
	mustError(t, rec, env, http.StatusTooManyRequests, kindRateLimited)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	for i := 0; i < 5; i++ {
		if rec, _ := call(t, s, http.MethodGet, "getUsers", ""); rec.Code != http.StatusOK {
			t.Fatalf("query %d limited: %d", i, rec.Code)
		}
	}
}

func TestBodyTooLarge(t *testing.T) {
	s := newTestServer(t, nil, Options{MaxBodyBytes: 32})
	rec, env := call(t, s, http.MethodPost, "createUser", `{"email":"someone@example.com","name":"`+strings.Repeat("x", 64)+`"}`)
	mustError(t, rec, env, http.StatusBadRequest, core.KindValidation)
}

func TestHealthzAndReadyz(t *testing.T) {
	ok := newTestServer(t, nil, Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		ok.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, rec.Code)
		}
	}

	broken := newTestServer(t, failingRepo{}, Options{})
	rec := httptest.NewRecorder()
	broken.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing repo: status %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, Options{CORSAllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/createUser", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	s := NewServer(services.NewFinanceService(memory.New()), Options{})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
