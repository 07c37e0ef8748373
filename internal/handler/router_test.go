package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/handler"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockReports struct {
	credits     []domain.CreditHistoryRecord
	performance []domain.PlanPerformance
	months      []domain.MonthPerformance
	err         error

	gotUserID int64
	gotCutoff domain.Date
	gotYear   int
}

func (m *mockReports) UserCredits(_ context.Context, userID int64) ([]domain.CreditHistoryRecord, error) {
	m.gotUserID = userID
	return m.credits, m.err
}

func (m *mockReports) PlansPerformance(_ context.Context, cutoff domain.Date) ([]domain.PlanPerformance, error) {
	m.gotCutoff = cutoff
	return m.performance, m.err
}

func (m *mockReports) YearPerformance(_ context.Context, year int) ([]domain.MonthPerformance, error) {
	m.gotYear = year
	return m.months, m.err
}

type mockIngester struct {
	result *domain.IngestionResult
	err    error

	gotFilename string
	gotBody     string
}

func (m *mockIngester) IngestUpload(_ context.Context, filename string, file io.Reader) (*domain.IngestionResult, error) {
	m.gotFilename = filename
	b, _ := io.ReadAll(file)
	m.gotBody = string(b)
	return m.result, m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

// --- Helpers ---

func newRouter(reports handler.ReportProvider, plans handler.PlanIngester, opts handler.Options) http.Handler {
	return handler.NewRouter(reports, plans, nil, observability.NewMetrics(), zap.NewNop(), opts)
}

func do(t *testing.T, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body domain.DetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a detail body: %s", rec.Body.String())
	}
	return body.Detail
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/plans_insert", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealthz(t *testing.T) {
	router := newRouter(nil, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthz_DatabaseDown(t *testing.T) {
	router := handler.NewRouter(nil, nil, &mockPinger{err: errors.New("refused")}, observability.NewMetrics(), zap.NewNop(), handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newRouter(nil, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.AddPlansIngested(2)
	router := handler.NewRouter(nil, nil, nil, metrics, zap.NewNop(), handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "credits_plans_ingested_total 2") {
		t.Errorf("expected application metrics in output")
	}
}

// ============================================================
// GET /user_credits/{user_id}
// ============================================================

func TestUserCredits(t *testing.T) {
	overdue := 92
	body := decimal.NewFromInt(400)
	interest := decimal.NewFromInt(100)
	reports := &mockReports{credits: []domain.CreditHistoryRecord{{
		IssuanceDate:    domain.NewDate(2024, time.March, 15),
		ReturnDate:      domain.NewDate(2024, time.June, 15),
		OverdueDays:     &overdue,
		Body:            decimal.NewFromInt(1000),
		Percent:         decimal.RequireFromString("12.5"),
		BodyPayments:    &body,
		PercentPayments: &interest,
	}}}
	router := newRouter(reports, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/user_credits/5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reports.gotUserID != 5 {
		t.Errorf("expected user 5, got %d", reports.gotUserID)
	}

	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	r := got[0]
	if r["issuance_date"] != "2024-03-15" || r["return_date"] != "2024-06-15" {
		t.Errorf("unexpected dates: %v", r)
	}
	if r["is_closed"] != false || r["overdue_days"] != float64(92) {
		t.Errorf("unexpected open credit fields: %v", r)
	}
	if r["body_payments"] != float64(400) || r["percent_payments"] != float64(100) || r["percent"] != 12.5 {
		t.Errorf("expected numeric sums, got %v", r)
	}
	if _, ok := r["total_payments"]; ok {
		t.Error("expected total_payments to be omitted for an open credit")
	}
}

func TestUserCredits_Empty(t *testing.T) {
	router := newRouter(&mockReports{credits: []domain.CreditHistoryRecord{}}, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/user_credits/5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected [], got %s", rec.Body.String())
	}
}

func TestUserCredits_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"non numeric id", "/user_credits/abc", nil, http.StatusBadRequest},
		{"unknown user", "/user_credits/9", &domain.ErrNotFound{Resource: "user", ID: "9"}, http.StatusNotFound},
		{"store failure", "/user_credits/9", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&mockReports{err: tt.err}, nil, handler.Options{})

			rec := do(t, router, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if detail(t, rec) == "" {
				t.Error("expected a detail message")
			}
		})
	}
}

func TestUserCredits_InternalErrorIsNotLeaked(t *testing.T) {
	router := newRouter(&mockReports{err: errors.New("pq: password authentication failed")}, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/user_credits/1", nil))
	if got := detail(t, rec); got != "internal server error" {
		t.Errorf("expected generic message, got %q", got)
	}
}

// ============================================================
// GET /plans_performance
// ============================================================

func TestPlansPerformance(t *testing.T) {
	reports := &mockReports{performance: []domain.PlanPerformance{{
		PlanMonth:          domain.NewDate(2024, time.January, 1),
		Category:           "issuance",
		PlanSum:            decimal.NewFromInt(1000),
		AchievedSum:        decimal.NewFromInt(600),
		PerformancePercent: decimal.NewFromInt(60),
	}}}
	router := newRouter(reports, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/plans_performance?date=2024-02-29", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if reports.gotCutoff.String() != "2024-02-29" {
		t.Errorf("expected cutoff 2024-02-29, got %s", reports.gotCutoff)
	}

	var got []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got[0]["plan_month"] != "2024-01-01" || got[0]["performance_percent"] != float64(60) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestPlansPerformance_BadDate(t *testing.T) {
	for _, path := range []string{"/plans_performance", "/plans_performance?date=29-02-2024", "/plans_performance?date=2024-02-30"} {
		router := newRouter(&mockReports{}, nil, handler.Options{})

		rec := do(t, router, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

// ============================================================
// GET /year_performance/{year}
// ============================================================

func TestYearPerformance(t *testing.T) {
	months := make([]domain.MonthPerformance, 12)
	for i := range months {
		months[i].Month = domain.NewDate(2024, time.Month(i+1), 1).Format("2006-01")
	}
	reports := &mockReports{months: months}
	router := newRouter(reports, nil, handler.Options{})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/year_performance/2024", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if reports.gotYear != 2024 {
		t.Errorf("expected year 2024, got %d", reports.gotYear)
	}

	var got []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 12 || got[11]["month"] != "2024-12" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestYearPerformance_Errors(t *testing.T) {
	router := newRouter(&mockReports{}, nil, handler.Options{})
	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/year_performance/twenty", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non numeric year, got %d", rec.Code)
	}

	router = newRouter(&mockReports{err: &domain.ErrValidation{Field: "year", Message: "out of range"}}, nil, handler.Options{})
	rec = do(t, router, httptest.NewRequest(http.MethodGet, "/year_performance/0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an out of range year, got %d", rec.Code)
	}
}

// ============================================================
// POST /plans_insert
// ============================================================

func TestPlansInsert(t *testing.T) {
	plans := &mockIngester{result: &domain.IngestionResult{BatchID: "batch-1", Plans: []domain.Plan{{ID: 1}}}}
	router := newRouter(nil, plans, handler.Options{})

	rec := do(t, router, uploadRequest(t, "file", "plans.csv", "period,category,sum\n2024-01-01,issuance,1\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := detail(t, rec); got != "Plans successfully added" {
		t.Errorf("unexpected detail %q", got)
	}
	if rec.Header().Get("X-Batch-ID") != "batch-1" {
		t.Errorf("expected batch id header")
	}
	if plans.gotFilename != "plans.csv" || !strings.HasPrefix(plans.gotBody, "period,category,sum") {
		t.Errorf("upload not forwarded: %q %q", plans.gotFilename, plans.gotBody)
	}
}

func TestPlansInsert_RejectionsAre400(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"period", &domain.ErrValidation{Message: "Must be first number of month"}},
		{"unknown category", &domain.ErrNotFound{Resource: "Category", ID: "marketing"}},
		{"duplicate", &domain.ErrConflict{Message: "Plan for this period and category already exists"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(nil, &mockIngester{err: tt.err}, handler.Options{})

			rec := do(t, router, uploadRequest(t, "file", "plans.xlsx", "x"))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if got := detail(t, rec); got != tt.err.Error() {
				t.Errorf("expected detail %q, got %q", tt.err.Error(), got)
			}
		})
	}
}

func TestPlansInsert_StoreFailure(t *testing.T) {
	router := newRouter(nil, &mockIngester{err: errors.New("deadlock detected")}, handler.Options{})

	rec := do(t, router, uploadRequest(t, "file", "plans.xlsx", "x"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestPlansInsert_BadRequests(t *testing.T) {
	router := newRouter(nil, &mockIngester{}, handler.Options{})

	rec := do(t, router, uploadRequest(t, "upload", "plans.xlsx", "x"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing file field: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/plans_insert", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = do(t, router, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non multipart body: expected 400, got %d", rec.Code)
	}
}

func TestPlansInsert_TooLarge(t *testing.T) {
	router := newRouter(nil, &mockIngester{}, handler.Options{UploadMaxBytes: 64})

	rec := do(t, router, uploadRequest(t, "file", "plans.csv", strings.Repeat("a", 1024)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

// ============================================================
// JWT guard
// ============================================================

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "analyst-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestPlansInsert_JWT(t *testing.T) {
	const secret = "test-secret"
	ok := &domain.IngestionResult{BatchID: "b"}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, secret, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, secret, time.Now().Add(time.Hour)), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(nil, &mockIngester{result: ok}, handler.Options{PlansJWTSecret: secret})

			req := uploadRequest(t, "file", "plans.csv", "x")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := do(t, router, req)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestReportsAreNotGuardedByJWT(t *testing.T) {
	router := newRouter(&mockReports{credits: []domain.CreditHistoryRecord{}}, nil, handler.Options{PlansJWTSecret: "s"})

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/user_credits/1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
