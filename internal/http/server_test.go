package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailybudget/internal/core"
	"dailybudget/internal/ledger/memory"
	"dailybudget/internal/metrics"
	"dailybudget/internal/middleware/ratelimit"
	"dailybudget/internal/pointer"
	"dailybudget/internal/services"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	srv     *Server
	store   *memory.Store
	ptr     *pointer.Memory
	metrics *metrics.Registry
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	store := memory.New()
	ptr := pointer.NewMemory()
	reg := metrics.New()
	svc := services.NewBudgetService(store,
		services.WithClock(func() time.Time { return testNow }),
		services.WithObserver(reg))

	cfg := DefaultConfig()
	cfg.RateLimit = ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000}
	for _, m := range mutate {
		m(&cfg)
	}
	srv := NewServer(cfg, Deps{
		Budget:  svc,
		Pointer: ptr,
		Checks:  map[string]ReadyCheck{"store": store.Ping},
		Metrics: reg,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: store, ptr: ptr, metrics: reg}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createAccount(t *testing.T, body string) accountResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/accounts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[accountResponse](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.Equal(t, "ok", checks["active_account"])
}

func TestReady_FailingCheck(t *testing.T) {
	store := memory.New()
	srv := NewServer(DefaultConfig(), Deps{
		Budget:  services.NewBudgetService(store),
		Pointer: pointer.NewMemory(),
		Checks: map[string]ReadyCheck{
			"store": func(context.Context) error { return errors.New("disk gone") },
		},
	})
	defer srv.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk gone")
}

func TestCreateAccount_AndSummary(t *testing.T) {
	env := newTestEnv(t)

	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11T12:00:00Z"}`)
	assert.Equal(t, int64(300), acct.DailyAllowanceCents)

	active, _ := env.ptr.Read(context.Background())
	assert.Equal(t, core.NoAccount, active, "create without activate leaves the pointer alone")

	rec := env.do(t, http.MethodGet, "/api/accounts/"+strconv.FormatInt(acct.ID, 10)+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[summaryResponse](t, rec)
	assert.Equal(t, int64(300), sum.DailyAllowanceCents)
	assert.Empty(t, sum.Spends)
	assert.Contains(t, rec.Body.String(), `"spends":[]`)
}

func TestCreateAccount_Errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"negative balance", `{"balance_cents":-1,"payday":"2025-03-11"}`, 422, CodeInvalidBalance},
		{"bad decimal balance", `{"balance":"abc","payday":"2025-03-11"}`, 422, CodeInvalidBalance},
		{"payday in past", `{"balance_cents":100,"payday":"2025-02-01"}`, 422, CodeInvalidPayday},
		{"payday under a day", `{"balance_cents":100,"payday":"2025-03-01T18:00:00Z"}`, 422, CodeInvalidPayday},
		{"unparseable payday", `{"balance_cents":100,"payday":"soon"}`, 422, CodeInvalidPayday},
		{"missing balance", `{"payday":"2025-03-11"}`, 400, CodeBadRequest},
		{"unknown field", `{"balance_cents":1,"payday":"2025-03-11","x":1}`, 400, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/accounts", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, decode[errorBody](t, rec).Error)
		})
	}
}

func TestTypicalFlow(t *testing.T) {
	env := newTestEnv(t)

	acct := env.createAccount(t, `{"balance":"30.00","payday":"2025-03-11T12:00:00Z","activate":true}`)

	rec := env.do(t, http.MethodGet, "/api/active-account", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, acct.ID, decode[activeAccountResponse](t, rec).AccountID)

	id := strconv.FormatInt(acct.ID, 10)
	for _, body := range []string{`{"amount_cents":500,"label":"coffee"}`, `{"amount":"1.50","label":"bus"}`} {
		rec = env.do(t, http.MethodPost, "/api/accounts/"+id+"/spends", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/api/spends/"))
	}

	rec = env.do(t, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[summaryResponse](t, rec)
	assert.Equal(t, int64(300), sum.DailyAllowanceCents, "spends never change the allowance")
	require.Len(t, sum.Spends, 2)
	assert.Equal(t, "bus", sum.Spends[0].Label, "most recent first")
	assert.Equal(t, int64(150), sum.Spends[0].AmountCents)
}

func TestAddSpend_UnknownAccountAndDate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/accounts/99/spends", `{"amount_cents":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeAccountNotFound, decode[errorBody](t, rec).Error)

	acct := env.createAccount(t, `{"balance_cents":1000,"payday":"2025-03-11"}`)
	rec = env.do(t, http.MethodPost, "/api/accounts/"+strconv.FormatInt(acct.ID, 10)+"/spends",
		`{"amount_cents":1,"date":"2025-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/accounts/abc/spends", `{"amount_cents":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePaydayAndBalance(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11T12:00:00Z"}`)
	id := strconv.FormatInt(acct.ID, 10)

	// Warm the cache so the updates must invalidate it.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/accounts/"+id+"/summary", "").Code)

	rec := env.do(t, http.MethodPut, "/api/accounts/"+id+"/payday", `{"payday":"2025-03-21T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[accountResponse](t, rec)
	assert.Equal(t, int64(300), updated.DailyAllowanceCents, "payday change keeps the allowance")

	rec = env.do(t, http.MethodPut, "/api/accounts/"+id+"/balance", `{"balance_cents":2000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(100), decode[accountResponse](t, rec).DailyAllowanceCents)

	rec = env.do(t, http.MethodGet, "/api/accounts/"+id+"/summary", "")
	sum := decode[summaryResponse](t, rec)
	assert.Equal(t, int64(100), sum.DailyAllowanceCents)
	assert.True(t, sum.NextPayday.Equal(time.Date(2025, 3, 21, 12, 0, 0, 0, time.UTC)))

	rec = env.do(t, http.MethodPut, "/api/accounts/"+id+"/balance", `{"balance_cents":-5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/accounts/"+id+"/payday", `{"payday":"never"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/accounts/404/balance", `{"balance_cents":5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateBalance_PaydayInPast(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11T12:00:00Z"}`)
	id := strconv.FormatInt(acct.ID, 10)

	// The service accepts any payday on update; a past one blocks balance changes.
	rec := env.do(t, http.MethodPut, "/api/accounts/"+id+"/payday", `{"payday":"2025-02-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/accounts/"+id+"/balance", `{"balance_cents":100}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodePaydayInPast, decode[errorBody](t, rec).Error)
}

func TestSpendLifecycle(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11"}`)
	accountPath := "/api/accounts/" + strconv.FormatInt(acct.ID, 10)

	rec := env.do(t, http.MethodPost, accountPath+"/spends", `{"amount_cents":250,"label":"tea"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	sp := decode[spendResponse](t, rec)
	spendPath := "/api/spends/" + strconv.FormatInt(sp.ID, 10)

	rec = env.do(t, http.MethodGet, spendPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tea", decode[spendResponse](t, rec).Label)

	// Cache the summary, then update through the API.
	require.Len(t, decode[summaryResponse](t, env.do(t, http.MethodGet, accountPath+"/summary", "")).Spends, 1)

	rec = env.do(t, http.MethodPut, spendPath, `{"amount_cents":300,"label":"green tea"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[spendResponse](t, rec)
	assert.Equal(t, int64(300), updated.AmountCents)
	assert.True(t, updated.Date.Equal(sp.Date), "omitted date keeps the original")

	sum := decode[summaryResponse](t, env.do(t, http.MethodGet, accountPath+"/summary", ""))
	assert.Equal(t, "green tea", sum.Spends[0].Label)

	rec = env.do(t, http.MethodDelete, spendPath, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	sum = decode[summaryResponse](t, env.do(t, http.MethodGet, accountPath+"/summary", ""))
	assert.Empty(t, sum.Spends)

	rec = env.do(t, http.MethodGet, spendPath, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeSpendNotFound, decode[errorBody](t, rec).Error)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, spendPath, "").Code)
}

func TestDeleteAccount_ResetsPointer(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11","activate":true}`)
	other := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11"}`)
	id := strconv.FormatInt(acct.ID, 10)

	rec := env.do(t, http.MethodPost, "/api/accounts/"+id+"/spends", `{"amount_cents":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	spendID := decode[spendResponse](t, rec).ID

	// Deleting a different account leaves the pointer alone.
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/accounts/"+strconv.FormatInt(other.ID, 10), "").Code)
	active, _ := env.ptr.Read(context.Background())
	assert.Equal(t, acct.ID, active)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/accounts/"+id, "").Code)
	active, _ = env.ptr.Read(context.Background())
	assert.Equal(t, core.NoAccount, active)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/accounts/"+id+"/summary", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/spends/"+strconv.FormatInt(spendID, 10), "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/accounts/"+id, "").Code)

	rec = env.do(t, http.MethodGet, "/api/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNoActiveAccount, decode[errorBody](t, rec).Error)
}

func TestPutActiveAccount(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11"}`)

	rec := env.do(t, http.MethodPut, "/api/active-account", `{"account_id":`+strconv.FormatInt(acct.ID, 10)+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	active, _ := env.ptr.Read(context.Background())
	assert.Equal(t, acct.ID, active)

	rec = env.do(t, http.MethodPut, "/api/active-account", `{"account_id":12345}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	active, _ = env.ptr.Read(context.Background())
	assert.Equal(t, acct.ID, active, "a failed selection keeps the previous account")

	rec = env.do(t, http.MethodPut, "/api/active-account", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/active-account", `{"account_id":-1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	active, _ = env.ptr.Read(context.Background())
	assert.Equal(t, core.NoAccount, active)
}

type brokenPointer struct{ pointer.Memory }

func (*brokenPointer) Read(context.Context) (int64, error) { return 0, errors.New("redis down") }

func TestActiveAccount_PointerUnavailable(t *testing.T) {
	srv := NewServer(DefaultConfig(), Deps{
		Budget:  services.NewBudgetService(memory.New()),
		Pointer: &brokenPointer{},
	})
	defer srv.Shutdown(context.Background())

	for _, path := range []string{"/api/active-account", "/api/summary"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestSummaryCache_Metrics(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11"}`)
	path := "/api/accounts/" + strconv.FormatInt(acct.ID, 10) + "/summary"

	env.do(t, http.MethodGet, path, "")
	env.do(t, http.MethodGet, path, "")
	env.do(t, http.MethodGet, path, "")

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.CacheMisses))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Operations.WithLabelValues(services.OpGetSummary, metrics.ResultOK)))
	assert.Equal(t, float64(3), testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/accounts/{id}/summary", "200")))
}

func TestSummaryCache_Disabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.CacheSize = 0 })
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11"}`)
	path := "/api/accounts/" + strconv.FormatInt(acct.ID, 10) + "/summary"

	env.do(t, http.MethodGet, path, "")
	env.do(t, http.MethodGet, path, "")
	assert.Equal(t, float64(0), testutil.ToFloat64(env.metrics.CacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.Operations.WithLabelValues(services.OpGetSummary, metrics.ResultOK)))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dailybudget_http_requests_total")
}

func TestRouting_NotFoundAndMethod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPatch, "/api/accounts", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodGet, "/.env", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = ratelimit.Config{RequestsPerMinute: 1, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/active-account", "").Code)
	}
	rec := env.do(t, http.MethodGet, "/api/active-account", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decode[errorBody](t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Probes are not rate limited.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestWatchActiveAccount(t *testing.T) {
	env := newTestEnv(t)
	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11T12:00:00Z"}`)

	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/active-account/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	readFrame := func() watchFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f watchFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	first := readFrame()
	assert.Equal(t, core.NoAccount, first.AccountID)
	assert.Nil(t, first.Summary)

	require.NoError(t, env.ptr.Write(context.Background(), acct.ID))
	next := readFrame()
	assert.Equal(t, acct.ID, next.AccountID)
	require.NotNil(t, next.Summary)
	assert.Equal(t, int64(300), next.Summary.DailyAllowanceCents)

	require.NoError(t, env.ptr.Write(context.Background(), 999))
	missing := readFrame()
	assert.Equal(t, int64(999), missing.AccountID)
	assert.Nil(t, missing.Summary)
	assert.Equal(t, CodeAccountNotFound, missing.Error)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Watchers))
}

// gatedBudget pauses the first armed GetSummary after it has read the store.
type gatedBudget struct {
	*services.BudgetService
	armed   chan struct{}
	read    chan struct{}
	release chan struct{}
}

func (g *gatedBudget) GetSummary(ctx context.Context, accountID int64) (core.Summary, error) {
	sum, err := g.BudgetService.GetSummary(ctx, accountID)
	select {
	case <-g.armed:
		close(g.read)
		<-g.release
	default:
	}
	return sum, err
}

func TestSummaryCache_MutationDuringRead(t *testing.T) {
	store := memory.New()
	budget := &gatedBudget{
		BudgetService: services.NewBudgetService(store, services.WithClock(func() time.Time { return testNow })),
		armed:         make(chan struct{}, 1),
		read:          make(chan struct{}),
		release:       make(chan struct{}),
	}
	cfg := DefaultConfig()
	cfg.RateLimit = ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000}
	srv := NewServer(cfg, Deps{Budget: budget, Pointer: pointer.NewMemory()})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	env := &testEnv{srv: srv, store: store}

	acct := env.createAccount(t, `{"balance_cents":3000,"payday":"2025-03-11T12:00:00Z"}`)
	id := strconv.FormatInt(acct.ID, 10)

	budget.armed <- struct{}{}
	done := make(chan *httptest.ResponseRecorder)
	go func() {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/"+id+"/summary", nil))
		done <- rec
	}()

	<-budget.read
	rec := env.do(t, http.MethodPost, "/api/accounts/"+id+"/spends", `{"amount_cents":450,"label":"coffee"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	close(budget.release)

	stale := decode[summaryResponse](t, <-done)
	assert.Empty(t, stale.Spends, "the paused read started before the spend")

	rec = env.do(t, http.MethodGet, "/api/accounts/"+id+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[summaryResponse](t, rec)
	require.Len(t, sum.Spends, 1, "a write must be visible to the next summary read")
	assert.Equal(t, "coffee", sum.Spends[0].Label)
}
