package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/qadash/internal/config"
	"github.com/JonMunkholm/qadash/internal/fetch"
	"github.com/JonMunkholm/qadash/internal/metrics"
	"github.com/JonMunkholm/qadash/internal/report"
	"github.com/JonMunkholm/qadash/internal/sheet"
	mw "github.com/JonMunkholm/qadash/internal/web/middleware"
)

const runsCSV = `Build,Platform,Total,Executed,Passed,Failed,Not Considered
1.0,Android,100,100,90,10,0
1.0,iOS,50,50,25,25,0
1.1,<script>,10,10,10,0,0
`

// fakeFetcher returns one body per URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return "", err
	}
	return f.bodies[url], nil
}

type testEnv struct {
	srv     *Server
	svc     *report.Service
	fetcher *fakeFetcher
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	f := &fakeFetcher{
		bodies: map[string]string{"https://sheets.test/runs": runsCSV},
		errs:   map[string]error{},
	}
	sources := []report.Source{
		{Key: "runs", Label: "Runs", Kind: report.KindRuns, URL: "https://sheets.test/runs"},
		{Key: "later", Kind: report.KindIssues, URL: "https://sheets.test/later"},
	}
	m := metrics.New()
	svc, err := report.NewService(report.Config{Sources: sources, MaxManual: 1}, f, nil, m)
	require.NoError(t, err)
	return &testEnv{srv: NewServer(svc, m, opts), svc: svc, fetcher: f}
}

func (e *testEnv) do(t *testing.T, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ---- statusFor Tests ----

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown source", report.ErrUnknownSource, http.StatusNotFound},
		{"not loaded", report.ErrNotLoaded, http.StatusServiceUnavailable},
		{"busy", report.ErrTooManyRefreshes, http.StatusTooManyRequests},
		{"not published", fetch.ErrNotPublished, http.StatusBadGateway},
		{"too large", sheet.ErrTooLarge, http.StatusBadGateway},
		{"upstream status", &fetch.StatusError{URL: "u", StatusCode: 500}, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

// ---- API Tests ----

func TestAPI_BeforeLoad(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/sources/runs/summary", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "SRC002", body.Code)

	rec = env.do(t, http.MethodGet, "/api/sources/nope/rows", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SRC001", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_RefreshAndRead(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/sources/runs/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decode[refreshResponse](t, rec)
	assert.Equal(t, "runs", refreshed.Source)
	assert.Equal(t, 3, refreshed.Rows)
	assert.NotEmpty(t, refreshed.RefreshID)

	t.Run("sources", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[[]report.SourceStatus](t, rec)
		require.Len(t, list, 2)
		assert.True(t, list[0].Loaded)
		assert.False(t, list[1].Loaded)
	})

	t.Run("single source", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources/runs/", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3, decode[report.SourceStatus](t, rec).Rows)
	})

	t.Run("rows with filter", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources/runs/rows?"+url.Values{"platform": {"ios"}}.Encode(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rows := decode[rowsResponse](t, rec)
		assert.Equal(t, 1, rows.Count)
		assert.Equal(t, "ios", rows.Filter.Platform)
	})

	t.Run("summary", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources/runs/summary?build=1.0", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		sum := decode[report.Summary](t, rec)
		assert.Equal(t, 2, sum.Rows)
		assert.Equal(t, "runs", sum.Source)
	})

	t.Run("builds", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources/runs/builds", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]report.BuildGroup](t, rec), 2)
	})

	t.Run("history", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources/runs/history?limit=5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("history of unloaded source is empty", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/sources/later/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestAPI_RefreshFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.fetcher.errs["https://sheets.test/runs"] = fetch.ErrNotPublished

	rec := env.do(t, http.MethodPost, "/api/sources/runs/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "FETCH001", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_RefreshAll(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.fetcher.errs["https://sheets.test/later"] = &fetch.StatusError{URL: "https://sheets.test/later", StatusCode: 404}

	rec := env.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	body := decode[struct {
		Failed map[string]string `json:"failed"`
	}](t, rec)
	assert.Contains(t, body.Failed, "later")
	assert.NotContains(t, body.Failed, "runs")
}

func TestAPI_RefreshFormRedirects(t *testing.T) {
	env := newTestEnv(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/sources/runs/refresh", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestAPI_RefreshRequiresKey(t *testing.T) {
	env := newTestEnv(t, Options{Security: config.SecurityConfig{RefreshKeys: []string{"secret"}}})

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/refresh", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodPost, "/api/sources/runs/refresh", map[string]string{mw.APIKeyHeader: "wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		env.do(t, http.MethodPost, "/api/sources/runs/refresh", map[string]string{mw.APIKeyHeader: "secret"}).Code)

	// Reads stay open.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/sources", nil).Code)
}

func TestAPI_RefreshRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{Rate: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, RefreshLimit: 1}})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/sources/runs/refresh", nil).Code)
	rec := env.do(t, http.MethodPost, "/api/sources/runs/refresh", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "REQ003", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_RefreshRoutesShareRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{Rate: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, RefreshLimit: 1}})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/sources/runs/refresh", nil).Code)
	rec := env.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "refresh-all draws from the same bucket")
}

func TestAPI_RefreshFormWithKey(t *testing.T) {
	env := newTestEnv(t, Options{Security: config.SecurityConfig{RefreshKeys: []string{"secret"}}})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/sources/runs/refresh", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("").Code)
	assert.Equal(t, http.StatusForbidden, post(url.Values{"api_key": {"wrong"}}.Encode()).Code)

	rec := post(url.Values{"api_key": {"secret"}}.Encode())
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	page := env.do(t, http.MethodGet, "/", nil).Body.String()
	assert.Contains(t, page, `name="api_key"`)
}

// ---- Page Tests ----

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, Options{Security: config.SecurityConfig{EnableCSP: true}})
	_, err := env.svc.Refresh(context.Background(), "runs")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/", map[string]string{"Accept": "text/html"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, body, "Runs")
	assert.Contains(t, body, "Loading...", "unloaded source shows placeholder")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, `name="api_key"`, "no key field without configured keys")

	rec = env.do(t, http.MethodGet, "/?platform=android", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="android"`)
	assert.NotContains(t, rec.Body.String(), "&lt;script&gt;")
}

func TestErrorPage(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/sources/nope/summary", map[string]string{"Accept": "text/html"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SRC001")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["sources"])
	assert.EqualValues(t, 0, health["loaded"])

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=0", 20},
		{"limit=-3", 20},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		assert.Equal(t, tt.want, parseIntParam(req, "limit", 20), tt.query)
	}
}
