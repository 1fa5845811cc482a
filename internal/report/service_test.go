package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/fetch"
	"github.com/JonMunkholm/qadash/internal/history"
	"github.com/JonMunkholm/qadash/internal/metrics"
)

// stubFetcher serves canned responses keyed by URL.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
	delay  time.Duration
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		bodies: make(map[string]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *stubFetcher) set(url, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
	if err != nil {
		f.errs[url] = err
	} else {
		delete(f.errs, url)
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls[url]++
	body, err := f.bodies[url], f.errs[url]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return body, err
}

var testSources = []Source{
	{Key: "runs", Label: "Test runs", Kind: KindRuns, URL: "https://sheets.test/runs"},
	{Key: "issues", Kind: KindIssues, URL: "https://sheets.test/issues"},
}

func newTestService(t *testing.T, f Fetcher) (*Service, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore(10)
	svc, err := NewService(Config{Sources: testSources, Concurrency: 2}, f, store, metrics.New())
	require.NoError(t, err)
	return svc, store
}

// ---- Service Tests ----

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Config{}, nil, nil, nil)
	assert.Error(t, err, "fetcher is required")

	_, err = NewService(Config{Sources: []Source{{Key: "a", URL: "x"}, {Key: "a", URL: "y"}}}, newStubFetcher(), nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidCatalog))
}

func TestService_UnknownAndNotLoaded(t *testing.T) {
	svc, _ := newTestService(t, newStubFetcher())

	_, err := svc.Snapshot("nope")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	_, err = svc.Refresh(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	_, err = svc.Rows("runs", Filter{})
	assert.True(t, errors.Is(err, ErrNotLoaded))

	_, err = svc.Summarize("runs", Filter{})
	assert.True(t, errors.Is(err, ErrNotLoaded))

	_, err = svc.Builds("issues")
	assert.True(t, errors.Is(err, ErrNotLoaded))

	_, err = svc.History(context.Background(), "nope", 5)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestService_Refresh(t *testing.T) {
	f := newStubFetcher()
	f.set("https://sheets.test/runs", runsCSV, nil)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	snap, err := svc.Refresh(ctx, "runs")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Table.Len())
	assert.True(t, snap.Columns.Column(columns.FieldBuild).Found)

	got, err := svc.Snapshot("runs")
	require.NoError(t, err)
	assert.Same(t, snap, got)

	rows, err := svc.Rows("runs", Filter{Build: "1.0.0"})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	sum, err := svc.Summarize("runs", Filter{})
	require.NoError(t, err)
	assert.Equal(t, "runs", sum.Source)
	assert.Equal(t, 90.0, sum.PassRate)

	groups, err := svc.Builds("runs")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	entries, err := svc.History(ctx, "runs", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.StatusOK, entries[0].Status)
	assert.Equal(t, 4, entries[0].Rows)
	assert.Equal(t, snap.RefreshID, entries[0].ID)
}

func TestService_FailedRefreshKeepsSnapshot(t *testing.T) {
	f := newStubFetcher()
	f.set("https://sheets.test/runs", runsCSV, nil)
	svc, _ := newTestService(t, f)
	ctx := context.Background()

	first, err := svc.Refresh(ctx, "runs")
	require.NoError(t, err)

	f.set("https://sheets.test/runs", "", fetch.ErrNotPublished)
	_, err = svc.Refresh(ctx, "runs")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetch.ErrNotPublished))

	current, err := svc.Snapshot("runs")
	require.NoError(t, err)
	assert.Same(t, first, current, "previous snapshot keeps serving")

	status := svc.Sources()[0]
	assert.True(t, status.Loaded)
	assert.Contains(t, status.LastError, "FETCH001")

	entries, err := svc.History(ctx, "runs", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, history.StatusFailed, entries[0].Status)

	f.set("https://sheets.test/runs", runsCSV, nil)
	_, err = svc.Refresh(ctx, "runs")
	require.NoError(t, err)
	assert.Empty(t, svc.Sources()[0].LastError, "success clears the error")
}

func TestService_RefreshAll(t *testing.T) {
	f := newStubFetcher()
	f.set("https://sheets.test/runs", runsCSV, nil)
	f.set("https://sheets.test/issues", "", &fetch.StatusError{URL: "https://sheets.test/issues", StatusCode: 404})
	svc, _ := newTestService(t, f)

	err := svc.RefreshAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh issues")

	statuses := svc.Sources()
	require.Len(t, statuses, 2)
	assert.Equal(t, "runs", statuses[0].Key)
	assert.True(t, statuses[0].Loaded)
	assert.Equal(t, 4, statuses[0].Rows)
	assert.False(t, statuses[1].Loaded)
	assert.Contains(t, statuses[1].LastError, "FETCH004")
}

func TestService_ConcurrentReadsDuringRefresh(t *testing.T) {
	f := newStubFetcher()
	f.set("https://sheets.test/runs", runsCSV, nil)
	svc, _ := newTestService(t, f)
	ctx := context.Background()
	_, err := svc.Refresh(ctx, "runs")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Refresh(ctx, "runs")
		}()
		go func() {
			defer wg.Done()
			sum, err := svc.Summarize("runs", Filter{})
			assert.NoError(t, err)
			assert.Equal(t, 4, sum.Rows, "readers always see a whole table")
		}()
	}
	wg.Wait()
}

func TestService_RequestRefreshLimited(t *testing.T) {
	f := newStubFetcher()
	f.set("https://sheets.test/runs", runsCSV, nil)
	f.delay = 100 * time.Millisecond

	svc, err := NewService(Config{
		Sources:    testSources,
		MaxManual:  1,
		ManualWait: 10 * time.Millisecond,
	}, f, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := svc.RequestRefresh(ctx, "runs")
		done <- err
	}()

	require.Eventually(t, func() bool { return svc.LimiterStatus().Active == 1 }, time.Second, 5*time.Millisecond)

	_, err = svc.RequestRefresh(ctx, "runs")
	assert.True(t, errors.Is(err, ErrTooManyRefreshes))

	require.NoError(t, <-done)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, svc.WaitForRefreshes(waitCtx))
}

func TestService_Scheduler(t *testing.T) {
	f := newStubFetcher()
	f.set("https://sheets.test/runs", runsCSV, nil)
	f.set("https://sheets.test/issues", issuesCSV, nil)
	svc, store := newTestService(t, f)

	old := history.Entry{SourceKey: "runs", StartedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, store.Record(context.Background(), old))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		svc.StartRefreshScheduler(ctx, SchedulerConfig{Interval: time.Hour, Retention: 24 * time.Hour})
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		st := svc.Sources()
		return st[0].Loaded && st[1].Loaded
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, _ := store.List(context.Background(), "runs", 0)
		return len(entries) == 1
	}, time.Second, 5*time.Millisecond, "old entry purged")

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// ---- Catalog Tests ----

func TestSource_CSVURL(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want string
	}{
		{
			name: "explicit url wins",
			src:  Source{URL: "https://example.test/a.csv", SpreadsheetID: "ignored"},
			want: "https://example.test/a.csv",
		},
		{
			name: "published id and gid",
			src:  Source{SpreadsheetID: "2PACX-abc", GID: "123"},
			want: "https://docs.google.com/spreadsheets/d/e/2PACX-abc/pub?gid=123&single=true&output=csv",
		},
		{
			name: "gid defaults to first tab",
			src:  Source{SpreadsheetID: "2PACX-abc"},
			want: "https://docs.google.com/spreadsheets/d/e/2PACX-abc/pub?gid=0&single=true&output=csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.src.CSVURL())
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	doc := `
sources:
  - key: runs
    label: Test runs
    spreadsheet_id: 2PACX-abc
    gid: "42"
  - key: issues
    kind: issues
    url: https://example.test/issues.csv
aliases:
  build: ["Release Build"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Sources, 2)
	assert.Equal(t, KindRuns, cat.Sources[0].Kind, "kind defaults to runs")
	assert.Equal(t, "Test runs", cat.Sources[0].DisplayName())
	assert.Equal(t, "issues", cat.Sources[1].DisplayName())

	aliases, err := cat.ResolveAliases(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Release Build"}, aliases[columns.FieldBuild])
	assert.NotEmpty(t, aliases[columns.FieldPlatform], "unlisted fields keep defaults")
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "bad yaml", doc: "sources: [", wantErr: "invalid catalog"},
		{name: "missing key", doc: "sources:\n  - url: x\n", wantErr: "key is required"},
		{name: "duplicate key", doc: "sources:\n  - {key: a, url: x}\n  - {key: a, url: y}\n", wantErr: "duplicate key"},
		{name: "no location", doc: "sources:\n  - key: a\n", wantErr: "url or spreadsheet_id"},
		{name: "bad kind", doc: "sources:\n  - {key: a, url: x, kind: bugs}\n", wantErr: "unknown kind"},
		{name: "unknown alias field", doc: "sources: []\naliases:\n  colour: [Color]\n", wantErr: "unknown alias fields: colour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCatalog))
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should contain %q", err, tt.wantErr)
		})
	}
}
