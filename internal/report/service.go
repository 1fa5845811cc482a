package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/history"
	"github.com/JonMunkholm/qadash/internal/metrics"
	"github.com/JonMunkholm/qadash/internal/sheet"
)

// DefaultRefreshTimeout bounds one refresh including retries.
var DefaultRefreshTimeout = 2 * time.Minute

// Fetcher downloads the CSV text behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config configures a Service.
type Config struct {
	Sources        []Source
	Aliases        columns.Aliases // nil means columns.DefaultAliases()
	Concurrency    int             // parallel fetches in RefreshAll
	RefreshTimeout time.Duration
	MaxManual      int           // concurrent manual refreshes
	ManualWait     time.Duration // wait for a manual refresh slot
}

// SourceStatus is a source with the state of its current snapshot.
type SourceStatus struct {
	Source
	Loaded    bool      `json:"loaded"`
	Rows      int       `json:"rows"`
	Headers   []string  `json:"headers,omitempty"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Missing   []string  `json:"missingColumns,omitempty"`
}

// Service owns the snapshots of every configured source.
type Service struct {
	cfg     Config
	fetcher Fetcher
	store   history.Store
	metrics *metrics.Metrics
	limiter *RefreshLimiter

	sources []Source
	index   map[string]int

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	lastErr   map[string]error

	inflight atomic.Int64
}

// NewService validates cfg.Sources and creates a Service with no snapshots
// loaded. A nil store falls back to an in-memory store; nil metrics are allowed.
func NewService(cfg Config, fetcher Fetcher, store history.Store, m *metrics.Metrics) (*Service, error) {
	if fetcher == nil {
		return nil, errors.New("report: fetcher is required")
	}
	if err := (&Catalog{Sources: cfg.Sources}).Validate(); err != nil {
		return nil, err
	}
	if cfg.Aliases == nil {
		cfg.Aliases = columns.DefaultAliases()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if store == nil {
		store = history.NewMemoryStore(0)
	}

	index := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		index[src.Key] = i
	}

	return &Service{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		metrics:   m,
		limiter:   NewRefreshLimiter(cfg.MaxManual, cfg.ManualWait),
		sources:   cfg.Sources,
		index:     index,
		snapshots: make(map[string]*Snapshot),
		lastErr:   make(map[string]error),
	}, nil
}

// Source returns the configured source for key.
func (s *Service) Source(key string) (Source, error) {
	i, ok := s.index[key]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	return s.sources[i], nil
}

// Sources lists every source in catalog order with its load state.
func (s *Service) Sources() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SourceStatus, len(s.sources))
	for i, src := range s.sources {
		st := SourceStatus{Source: src}
		if snap, ok := s.snapshots[src.Key]; ok {
			st.Loaded = true
			st.Rows = snap.Table.Len()
			st.Headers = snap.Table.Headers
			st.FetchedAt = snap.FetchedAt
			for _, f := range snap.Columns.Missing() {
				st.Missing = append(st.Missing, string(f))
			}
		}
		if err, ok := s.lastErr[src.Key]; ok {
			st.LastError = FormatUserError(err)
		}
		out[i] = st
	}
	return out
}

// Snapshot returns the current snapshot for key.
func (s *Service) Snapshot(key string) (*Snapshot, error) {
	if _, err := s.Source(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snap, ok := s.snapshots[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, key)
	}
	return snap, nil
}

// Refresh fetches and parses one source, then swaps in the new snapshot.
// On failure the previous snapshot stays in place. Every attempt is recorded
// in history.
func (s *Service) Refresh(ctx context.Context, key string) (*Snapshot, error) {
	src, err := s.Source(key)
	if err != nil {
		return nil, err
	}

	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.fetcher.Fetch(ctx, src.CSVURL())
	elapsed := time.Since(start)
	s.metrics.ObserveFetch(key, elapsed, err)

	if err != nil {
		s.mu.Lock()
		s.lastErr[key] = err
		s.mu.Unlock()

		slog.Error("source refresh failed",
			"source", key,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		s.record(ctx, history.Entry{
			SourceKey: key,
			StartedAt: start,
			Duration:  elapsed,
			Error:     err.Error(),
		})
		return nil, fmt.Errorf("refresh %s: %w", key, err)
	}

	snap := NewSnapshot(src, text, s.cfg.Aliases)

	s.mu.Lock()
	s.snapshots[key] = snap
	delete(s.lastErr, key)
	s.mu.Unlock()

	s.metrics.SetRows(key, snap.Table.Len())

	if missing := snap.Columns.Missing(); len(missing) > 0 {
		slog.Debug("unresolved columns", "source", key, "fields", missing)
	}
	slog.Info("source refreshed",
		"source", key,
		"rows", snap.Table.Len(),
		"headers", len(snap.Table.Headers),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	s.record(ctx, history.Entry{
		ID:        snap.RefreshID,
		SourceKey: key,
		StartedAt: start,
		Duration:  time.Since(start),
		Rows:      snap.Table.Len(),
		Headers:   len(snap.Table.Headers),
	})
	return snap, nil
}

// RequestRefresh is Refresh behind the manual refresh limiter.
func (s *Service) RequestRefresh(ctx context.Context, key string) (*Snapshot, error) {
	if _, err := s.Source(key); err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ErrTooManyRefreshes) {
			s.metrics.RefreshRejected()
		}
		return nil, err
	}
	defer s.limiter.Release()

	return s.Refresh(ctx, key)
}

// RefreshAll refreshes every source with bounded concurrency. One failing
// source does not stop the others; the failures are joined.
func (s *Service) RefreshAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, src := range s.sources {
		key := src.Key
		g.Go(func() error {
			if _, err := s.Refresh(ctx, key); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Rows returns the filtered rows of the current snapshot.
func (s *Service) Rows(key string, f Filter) ([]sheet.Record, error) {
	snap, err := s.Snapshot(key)
	if err != nil {
		return nil, err
	}
	return snap.Rows(f), nil
}

// Summarize aggregates the filtered rows of the current snapshot.
func (s *Service) Summarize(key string, f Filter) (Summary, error) {
	snap, err := s.Snapshot(key)
	if err != nil {
		return Summary{}, err
	}
	return snap.Summarize(f), nil
}

// Builds groups the build labels of the current snapshot.
func (s *Service) Builds(key string) ([]BuildGroup, error) {
	snap, err := s.Snapshot(key)
	if err != nil {
		return nil, err
	}
	return snap.Builds(), nil
}

// History lists recent refreshes of key, newest first.
func (s *Service) History(ctx context.Context, key string, limit int) ([]history.Entry, error) {
	if _, err := s.Source(key); err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// PurgeHistory deletes history entries that started before cutoff.
func (s *Service) PurgeHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.Purge(ctx, cutoff)
}

// LimiterStatus reports manual refresh slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForRefreshes blocks until no refresh is running or ctx ends.
func (s *Service) WaitForRefreshes(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// record stores a history entry. Failures are logged, not returned.
func (s *Service) record(ctx context.Context, e history.Entry) {
	// The refresh context may already be done after a timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.Record(ctx, e); err != nil {
		slog.Error("failed to record refresh history", "source", e.SourceKey, "error", err)
	}
}
