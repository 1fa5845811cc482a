package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/qadash/internal/history"
	"github.com/JonMunkholm/qadash/internal/logging"
	"github.com/JonMunkholm/qadash/internal/report"
	"github.com/JonMunkholm/qadash/internal/sheet"
	"github.com/JonMunkholm/qadash/internal/web/templates"
)

// defaultHistoryLimit is used when ?limit= is missing or invalid.
const defaultHistoryLimit = 20

// ---- Pages ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	f := report.FilterFromQuery(r.URL.Query())

	statuses := s.service.Sources()
	data := templates.DashboardData{
		Cards:       make([]templates.SourceCard, 0, len(statuses)),
		Filter:      f,
		GeneratedAt: time.Now(),
	}
	for _, st := range statuses {
		card := templates.SourceCard{Status: st, RequireKey: len(s.cfg.Security.RefreshKeys) > 0}
		if snap, err := s.service.Snapshot(st.Key); err == nil {
			sum := snap.Summarize(f)
			card.Summary = &sum
			card.Builds = snap.Builds()
		}
		data.Cards = append(data.Cards, card)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(r.Context(), w); err != nil {
		slog.Error("render dashboard", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := 0
	statuses := s.service.Sources()
	for _, st := range statuses {
		if st.Loaded {
			loaded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"sources": len(statuses),
		"loaded":  loaded,
		"refresh": s.service.LimiterStatus(),
	})
}

// ---- Sources API ----

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Sources())
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := s.service.Source(key); err != nil {
		s.respondError(w, r, err)
		return
	}
	for _, st := range s.service.Sources() {
		if st.Key == key {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
}

// rowsResponse is the body of GET /api/sources/{key}/rows.
type rowsResponse struct {
	Source    string         `json:"source"`
	Filter    report.Filter  `json:"filter"`
	Headers   []string       `json:"headers"`
	Rows      []sheet.Record `json:"rows"`
	Count     int            `json:"count"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	snap, err := s.service.Snapshot(key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	f := report.FilterFromQuery(r.URL.Query())
	rows := snap.Rows(f)
	writeJSON(w, http.StatusOK, rowsResponse{
		Source:    key,
		Filter:    f,
		Headers:   snap.Table.Headers,
		Rows:      rows,
		Count:     len(rows),
		FetchedAt: snap.FetchedAt,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Summarize(chi.URLParam(r, "key"), report.FilterFromQuery(r.URL.Query()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.Builds(chi.URLParam(r, "key"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultHistoryLimit)
	entries, err := s.service.History(r.Context(), chi.URLParam(r, "key"), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---- Refresh ----

// refreshResponse is the body of a successful refresh.
type refreshResponse struct {
	Source    string    `json:"source"`
	Rows      int       `json:"rows"`
	FetchedAt time.Time `json:"fetchedAt"`
	RefreshID string    `json:"refreshId"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	snap, err := s.service.RequestRefresh(r.Context(), key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("manual refresh", "source", key, "rows", snap.Table.Len())

	if isFormPost(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Source:    snap.Source.Key,
		Rows:      snap.Table.Len(),
		FetchedAt: snap.FetchedAt,
		RefreshID: snap.RefreshID.String(),
	})
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	err := s.service.RefreshAll(r.Context())
	if ctxErr := r.Context().Err(); ctxErr != nil {
		s.respondError(w, r, ctxErr)
		return
	}

	failed := map[string]string{}
	for _, st := range s.service.Sources() {
		if st.LastError != "" {
			failed[st.Key] = st.LastError
		}
	}

	status := http.StatusOK
	if err != nil {
		slog.Warn("refresh all finished with errors", "error", err, "failed", len(failed))
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"sources": s.service.Sources(),
		"failed":  failed,
	})
}

// ---- Helpers ----

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// isFormPost reports whether r came from the dashboard's HTML form.
func isFormPost(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}
