// Package templates renders the dashboard HTML as templ components.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/qadash/internal/report"
)

// SourceCard is one source on the dashboard.
type SourceCard struct {
	Status  report.SourceStatus
	Summary *report.Summary // nil until the source loads
	Builds  []report.BuildGroup

	// RequireKey adds an API key field to the refresh form.
	RequireKey bool
}

// DashboardData is everything the dashboard page shows.
type DashboardData struct {
	Cards       []SourceCard
	Filter      report.Filter
	GeneratedAt time.Time
}

// Dashboard renders the full page.
func Dashboard(data DashboardData) templ.Component {
	return Layout("QA Dashboard", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.printf(`<header><h1>QA Dashboard</h1><p class="muted">Generated %s</p></header>`, esc(data.GeneratedAt.Format(time.RFC1123)))
		if err := FilterForm(data.Filter).Render(ctx, w); err != nil {
			return err
		}
		if len(data.Cards) == 0 {
			p.printf(`<p class="empty">No sources configured.</p>`)
		}
		for _, card := range data.Cards {
			if err := Card(card).Render(ctx, w); err != nil {
				return err
			}
		}
		return p.err
	}))
}

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.printf(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.printf(`<title>%s</title><style>%s</style></head><body><main>`, esc(title), stylesheet)
		if p.err != nil {
			return p.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		p.printf(`</main></body></html>`)
		return p.err
	})
}

// FilterForm renders the GET form that drives the query string filters.
func FilterForm(f report.Filter) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.printf(`<form class="filters" method="get" action="/">`)
		for _, in := range []struct{ name, label, value string }{
			{"build", "Build", f.Build},
			{"platform", "Platform", f.Platform},
			{"status", "Status", f.Status},
			{"severity", "Severity", f.Severity},
			{"type", "Type", f.Type},
		} {
			p.printf(`<label>%s <input name="%s" value="%s"></label>`, in.label, in.name, esc(in.value))
		}
		checked := ""
		if f.ReleaseOnly {
			checked = " checked"
		}
		p.printf(`<label><input type="checkbox" name="release" value="1"%s> Release only</label>`, checked)
		p.printf(`<button type="submit">Apply</button></form>`)
		return p.err
	})
}

// Card renders one source.
func Card(c SourceCard) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		st := c.Status
		p := &printer{w: w}
		p.printf(`<section class="card" id="source-%s"><h2>%s</h2>`, esc(st.Key), esc(st.DisplayName()))

		switch {
		case !st.Loaded && st.LastError != "":
			p.printf(`<p class="error">%s</p>`, esc(st.LastError))
		case !st.Loaded:
			p.printf(`<p class="muted">Loading...</p>`)
		default:
			p.printf(`<p class="muted">%d rows, fetched %s</p>`, st.Rows, esc(st.FetchedAt.Format(time.RFC1123)))
			if st.LastError != "" {
				p.printf(`<p class="warn">Last refresh failed: %s</p>`, esc(st.LastError))
			}
			if len(st.Missing) > 0 {
				p.printf(`<p class="muted">Columns not found: %s</p>`, esc(strings.Join(st.Missing, ", ")))
			}
		}

		if c.Summary != nil {
			writeSummary(p, c.Summary)
		}
		if len(c.Builds) > 0 {
			p.printf(`<details><summary>%d builds</summary><ul>`, len(c.Builds))
			for _, g := range c.Builds {
				p.printf(`<li>%s <span class="muted">(%d rows; %s)</span></li>`,
					esc(g.Build), g.Rows, esc(strings.Join(g.Variants, ", ")))
			}
			p.printf(`</ul></details>`)
		}

		p.printf(`<form method="post" action="/api/sources/%s/refresh">`, esc(st.Key))
		if c.RequireKey {
			p.printf(`<input type="password" name="api_key" placeholder="API key" autocomplete="off" required>`)
		}
		p.printf(`<button>Refresh</button></form></section>`)
		return p.err
	})
}

func writeSummary(p *printer, s *report.Summary) {
	if s.Kind == report.KindIssues {
		p.printf(`<p><strong>%d</strong> issues</p>`, s.Rows)
		writeCounts(p, "By severity", s.BySeverity)
		writeCounts(p, "By status", s.ByStatus)
		return
	}

	p.printf(`<table class="totals"><tr><th>Rows</th><th>Total</th><th>Executed</th><th>Passed</th><th>Failed</th><th>Not considered</th><th>Pass rate</th></tr>`)
	p.printf(`<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s%%</td></tr></table>`,
		s.Rows, num(s.Total), num(s.Executed), num(s.Passed), num(s.Failed), num(s.NotConsidered), num(s.PassRate))

	if len(s.Platforms) > 0 {
		p.printf(`<table class="platforms"><tr><th>Platform</th><th>Rows</th><th>Executed</th><th>Passed</th><th>Pass rate</th></tr>`)
		for _, pl := range s.Platforms {
			p.printf(`<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td><td>%s%%</td></tr>`,
				esc(pl.Platform), pl.Rows, num(pl.Executed), num(pl.Passed), num(pl.PassRate))
		}
		p.printf(`</table>`)
	}
	if st := s.PassRateStats; st != nil {
		p.printf(`<p class="muted">Pass rate across platforms: mean %s%%, median %s%%, range %s%% to %s%%</p>`,
			num(st.Mean), num(st.Median), num(st.Min), num(st.Max))
	}
}

func writeCounts(p *printer, title string, counts []report.Count) {
	if len(counts) == 0 {
		return
	}
	p.printf(`<h3>%s</h3><ul class="counts">`, esc(title))
	for _, c := range counts {
		p.printf(`<li>%s: <strong>%d</strong></li>`, esc(c.Label), c.Count)
	}
	p.printf(`</ul>`)
}

// ErrorAlert renders a user-facing error block.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.printf(`<div class="error" role="alert"><strong>%s</strong>`, esc(message))
		if action != "" {
			p.printf(` <span>%s</span>`, esc(action))
		}
		p.printf(` <code>%s</code></div>`, esc(code))
		return p.err
	})
}

// ErrorPage is ErrorAlert inside the page layout.
func ErrorPage(message, action, code string) templ.Component {
	return Layout("Error", ErrorAlert(message, action, code))
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func esc(s string) string {
	return templ.EscapeString(s)
}

func num(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

const stylesheet = `body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f9;color:#1d2330}
main{max-width:1100px;margin:0 auto;padding:1.5rem}
.card{background:#fff;border:1px solid #dde1e8;border-radius:8px;padding:1rem 1.25rem;margin:1rem 0}
.muted{color:#6b7383}.error{color:#b42318}.warn{color:#b54708}
table{border-collapse:collapse;margin:.5rem 0}td,th{border:1px solid #dde1e8;padding:.3rem .6rem;text-align:right}
th:first-child,td:first-child{text-align:left}
.filters label{margin-right:.75rem}`
