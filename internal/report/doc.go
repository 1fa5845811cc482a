// Package report turns published build/QA sheets into filterable reports.
//
// A [Catalog] lists the sources. The [Service] fetches each one, parses it
// with the sheet package and resolves its headers to semantic fields, keeping
// the result as an immutable [Snapshot]. Refreshes replace snapshots whole,
// so readers never see a half-parsed table, and a failed refresh leaves the
// previous snapshot serving.
//
// # Filtering
//
// A [Filter] selects rows by build, platform, status, severity, type and the
// release flag. Builds are compared with the buildver chain, so "RC 1.0"
// selects rows labelled "Build 1.0.0" or "v1". Text criteria are trimmed and
// case-insensitive. A criterion on a field the sheet has no column for
// matches nothing.
//
// # Aggregation
//
// [Summarize] totals the numeric fields, computes the pass rate
// (passed / executed), breaks results down per platform and, for issue
// sheets, counts rows by severity and status. Missing numeric columns count
// as zero.
//
// # Background refresh
//
// [Service.StartRefreshScheduler] refreshes everything on start and then on
// an interval. Manual refreshes go through a [RefreshLimiter] so a burst of
// clicks cannot fan out into unbounded fetches.
package report
