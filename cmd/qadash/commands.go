package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/qadash/internal/buildver"
	"github.com/JonMunkholm/qadash/internal/columns"
	"github.com/JonMunkholm/qadash/internal/fetch"
	"github.com/JonMunkholm/qadash/internal/report"
	"github.com/JonMunkholm/qadash/internal/sheet"
)

// maxFileBytes caps local files the same way the fetcher caps downloads.
const maxFileBytes = 20 << 20

var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func newParseCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse <file.csv>",
		Short: "Parse a CSV export and print its table",
		Long: `Parse a CSV export with the same rules the server uses and print the
headers, the resolved columns and every row. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			table := sheet.Parse(text)
			out := cmd.OutOrStdout()

			if asJSON {
				return writeJSON(out, table)
			}

			fmt.Fprintf(out, "%s %d columns, %d rows\n", cyan("Table:"), len(table.Headers), table.Len())
			res := columns.Resolve(table.Headers, columns.DefaultAliases())
			for _, f := range columns.AllFields {
				if col := res.Column(f); col.Found {
					fmt.Fprintf(out, "  %-15s %s\n", f, green(col.Name))
				}
			}
			for i, rec := range table.Rows {
				fields := make([]string, 0, len(table.Headers))
				for _, h := range table.Headers {
					fields = append(fields, fmt.Sprintf("%s=%s", h, rec[h].String()))
				}
				fmt.Fprintf(out, "%4d  %s\n", i+1, strings.Join(fields, " | "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the table as JSON")
	return cmd
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <build-a> <build-b>",
		Short: "Check whether two build labels name the same build",
		Example: `  qadash compare "RC 1.0" "v1.0.0"
  qadash compare 1.2 1.20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if strategy, ok := buildver.Match(args[0], args[1]); ok {
				fmt.Fprintf(out, "%s %q and %q (%s)\n", green("match:"), args[0], args[1], strategy)
				return nil
			}
			fmt.Fprintf(out, "%s %q and %q\n", red("no match:"), args[0], args[1])
			return nil
		},
	}
}

func newSummaryCmd() *cobra.Command {
	var (
		kind    string
		aliases string
		asJSON  bool
		filter  report.Filter
	)

	cmd := &cobra.Command{
		Use:   "summary <file.csv>",
		Short: "Summarize a test-run or issue sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := report.Kind(strings.ToLower(kind))
			if k != report.KindRuns && k != report.KindIssues {
				return fmt.Errorf("unknown kind %q (want runs or issues)", kind)
			}

			al := columns.DefaultAliases()
			if aliases != "" {
				var err error
				if al, err = columns.LoadAliases(aliases); err != nil {
					return err
				}
			}

			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			src := report.Source{Key: filepath.Base(args[0]), Kind: k}
			snap := report.NewSnapshot(src, text, al)
			sum := snap.Summarize(filter)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", string(report.KindRuns), "sheet kind: runs or issues")
	f.StringVar(&aliases, "aliases", "", "YAML file with header alias overrides")
	f.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	f.StringVar(&filter.Build, "build", "", "only rows for this build")
	f.StringVar(&filter.Platform, "platform", "", "only rows for this platform")
	f.StringVar(&filter.Status, "status", "", "only rows with this status")
	f.StringVar(&filter.Severity, "severity", "", "only rows with this severity")
	f.StringVar(&filter.Type, "type", "", "only rows with this type")
	f.BoolVar(&filter.ReleaseOnly, "release", false, "only rows marked as release")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <sources.yaml>",
		Short: "Validate a source catalog and print the export URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := report.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			if _, err := catalog.ResolveAliases(nil); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d sources\n", cyan("Catalog:"), len(catalog.Sources))
			for _, src := range catalog.Sources {
				fmt.Fprintf(out, "  %-12s %-7s %s\n", bold(src.Key), src.Kind, src.CSVURL())
			}
			return nil
		},
	}
}

func newFetchCmd() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <sources.yaml> <key>",
		Short: "Download one source and print its summary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := report.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			al, err := catalog.ResolveAliases(nil)
			if err != nil {
				return err
			}

			var src *report.Source
			for i := range catalog.Sources {
				if catalog.Sources[i].Key == args[1] {
					src = &catalog.Sources[i]
				}
			}
			if src == nil {
				return fmt.Errorf("%w: %s", report.ErrUnknownSource, args[1])
			}

			cfg := fetch.DefaultConfig()
			cfg.Timeout = timeout
			text, err := fetch.New(cfg).Fetch(cmd.Context(), src.CSVURL())
			if err != nil {
				return errors.New(report.FormatUserError(err))
			}

			sum := report.NewSnapshot(*src, text, al).Summarize(report.Filter{})
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "per-request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// readInput reads a local CSV file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		return sheet.ReadText(cmd.InOrStdin(), maxFileBytes)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return sheet.ReadText(f, maxFileBytes)
}

func printSummary(out io.Writer, sum report.Summary) {
	fmt.Fprintf(out, "%s %s (%s), %d rows\n", cyan("Summary:"), sum.Source, sum.Kind, sum.Rows)
	if len(sum.Missing) > 0 {
		missing := make([]string, len(sum.Missing))
		for i, f := range sum.Missing {
			missing[i] = string(f)
		}
		fmt.Fprintf(out, "%s %s\n", yellow("Columns not found:"), strings.Join(missing, ", "))
	}

	if sum.Kind == report.KindIssues {
		printCounts(out, "By severity", sum.BySeverity)
		printCounts(out, "By status", sum.ByStatus)
		return
	}

	t := sum.Totals
	fmt.Fprintf(out, "  total %g  executed %g  passed %g  failed %g  not considered %g\n",
		t.Total, t.Executed, t.Passed, t.Failed, t.NotConsidered)
	fmt.Fprintf(out, "  pass rate %s\n", rateColor(sum.PassRate))
	for _, p := range sum.Platforms {
		fmt.Fprintf(out, "  %-12s %4d rows  pass rate %s\n", p.Platform, p.Rows, rateColor(p.PassRate))
	}
	if st := sum.PassRateStats; st != nil {
		fmt.Fprintf(out, "  across platforms: mean %.2f%%  median %.2f%%  stddev %.2f\n", st.Mean, st.Median, st.StdDev)
	}
}

func printCounts(out io.Writer, title string, counts []report.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "  %s\n", bold(title))
	for _, c := range counts {
		fmt.Fprintf(out, "    %-14s %d\n", c.Label, c.Count)
	}
}

func rateColor(rate float64) string {
	s := fmt.Sprintf("%.2f%%", rate)
	switch {
	case rate >= 90:
		return green(s)
	case rate >= 70:
		return yellow(s)
	default:
		return red(s)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
