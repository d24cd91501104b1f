package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/agriagent/agriagent/internal/usage"
)

// usageReport is the JSON shape of the usage command.
type usageReport struct {
	Period  string                    `json:"period"`
	Summary *usage.Summary            `json:"summary"`
	GroupBy string                    `json:"group_by,omitempty"`
	Groups  map[string]*usage.Summary `json:"groups,omitempty"`
}

func newUsageCmd(opts *globalOpts) *cobra.Command {
	var period, groupBy string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize reasoning gateway token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Usage.DBPath == "" {
				return errors.New("usage ledger is disabled (set usage.db_path)")
			}
			if _, err := os.Stat(cfg.Usage.DBPath); err != nil {
				return fmt.Errorf("no usage ledger at %s: %w", cfg.Usage.DBPath, err)
			}

			start, end, err := usage.PeriodRange(period, time.Now())
			if err != nil {
				return err
			}

			store, err := usage.Open(cfg.Usage.DBPath)
			if err != nil {
				return fmt.Errorf("open usage database %s: %w", cfg.Usage.DBPath, err)
			}
			defer store.Close()

			report := usageReport{Period: period}
			if report.Summary, err = store.Summary(cmd.Context(), start, end); err != nil {
				return err
			}
			if groupBy != "" {
				report.GroupBy = groupBy
				if report.Groups, err = store.Grouped(cmd.Context(), groupBy, start, end); err != nil {
					return err
				}
			}
			return printUsage(cmd.OutOrStdout(), report, opts.output)
		},
	}
	cmd.Flags().StringVar(&period, "period", "today", "today, yesterday, week, month, or all")
	cmd.Flags().StringVar(&groupBy, "by", "", "break totals down by purpose or model")
	return cmd
}

func printUsage(w io.Writer, r usageReport, outputFmt string) error {
	if outputFmt == "json" {
		return writeIndented(w, r)
	}
	s := r.Summary
	fmt.Fprintf(w, "Gateway usage (%s):\n", r.Period)
	fmt.Fprintf(w, "  %-15s %d\n", "requests:", s.TotalRecords)
	fmt.Fprintf(w, "  %-15s %s\n", "input tokens:", formatTokenCount(s.TotalInputTokens))
	fmt.Fprintf(w, "  %-15s %s\n", "output tokens:", formatTokenCount(s.TotalOutputTokens))
	fmt.Fprintf(w, "  %-15s %d\n", "tool calls:", s.TotalToolCalls)
	fmt.Fprintf(w, "  %-15s %d\n", "failures:", s.Failures)

	if len(r.Groups) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\nBy %s:\n", r.GroupBy)
	keys := make([]string, 0, len(r.Groups))
	for k := range r.Groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		g := r.Groups[k]
		name := k
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "  %s: %d requests, %s in / %s out\n",
			name, g.TotalRecords, formatTokenCount(g.TotalInputTokens), formatTokenCount(g.TotalOutputTokens))
	}
	return nil
}

// formatTokenCount renders n compactly, e.g. "1.23M", "4.5K", "789".
func formatTokenCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
