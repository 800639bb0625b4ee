package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/metrics"
)

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [TICKER...]",
		Short: "Show what an update would fetch, without fetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, res, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			tickers := args
			if len(tickers) == 0 {
				u, err := p.Universe(ctx)
				if err != nil {
					return err
				}
				tickers = u.Tickers()
			}

			plan, err := p.Plan(ctx, tickers)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TICKER\tSTART\tWATERMARK")
			for _, e := range plan.Entries {
				w := "-"
				if e.HasWatermark {
					w = domain.FormatDate(e.Watermark)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Ticker, domain.FormatDate(e.Start), w)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\ntoday %s: %d planned, %d current, %d inactive, %d quarantined\n",
				domain.FormatDate(plan.Today), len(plan.Entries), len(plan.Current), len(plan.Inactive), len(plan.Quarantined))
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update [TICKER...]",
		Short: "Fetch missing daily bars and append them to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, res, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			tickers := args
			if len(tickers) == 0 {
				u, err := p.LoadUniverse(ctx)
				if err != nil {
					return err
				}
				tickers = u.Tickers()
			}

			summary, err := p.Update(ctx, tickers)
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}
}

func newAggregateCmd(a *app) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute group return series and trend slopes from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, res, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			date := p.Today()
			if asOf != "" {
				if date, err = domain.ParseDate(asOf); err != nil {
					return err
				}
			}

			u, err := p.LoadUniverse(ctx)
			if err != nil {
				return err
			}
			out, err := p.Aggregate(ctx, u.MetaMap(), date)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printSlopes(w, out.Result, a.cfg.Aggregate.ReportTop)
			for _, f := range out.Files {
				fmt.Fprintln(w, "wrote", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "aggregation date YYYY-MM-DD (default: today)")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Update the store, then aggregate and write the run report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a.serveMetrics(ctx)

			p, res, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			out, err := p.Run(ctx)
			if out != nil {
				w := cmd.OutOrStdout()
				if out.Summary != nil {
					printSummary(w, out.Summary)
				}
				if out.Aggregate != nil {
					printSlopes(w, out.Aggregate.Result, a.cfg.Aggregate.ReportTop)
				}
				if out.Report != "" {
					fmt.Fprintln(w, "report", out.Report)
				}
			}
			return err
		},
	}
}

func printSummary(w io.Writer, s *domain.RunSummary) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  planned %d, current %d, inactive %d, quarantined %d\n",
		s.TickersPlanned, s.TickersCurrent, s.TickersInactive, s.Quarantined)
	fmt.Fprintf(w, "  fetched %d, empty %d, failed %d, rows %d, checkpoints %d\n",
		s.Fetched, s.Empty, s.Failed, s.RowsCommitted, s.Checkpoints)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  failure %s: %s: %s\n", f.Ticker, f.Kind, f.Reason)
	}
	if s.Interrupted {
		fmt.Fprintln(w, "  interrupted")
	}
}

func printSlopes(w io.Writer, res *metrics.Result, top int) {
	for _, kind := range domain.GroupKinds {
		slopes, ok := res.Slopes[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s as of %s (window %d)\n", kind, domain.FormatDate(res.AsOf), res.Window)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for i, s := range slopes {
			if i == top || !s.HasSlope() {
				break
			}
			fmt.Fprintf(tw, "  %d\t%s\t%.6f\n", i+1, s.Label, *s.Slope)
		}
		tw.Flush()
	}
}
