package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stock-trend-lab/internal/pipeline"
	"stock-trend-lab/internal/storage"
)

func newQuarantineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and release quarantined tickers",
	}

	withStore := func(fn func(context.Context, io.Writer, storage.QuarantineStore, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			qs, closeStore, err := pipeline.OpenQuarantineStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			return fn(ctx, cmd.OutOrStdout(), qs, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List quarantined tickers",
			Args:  cobra.NoArgs,
			RunE:  withStore(listQuarantine),
		},
		&cobra.Command{
			Use:   "status TICKER...",
			Short: "Report whether tickers are quarantined",
			Args:  cobra.MinimumNArgs(1),
			RunE:  withStore(quarantineStatus),
		},
		&cobra.Command{
			Use:   "release TICKER...",
			Short: "Release tickers so the next update plans them again",
			Args:  cobra.MinimumNArgs(1),
			RunE:  withStore(releaseQuarantine),
		},
	)
	return cmd
}

func listQuarantine(ctx context.Context, w io.Writer, qs storage.QuarantineStore, _ []string) error {
	entries, err := qs.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no quarantined tickers")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tFAILURES\tSINCE\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Ticker, e.Failures, e.Since.UTC().Format(time.RFC3339), e.Reason)
	}
	return tw.Flush()
}

func quarantineStatus(ctx context.Context, w io.Writer, qs storage.QuarantineStore, tickers []string) error {
	for _, t := range tickers {
		ok, err := qs.IsQuarantined(ctx, t)
		if err != nil {
			return err
		}
		state := "active"
		if ok {
			state = "quarantined"
		}
		fmt.Fprintf(w, "%s %s\n", t, state)
	}
	return nil
}

func releaseQuarantine(ctx context.Context, w io.Writer, qs storage.QuarantineStore, tickers []string) error {
	var errs []error
	for _, t := range tickers {
		err := qs.Release(ctx, t)
		switch {
		case err == nil:
			fmt.Fprintf(w, "released %s\n", t)
		case errors.Is(err, storage.ErrNotFound):
			errs = append(errs, fmt.Errorf("%s is not quarantined", t))
		default:
			errs = append(errs, fmt.Errorf("release %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}
