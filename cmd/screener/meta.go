package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stock-trend-lab/internal/storage"
)

func newMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "meta TICKER...",
		Short: "Show the sector, industry and price of tickers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, res, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TICKER\tSECTOR\tINDUSTRY\tPRICE")
			var missing []string
			for _, t := range args {
				m, err := p.Meta(ctx, t)
				if errors.Is(err, storage.ErrNotFound) {
					missing = append(missing, t)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Ticker, m.Sector, m.Industry, m.Price)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(missing) > 0 {
				return fmt.Errorf("unknown tickers: %v", missing)
			}
			return nil
		},
	}
}
