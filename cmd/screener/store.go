package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"stock-trend-lab/internal/pipeline"
	"stock-trend-lab/internal/storage/csvfile"
)

func newExportCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole price history as a tabular file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, closeStore, err := pipeline.OpenPriceStore(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := store.Read(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := csvfile.WriteRecords(w, records); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}

			a.logger.Info().Int("rows", len(records)).Str("backend", a.cfg.Storage.Backend).Msg("snapshot exported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Append a tabular price history file to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r, err := csvfile.NewReader(f)
			if err != nil {
				return err
			}
			records, err := r.ReadAll()
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			store, closeStore, err := pipeline.OpenPriceStore(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := store.Append(ctx, records)
			if err != nil {
				return err
			}
			a.logger.Info().Int("rows", n).Str("backend", a.cfg.Storage.Backend).Msg("snapshot imported")
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows\n", n)
			return nil
		},
	}
}

// watermarkRebuilder is implemented by stores that keep a separate
// watermark index.
type watermarkRebuilder interface {
	RebuildWatermarks(ctx context.Context) (int, error)
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations, or rebuild the badger watermark index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend := a.cfg.Storage.Backend
			switch backend {
			case "postgres", "clickhouse", "badger":
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "backend %s has no schema\n", backend)
				return nil
			}

			// Opening a SQL store applies pending migrations.
			store, closeStore, err := pipeline.OpenPriceStore(ctx, a.cfg.Storage)
			if err != nil {
				return err
			}
			defer closeStore()

			if r, ok := store.(watermarkRebuilder); ok {
				n, err := r.RebuildWatermarks(ctx)
				if err != nil {
					return err
				}
				a.logger.Info().Int("tickers", n).Msg("watermark index rebuilt")
				fmt.Fprintf(cmd.OutOrStdout(), "rebuilt watermarks for %d tickers\n", n)
				return nil
			}
			a.logger.Info().Str("backend", backend).Msg("migrations applied")
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", backend)
			return nil
		},
	}
}
