package main

import (
	"context"

	"github.com/spf13/cobra"

	"stock-trend-lab/internal/pipeline"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		spec string
		now  bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run update and aggregation on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if spec == "" {
				spec = a.cfg.Schedule.Cron
			}
			loc, err := a.cfg.ScheduleLocation()
			if err != nil {
				return err
			}

			a.serveMetrics(ctx)

			p, res, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			sched := pipeline.NewScheduler(func(ctx context.Context) error {
				_, err := p.Run(ctx)
				return err
			}, loc, &a.logger)

			if err := sched.Start(spec); err != nil {
				return err
			}
			defer sched.Stop()

			if now {
				if err := sched.RunNow(ctx); err != nil {
					a.logger.Error().Err(err).Msg("initial run failed")
				}
			}

			<-ctx.Done()
			a.logger.Info().Msg("shutting down scheduler")
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron expression (default: schedule.cron)")
	cmd.Flags().BoolVar(&now, "now", false, "run once immediately before waiting for the schedule")
	return cmd
}
