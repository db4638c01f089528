package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/app"
	"github.com/JakeFAU/housedata-crawler/internal/collector"
	"github.com/JakeFAU/housedata-crawler/internal/crawler"
)

func newRunCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collects every configured job",
		Long: `Fetches each job's page, extracts its records and upserts them into
the configured store. With --interval the jobs are collected repeatedly
until the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat the run at this interval (0 runs once)")
	return cmd
}

func runCollect(cmd *cobra.Command, interval time.Duration) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := app.New(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			rt.logger.Warn("close app", zap.Error(cerr))
		}
	}()

	serveCtx, stopServe := context.WithCancel(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := a.Serve(serveCtx); err != nil {
			rt.logger.Error("operator endpoint failed", zap.Error(err))
		}
	}()
	defer func() {
		stopServe()
		<-served
	}()

	for {
		summary, err := a.RunOnce(ctx)
		printSummary(cmd, summary)
		switch {
		case errors.Is(err, context.Canceled):
			rt.logger.Info("run interrupted")
			return nil
		case err != nil && interval <= 0:
			return err
		case err != nil:
			rt.logger.Error("run failed", zap.Error(err))
		}
		if interval <= 0 {
			return nil
		}
		rt.logger.Info("next run scheduled", zap.Duration("in", interval))
		if err := crawler.SleepContext(ctx, interval); err != nil {
			return nil
		}
	}
}

func printSummary(cmd *cobra.Command, s collector.Summary) {
	fmt.Fprintf(cmd.OutOrStdout(), "pages=%d fetched=%d failed=%d records_written=%d write_failures=%d\n",
		s.Pages, s.Fetched, s.Failed, s.RecordsWritten, s.WriteFailures)
}
