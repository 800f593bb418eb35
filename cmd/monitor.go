package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout-cli/internal/discovery"
	"github.com/sells-group/leadscout-cli/internal/monitor"
	"github.com/sells-group/leadscout-cli/internal/scrape"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the background job monitor",
	Long:  "Polls the executors for every active run and job, ingests results, re-dispatches queued work, and auto-starts scraping when discovery runs complete. Runs until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		searchExec, err := initSearchExec()
		if err != nil {
			return err
		}
		crawlExec, err := initCrawlExec()
		if err != nil {
			return err
		}

		m := monitor.New(st,
			discovery.New(st, searchExec),
			scrape.New(st, crawlExec),
			searchExec, crawlExec, cfg.Monitor)

		zap.L().Info("monitor starting; press Ctrl-C to stop")
		m.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
