package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect campaign runs",
}

var (
	runsCampaignID string
	runsStatus     string
	runsLimit      int
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaign runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status := model.RunStatus(runsStatus)
		switch status {
		case "", model.RunRunning, model.RunCompleted, model.RunFailed:
		default:
			return eris.Errorf("invalid status %q", runsStatus)
		}

		runs, err := st.ListRuns(ctx, store.RunFilter{
			CampaignID: runsCampaignID,
			Status:     status,
			Limit:      runsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}
		return printJSON(runs)
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one campaign run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get run")
		}
		return printJSON(run)
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsCampaignID, "campaign", "", "filter by campaign ID")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, completed, failed)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "max runs to return")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	rootCmd.AddCommand(runsCmd)
}
