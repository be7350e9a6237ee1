package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/store"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage lead campaigns",
}

var (
	campaignName        string
	campaignQueriesFile string
	campaignConfirm     bool
	campaignMaxResults  int
	campaignMaxRequests int
	campaignNoScrape    bool
	campaignNoScore     bool
)

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign from a YAML query file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		blob, err := os.ReadFile(campaignQueriesFile)
		if err != nil {
			return eris.Wrap(err, "read queries file")
		}

		// Validate the blob before storing it.
		var qs struct {
			Queries []string `yaml:"queries"`
		}
		if err := yaml.Unmarshal(blob, &qs); err != nil {
			return eris.Wrap(err, "parse queries file")
		}
		if len(qs.Queries) == 0 {
			return eris.New("queries file contains no queries")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		campaign := &model.Campaign{
			Name:                campaignName,
			QueriesBlob:         string(blob),
			QueriesCount:        len(qs.Queries),
			QueriesConfirmed:    campaignConfirm,
			MaxResultsPerSearch: campaignMaxResults,
			MaxTotalRequests:    campaignMaxRequests,
			ScrapingEnabled:     !campaignNoScrape,
			ScoringEnabled:      !campaignNoScore,
		}
		if err := st.CreateCampaign(ctx, campaign); err != nil {
			return eris.Wrap(err, "create campaign")
		}

		zap.L().Info("campaign created",
			zap.String("campaign_id", campaign.ID),
			zap.Int("queries", campaign.QueriesCount),
			zap.Bool("confirmed", campaign.QueriesConfirmed),
		)
		return printJSON(campaign)
	},
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Show a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		campaign, err := st.GetCampaign(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get campaign")
		}
		return printJSON(campaign)
	},
}

var campaignRunCmd = &cobra.Command{
	Use:   "run <campaign-id>",
	Short: "Run a campaign end to end and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		// Dispatchers run for the lifetime of this command; dispCancel
		// stops them once the run is terminal and the queues drain.
		dispCtx, dispCancel := context.WithCancel(ctx)
		defer dispCancel()
		dispDone := make(chan error, 1)
		go func() { dispDone <- a.runDispatchers(dispCtx) }()

		run, err := a.orch.StartRun(ctx, args[0])
		if err != nil {
			dispCancel()
			return eris.Wrap(err, "start run")
		}
		zap.L().Info("run started", zap.String("run_id", run.ID))

		// Wait for the run to reach a terminal state, then for the scrape
		// and score queues to drain.
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		terminal := false
		for {
			select {
			case <-ctx.Done():
				dispCancel()
				<-dispDone
				return ctx.Err()
			case <-ticker.C:
			}

			if !terminal {
				current, err := a.orch.GetRun(ctx, run.ID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						dispCancel()
						<-dispDone
						return eris.Errorf("run %s disappeared", run.ID)
					}
					zap.L().Warn("poll run", zap.Error(err))
					continue
				}
				terminal = current.Terminal()
				if terminal {
					run = current
				}
			}
			if terminal && a.drained() {
				break
			}
		}

		dispCancel()
		<-dispDone

		final, err := a.orch.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "get run")
		}
		return printJSON(final)
	},
}

func init() {
	campaignCreateCmd.Flags().StringVar(&campaignName, "name", "", "campaign name (required)")
	campaignCreateCmd.Flags().StringVar(&campaignQueriesFile, "queries", "", "YAML file with the query list (required)")
	campaignCreateCmd.Flags().BoolVar(&campaignConfirm, "confirm", false, "mark the query set confirmed, allowing runs")
	campaignCreateCmd.Flags().IntVar(&campaignMaxResults, "max-results", 60, "max results per search query")
	campaignCreateCmd.Flags().IntVar(&campaignMaxRequests, "max-requests", 0, "max API requests per run (0 = unlimited)")
	campaignCreateCmd.Flags().BoolVar(&campaignNoScrape, "no-scrape", false, "disable website scraping for this campaign")
	campaignCreateCmd.Flags().BoolVar(&campaignNoScore, "no-score", false, "disable AI scoring for this campaign")
	_ = campaignCreateCmd.MarkFlagRequired("name")
	_ = campaignCreateCmd.MarkFlagRequired("queries")

	campaignCmd.AddCommand(campaignCreateCmd)
	campaignCmd.AddCommand(campaignShowCmd)
	campaignCmd.AddCommand(campaignRunCmd)
	rootCmd.AddCommand(campaignCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
