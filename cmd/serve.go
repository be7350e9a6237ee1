package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadflow/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline service: HTTP API, scrape and score dispatchers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := api.NewServer(a.orch, a.store, a.broker)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return a.runDispatchers(gctx)
		})
		g.Go(func() error {
			return api.ListenAndServe(gctx, fmt.Sprintf(":%d", port), srv.Handler())
		})

		err = g.Wait()
		zap.L().Info("service stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
