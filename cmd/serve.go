package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/credverify/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		srvCfg := cfg.Server
		if servePort != 0 {
			srvCfg.Port = servePort
		}

		srv := server.New(srvCfg, server.Deps{
			Verifier: env.Service,
			Audit:    env.Store,
			Ledger:   env.Ledger,
			Metrics:  env.Metrics,
			Gatherer: env.Registry,
		})
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
