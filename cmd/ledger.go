package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/credverify/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the attestation ledger",
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print registration and token counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		l, err := ledger.New(cfg.Ledger, nil)
		if err != nil {
			return err
		}
		defer l.Close() //nolint:errcheck

		stats, err := l.Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerStatsCmd)
	rootCmd.AddCommand(ledgerCmd)
}
