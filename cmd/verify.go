package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/verify"
)

var (
	verifyWallet string
	verifyEmail  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify a document and mint an attestation on a match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if verifyWallet == "" && verifyEmail == "" {
			return eris.New("one of --wallet or --email is required")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read document")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		who := model.Identity{Wallet: verifyWallet, Email: verifyEmail}
		out, verr := env.Service.VerifyDocument(ctx, verify.Request{
			Document: &verify.Document{Data: data, Filename: filepath.Base(args[0])},
			Identity: who,
			Actor:    "cli:" + who.Subject(),
			Mode:     verify.ModeSelf,
		})
		if out.RequestID != "" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return eris.Wrap(err, "encode outcome")
			}
		}
		return verr
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyWallet, "wallet", "", "claimant wallet address")
	verifyCmd.Flags().StringVar(&verifyEmail, "email", "", "claimant email")
	rootCmd.AddCommand(verifyCmd)
}
