package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credverify/internal/fields"
	"github.com/sells-group/credverify/internal/fingerprint"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/ocr"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>",
	Short: "Print a document's fingerprint and extracted fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read document")
		}

		pdf, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return err
		}
		images, err := ocr.NewRecognizer(cfg.OCR)
		if err != nil {
			return err
		}
		tables := fields.DefaultTables()
		if cfg.Fields.TablesPath != "" {
			if tables, err = fields.LoadTables(cfg.Fields.TablesPath); err != nil {
				return err
			}
		}

		fp, text, err := fingerprint.New(cfg.Fingerprint, pdf, images, nil).Extract(ctx, data, filepath.Base(args[0]))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Fingerprint model.DocumentFingerprint `json:"fingerprint"`
			Fields      model.Fields              `json:"fields"`
		}{fp, fields.NewExtractor(tables).Extract(text)})
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
}
