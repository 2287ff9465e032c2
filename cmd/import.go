package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/fetcher"
	"github.com/sells-group/credverify/internal/verify"
)

var (
	importCorpusPath string
	importUploadedBy string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import administrator corpus rows or document sets",
}

var importCorpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Import corpus rows from a CSV, XLSX or JSON file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(importCorpusPath)
		if err != nil {
			return eris.Wrap(err, "read corpus file")
		}
		rows, err := fetcher.ReadCorpus(ctx, data, filepath.Base(importCorpusPath))
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Service.ImportCorpus(ctx, rows, importUploadedBy)
		if err != nil {
			return eris.Wrap(err, "import corpus")
		}

		zap.L().Info("corpus import complete",
			zap.Int("rows", len(rows)),
			zap.Int("records", len(records)),
			zap.String("file", importCorpusPath),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d corpus records\n", len(records))
		return nil
	},
}

var importDocumentsCmd = &cobra.Command{
	Use:   "documents <file>...",
	Short: "Fingerprint and register a set of documents (ZIP archives are expanded)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, err := loadDocuments(args)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fps, err := env.Service.ImportDocumentSet(ctx, docs, importUploadedBy)
		if err != nil {
			return eris.Wrap(err, "import documents")
		}

		out := cmd.OutOrStdout()
		for _, fp := range fps {
			fmt.Fprintf(out, "%s\t%s\t%s\n", fp.BinaryHash, fp.TextHash, fp.SourceName)
		}
		zap.L().Info("document import complete", zap.Int("documents", len(fps)))
		return nil
	},
}

// loadDocuments reads each path, expanding ZIP archives into their entries.
func loadDocuments(paths []string) ([]verify.Document, error) {
	var docs []verify.Document
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		if !fetcher.IsZIP(data) {
			docs = append(docs, verify.Document{Data: data, Filename: filepath.Base(p)})
			continue
		}
		entries, err := fetcher.ReadZIP(data, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			docs = append(docs, verify.Document{Data: e.Data, Filename: e.Name})
		}
	}
	return docs, nil
}

func init() {
	importCorpusCmd.Flags().StringVar(&importCorpusPath, "file", "", "path to corpus file (required)")
	_ = importCorpusCmd.MarkFlagRequired("file")
	importCmd.PersistentFlags().StringVar(&importUploadedBy, "uploaded-by", "cli", "uploader recorded on imported rows")

	importCmd.AddCommand(importCorpusCmd, importDocumentsCmd)
	rootCmd.AddCommand(importCmd)
}
