package verify

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/normalize"
)

// ImportCorpus normalizes rows, stores them idempotently and registers each
// record's hash with the ledger. Re-imported rows come back as the records
// already stored.
func (s *Service) ImportCorpus(ctx context.Context, rows []model.CorpusRow, uploadedBy string) ([]model.CorpusRecord, error) {
	if len(rows) == 0 {
		return nil, invalidInput("no corpus rows")
	}
	records := make([]model.CorpusRecord, 0, len(rows))
	for i, row := range rows {
		name := strings.TrimSpace(row.Name)
		if normalize.Name(name) == "" {
			return nil, invalidInput("corpus row %d has no name", i+1)
		}
		institute, score := strings.TrimSpace(row.Institute), strings.TrimSpace(row.Score)
		records = append(records, model.CorpusRecord{
			Name:                name,
			Institute:           institute,
			Score:               score,
			NormalizedInstitute: normalize.Institute(institute),
			NormalizedScore:     normalize.Percentage(score),
			NormalizedHash:      normalize.CorpusHash(name, institute, score),
			UploadedBy:          uploadedBy,
		})
	}

	stored, err := s.deps.Store.ImportCorpus(ctx, records)
	if err != nil {
		return nil, err
	}

	added := 0
	for _, rec := range stored {
		res, err := s.deps.Ledger.Register(ctx, rec.NormalizedHash)
		if err != nil {
			return nil, eris.Wrapf(err, "verify: register corpus record %s", rec.ID)
		}
		if !res.AlreadyPresent {
			added++
		}
	}

	log := zap.L().With(zap.String("component", "verify"))
	log.Info("verify: corpus imported",
		zap.Int("rows", len(rows)),
		zap.Int("registered", added),
		zap.String("uploaded_by", uploadedBy),
	)
	s.record(ctx, log, model.AuditEvent{
		Kind:    model.AuditCorpusImported,
		Message: "corpus imported",
		Payload: map[string]any{
			"rows":        len(rows),
			"registered":  added,
			"uploaded_by": uploadedBy,
		},
	})
	return stored, nil
}

// ImportDocumentSet fingerprints files concurrently, stores each fingerprint
// and registers its binary and text hashes. Results are in input order.
func (s *Service) ImportDocumentSet(ctx context.Context, files []Document, uploadedBy string) ([]model.DocumentFingerprint, error) {
	if len(files) == 0 {
		return nil, invalidInput("no documents")
	}
	for _, f := range files {
		if len(f.Data) == 0 {
			return nil, invalidInput("document %q is empty", f.Filename)
		}
	}

	out := make([]model.DocumentFingerprint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.importWorkers)
	for i, f := range files {
		g.Go(func() error {
			fp, _, err := s.deps.Fingerprints.Extract(gctx, f.Data, f.Filename)
			if err != nil {
				return eris.Wrapf(err, "verify: fingerprint %s", f.Filename)
			}
			fp.UploadedBy = uploadedBy
			stored, err := s.deps.Store.SaveFingerprint(gctx, fp)
			if err != nil {
				return err
			}
			for _, h := range stored.Hashes() {
				if _, err := s.deps.Ledger.Register(gctx, h); err != nil {
					return eris.Wrapf(err, "verify: register %s", f.Filename)
				}
			}
			out[i] = stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	withText := 0
	for _, fp := range out {
		if fp.TextHash != "" {
			withText++
		}
	}
	log := zap.L().With(zap.String("component", "verify"))
	log.Info("verify: documents imported",
		zap.Int("files", len(files)),
		zap.Int("with_text", withText),
		zap.String("uploaded_by", uploadedBy),
	)
	s.record(ctx, log, model.AuditEvent{
		Kind:    model.AuditDocumentsImported,
		Message: "documents imported",
		Payload: map[string]any{
			"files":       len(files),
			"with_text":   withText,
			"uploaded_by": uploadedBy,
		},
	})
	return out, nil
}
