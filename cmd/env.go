package main

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/audit"
	"github.com/sells-group/credverify/internal/fields"
	"github.com/sells-group/credverify/internal/fingerprint"
	"github.com/sells-group/credverify/internal/identity"
	"github.com/sells-group/credverify/internal/ledger"
	"github.com/sells-group/credverify/internal/match"
	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/ocr"
	"github.com/sells-group/credverify/internal/store"
	"github.com/sells-group/credverify/internal/verify"
)

// serviceEnv holds the initialized store, ledger and verification service
// shared by the serve, import and verify commands.
type serviceEnv struct {
	Store    store.Store
	Ledger   ledger.Ledger
	Prints   *fingerprint.Extractor
	Service  *verify.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	closers []io.Closer
}

// Close releases everything initEnv opened, newest first.
func (e *serviceEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initEnv opens and migrates the store, selects the ledger and wires the
// verification service. Callers should defer env.Close().
func initEnv(ctx context.Context) (_ *serviceEnv, err error) {
	env := &serviceEnv{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	env.Registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	env.Metrics = metrics.New(env.Registry)

	env.Store, err = store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, env.Store)
	if err = env.Store.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Ledger, err = ledger.New(cfg.Ledger, env.Metrics)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, env.Ledger)

	pdf, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, err
	}
	images, err := ocr.NewRecognizer(cfg.OCR)
	if err != nil {
		return nil, err
	}
	env.Prints = fingerprint.New(cfg.Fingerprint, pdf, images, env.Metrics)

	tables := fields.DefaultTables()
	if cfg.Fields.TablesPath != "" {
		tables, err = fields.LoadTables(cfg.Fields.TablesPath)
		if err != nil {
			return nil, err
		}
	}

	sink, err := audit.New(cfg.Audit, env.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, sink)

	deps := verify.Deps{
		Fingerprints: env.Prints,
		Fields:       fields.NewExtractor(tables),
		Matcher:      match.NewEngine(env.Store, match.OptionsFromConfig(cfg.Match)),
		Ledger:       env.Ledger,
		Store:        env.Store,
		Audit:        sink,
		Identity:     identity.New(cfg.Identity),
		Metrics:      env.Metrics,
	}

	guard, err := verify.NewRedisGuard(ctx, cfg.Verify.Idempotency)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		deps.Guard = guard
		env.closers = append(env.closers, guard)
		zap.L().Info("mint idempotency guard enabled")
	}

	env.Service = verify.New(deps, cfg.Verify)
	return env, nil
}
