// Package ledger records registered document fingerprints and mints
// attestation tokens against them. Two backends implement the same contract:
// a networked ledger gateway and a local SQLite file.
package ledger

import (
	"context"
	"time"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/model"
)

// Ledger is the attestation ledger contract.
//
// Register is idempotent. Mint always allocates a new, strictly increasing
// token id; the ledger never de-duplicates mints.
type Ledger interface {
	IsRegistered(ctx context.Context, fingerprint string) (bool, error)
	Register(ctx context.Context, fingerprint string) (RegisterResult, error)
	Mint(ctx context.Context, owner, tokenURI, fingerprint string) (model.AttestationToken, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// RegisterResult reports whether the fingerprint was already registered.
type RegisterResult struct {
	AlreadyPresent bool `json:"already_present"`
}

// Stats summarizes ledger contents.
type Stats struct {
	Registered  int    `json:"registered"`
	LastTokenID int64  `json:"last_token_id"`
	Backend     string `json:"backend"`
}

// New selects the backend once at startup: the networked ledger (behind a
// registration cache) when an endpoint is configured, otherwise the local
// file.
func New(cfg config.LedgerConfig, m *metrics.Metrics) (Ledger, error) {
	if cfg.Endpoint != "" {
		remote := NewRemote(cfg)
		ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
		return &metered{next: NewCached(remote, cfg.CacheSize, ttl, m), metrics: m}, nil
	}

	local, err := OpenLocal(cfg.LocalPath)
	if err != nil {
		return nil, err
	}
	return &metered{next: local, metrics: m}, nil
}

// metered counts every call by operation and result.
type metered struct {
	next    Ledger
	metrics *metrics.Metrics
}

func (l *metered) IsRegistered(ctx context.Context, fp string) (bool, error) {
	ok, err := l.next.IsRegistered(ctx, fp)
	l.metrics.LedgerCall("is_registered", err)
	return ok, err
}

func (l *metered) Register(ctx context.Context, fp string) (RegisterResult, error) {
	res, err := l.next.Register(ctx, fp)
	l.metrics.LedgerCall("register", err)
	return res, err
}

func (l *metered) Mint(ctx context.Context, owner, tokenURI, fp string) (model.AttestationToken, error) {
	tok, err := l.next.Mint(ctx, owner, tokenURI, fp)
	l.metrics.LedgerCall("mint", err)
	return tok, err
}

func (l *metered) Stats(ctx context.Context) (Stats, error) {
	st, err := l.next.Stats(ctx)
	l.metrics.LedgerCall("stats", err)
	return st, err
}

func (l *metered) Close() error { return l.next.Close() }
