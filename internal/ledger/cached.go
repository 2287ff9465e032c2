package ledger

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/model"
)

// Cached remembers positive IsRegistered answers. Registration is
// permanent, so a cached true never goes stale; negatives are never cached.
type Cached struct {
	next    Ledger
	known   *expirable.LRU[string, struct{}]
	metrics *metrics.Metrics
}

// NewCached wraps next with an LRU of up to size fingerprints kept for ttl.
func NewCached(next Ledger, size int, ttl time.Duration, m *metrics.Metrics) *Cached {
	if size <= 0 {
		size = 10000
	}
	return &Cached{
		next:    next,
		known:   expirable.NewLRU[string, struct{}](size, nil, ttl),
		metrics: m,
	}
}

// IsRegistered answers from the cache when it can.
func (c *Cached) IsRegistered(ctx context.Context, fp string) (bool, error) {
	if _, ok := c.known.Get(fp); ok {
		c.metrics.LedgerCache(true)
		return true, nil
	}
	c.metrics.LedgerCache(false)

	ok, err := c.next.IsRegistered(ctx, fp)
	if err == nil && ok {
		c.known.Add(fp, struct{}{})
	}
	return ok, err
}

// Register registers through and caches the fingerprint.
func (c *Cached) Register(ctx context.Context, fp string) (RegisterResult, error) {
	res, err := c.next.Register(ctx, fp)
	if err == nil {
		c.known.Add(fp, struct{}{})
	}
	return res, err
}

// Mint passes through.
func (c *Cached) Mint(ctx context.Context, owner, tokenURI, fp string) (model.AttestationToken, error) {
	return c.next.Mint(ctx, owner, tokenURI, fp)
}

// Stats passes through.
func (c *Cached) Stats(ctx context.Context) (Stats, error) {
	return c.next.Stats(ctx)
}

// Close purges the cache and closes the wrapped ledger.
func (c *Cached) Close() error {
	c.known.Purge()
	return c.next.Close()
}
