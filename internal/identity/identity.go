// Package identity talks to the identity-record collaborator that owns
// user profiles. The verification service only marks records verified and
// looks them up.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
)

// ErrNotFound is returned when no identity record matches.
var ErrNotFound = eris.New("identity: not found")

// Record is the collaborator's view of a claimant.
type Record struct {
	ID         string    `json:"id"`
	Wallet     string    `json:"wallet,omitempty"`
	Email      string    `json:"email,omitempty"`
	Verified   bool      `json:"verified"`
	TokenIDs   []int64   `json:"token_ids,omitempty"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
}

// Directory is the identity collaborator.
type Directory interface {
	MarkVerified(ctx context.Context, who model.Identity, token model.AttestationToken) error
	FindByWallet(ctx context.Context, wallet string) (*Record, error)
	FindByEmail(ctx context.Context, email string) (*Record, error)
}

// New returns an HTTP client when cfg.BaseURL is set, otherwise an
// in-process directory.
func New(cfg config.IdentityConfig) Directory {
	if cfg.BaseURL == "" {
		return NewMemory()
	}
	return NewClient(cfg)
}

// Memory is an in-process Directory keyed by wallet and email.
type Memory struct {
	mu      sync.Mutex
	records []*Record
	now     func() time.Time
}

// NewMemory returns an empty Memory directory.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// MarkVerified creates or updates the record for who.
func (m *Memory) MarkVerified(_ context.Context, who model.Identity, token model.AttestationToken) error {
	if who.IsZero() {
		return eris.New("identity: mark verified: no wallet or email")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.find(strings.ToLower(strings.TrimSpace(who.Wallet)), strings.ToLower(strings.TrimSpace(who.Email)))
	if rec == nil {
		rec = &Record{ID: who.Subject()}
		m.records = append(m.records, rec)
	}
	if w := strings.TrimSpace(who.Wallet); w != "" {
		rec.Wallet = strings.ToLower(w)
	}
	if e := strings.TrimSpace(who.Email); e != "" {
		rec.Email = strings.ToLower(e)
	}
	rec.Verified = true
	rec.TokenIDs = append(rec.TokenIDs, token.TokenID)
	rec.VerifiedAt = m.now().UTC()
	return nil
}

// FindByWallet returns the record bound to wallet, compared case-insensitively.
func (m *Memory) FindByWallet(_ context.Context, wallet string) (*Record, error) {
	return m.lookup(strings.ToLower(strings.TrimSpace(wallet)), "")
}

// FindByEmail returns the record registered under email, compared case-insensitively.
func (m *Memory) FindByEmail(_ context.Context, email string) (*Record, error) {
	return m.lookup("", strings.ToLower(strings.TrimSpace(email)))
}

func (m *Memory) lookup(wallet, email string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.find(wallet, email)
	if rec == nil {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.TokenIDs = append([]int64(nil), rec.TokenIDs...)
	return &cp, nil
}

func (m *Memory) find(wallet, email string) *Record {
	for _, r := range m.records {
		if (wallet != "" && r.Wallet == wallet) || (email != "" && r.Email == email) {
			return r
		}
	}
	return nil
}
