package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credverify/internal/model"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS registered_fingerprints (
	fingerprint   TEXT PRIMARY KEY,
	registered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	token_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	owner       TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	token_uri   TEXT NOT NULL DEFAULT '',
	issued_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tokens_fingerprint ON tokens(fingerprint);
CREATE INDEX IF NOT EXISTS idx_tokens_owner ON tokens(owner);
`

// Local is the file-backed ledger. Writes are serialized by a mutex over a
// single connection and each runs in its own transaction, so a token id is
// durable before Mint returns. AUTOINCREMENT keeps ids from ever being
// reused, including after a restart.
type Local struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// OpenLocal opens (creating if needed) the ledger file at path.
func OpenLocal(path string) (*Local, error) {
	if path == "" {
		return nil, eris.New("ledger: local path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open local")
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
		localSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "ledger: init local %s", firstLine(stmt))
		}
	}
	return &Local{db: db, now: time.Now}, nil
}

// IsRegistered reports whether fingerprint was registered.
func (l *Local) IsRegistered(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM registered_fingerprints WHERE fingerprint = ?`, fingerprint,
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, unavailable("is_registered", err)
	}
	return true, nil
}

// Register adds fingerprint to the registered set.
func (l *Local) Register(ctx context.Context, fingerprint string) (RegisterResult, error) {
	if fingerprint == "" {
		return RegisterResult{}, unavailable("register", eris.New("empty fingerprint"))
	}

	var res RegisterResult
	err := l.write(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx,
			`INSERT INTO registered_fingerprints (fingerprint, registered_at) VALUES (?, ?)
			 ON CONFLICT(fingerprint) DO NOTHING`,
			fingerprint, l.now().UTC(),
		)
		if err != nil {
			return err
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		res.AlreadyPresent = n == 0
		return nil
	})
	if err != nil {
		return RegisterResult{}, unavailable("register", err)
	}
	return res, nil
}

// Mint allocates the next token id for owner and fingerprint.
func (l *Local) Mint(ctx context.Context, owner, tokenURI, fingerprint string) (model.AttestationToken, error) {
	if owner == "" || fingerprint == "" {
		return model.AttestationToken{}, mintFailed(eris.New("owner and fingerprint are required"))
	}

	tok := model.AttestationToken{
		OwnerIdentity: owner,
		Fingerprint:   fingerprint,
		TokenURI:      tokenURI,
		IssuedAt:      l.now().UTC(),
	}
	err := l.write(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx,
			`INSERT INTO tokens (owner, fingerprint, token_uri, issued_at) VALUES (?, ?, ?, ?)`,
			tok.OwnerIdentity, tok.Fingerprint, tok.TokenURI, tok.IssuedAt,
		)
		if err != nil {
			return err
		}
		tok.TokenID, err = r.LastInsertId()
		return err
	})
	if err != nil {
		return model.AttestationToken{}, unavailable("mint", err)
	}
	return tok, nil
}

// Stats counts registered fingerprints and reports the last allocated id.
func (l *Local) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "local"}
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registered_fingerprints`,
	).Scan(&st.Registered); err != nil {
		return Stats{}, unavailable("stats", err)
	}

	err := l.db.QueryRowContext(ctx,
		`SELECT seq FROM sqlite_sequence WHERE name = 'tokens'`,
	).Scan(&st.LastTokenID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, unavailable("stats", err)
	}
	return st, nil
}

// Tokens lists minted tokens for fingerprint in id order.
func (l *Local) Tokens(ctx context.Context, fingerprint string) ([]model.AttestationToken, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT token_id, owner, fingerprint, token_uri, issued_at FROM tokens
		 WHERE fingerprint = ? ORDER BY token_id`, fingerprint,
	)
	if err != nil {
		return nil, unavailable("tokens", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AttestationToken
	for rows.Next() {
		var t model.AttestationToken
		if err := rows.Scan(&t.TokenID, &t.OwnerIdentity, &t.Fingerprint, &t.TokenURI, &t.IssuedAt); err != nil {
			return nil, unavailable("tokens", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("tokens", err)
	}
	return out, nil
}

// Close closes the ledger file.
func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "commit")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
