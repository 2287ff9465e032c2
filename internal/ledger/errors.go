package ledger

import "fmt"

// Kind classifies ledger failures.
type Kind string

// Failure kinds.
const (
	// KindUnavailable means the ledger could not be reached or did not answer
	// in time. The caller may retry later.
	KindUnavailable Kind = "unavailable"
	// KindMintFailed means the ledger answered and refused the mint.
	KindMintFailed Kind = "mint_failed"
)

// Sentinels for errors.Is.
var (
	ErrLedgerUnavailable = &Error{Kind: KindUnavailable}
	ErrMintFailed        = &Error{Kind: KindMintFailed}
)

// Error is a typed ledger failure. It is distinct from "not registered",
// which is a false answer and not an error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return "ledger: " + string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("ledger: %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("ledger: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

func mintFailed(err error) error {
	return &Error{Kind: KindMintFailed, Op: "mint", Err: err}
}
