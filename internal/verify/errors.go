package verify

import "github.com/rotisserie/eris"

// ErrInvalidInput is returned when a request lacks a required identity or
// payload. Ledger failures use the ledger package's typed errors.
var ErrInvalidInput = eris.New("verify: invalid input")

func invalidInput(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidInput, format, args...)
}
