package fetch

import (
	"errors"
	"fmt"
)

// ErrCounterRowMissing is wrapped by RelationalQueryError when the counter row is absent
var ErrCounterRowMissing = errors.New("counter row not found")

// ConnectionError reports that a source could not be reached at startup
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LedgerQueryError reports a failed or malformed ledger read
type LedgerQueryError struct {
	Op  string
	Err error
}

func (e *LedgerQueryError) Error() string {
	return fmt.Sprintf("ledger query %s: %v", e.Op, e.Err)
}

func (e *LedgerQueryError) Unwrap() error { return e.Err }

// RelationalQueryError reports a failed relational read
type RelationalQueryError struct {
	Op  string
	Err error
}

func (e *RelationalQueryError) Error() string {
	return fmt.Sprintf("relational query %s: %v", e.Op, e.Err)
}

func (e *RelationalQueryError) Unwrap() error { return e.Err }
