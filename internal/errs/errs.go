// Package errs defines the error taxonomy shared across hoedur's
// components: Configuration, EmulatorFailure, InputCorrupt, ArchiveIO,
// and OracleClassification. Each kind wraps an underlying cause with
// errors.Is/errors.As support so callers can branch on kind without
// string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the five error categories.
type Kind int

const (
	// Configuration covers invalid or contradictory firmware config.
	// Fatal at startup.
	Configuration Kind = iota
	// EmulatorFailure covers a per-run recoverable emulator error.
	EmulatorFailure
	// InputCorrupt covers a stored Input that fails to deserialize.
	InputCorrupt
	// ArchiveIO covers archive read/write failures.
	ArchiveIO
	// OracleClassification never surfaces as an error; it is reserved
	// so oracle results can be logged through the same field helpers
	// as real errors without borrowing a different kind.
	OracleClassification
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case EmulatorFailure:
		return "emulator_failure"
	case InputCorrupt:
		return "input_corrupt"
	case ArchiveIO:
		return "archive_io"
	case OracleClassification:
		return "oracle_classification"
	default:
		return "unknown"
	}
}

// ExitCode returns the operator-facing process exit code for a Kind,
// per the propagation policy: 2 configuration, 3 I/O, 4 emulator.
func (k Kind) ExitCode() int {
	switch k {
	case Configuration:
		return 2
	case ArchiveIO:
		return 3
	case EmulatorFailure:
		return 4
	default:
		return 1
	}
}

// Error is a taxonomy-tagged error.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "config.Load"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
