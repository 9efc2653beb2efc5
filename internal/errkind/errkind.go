// Package errkind classifies pipeline failures so stage workers can decide
// between retrying, failing the item, or stopping early.
package errkind

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// TransientIO covers network, provider and store hiccups. Retryable.
	TransientIO Kind = "transient_io"
	// DataIntegrity means a referenced record is missing or malformed.
	DataIntegrity Kind = "data_integrity"
	// InsufficientCredits stops an item before any embedding call.
	InsufficientCredits Kind = "insufficient_credits"
	// ContentEmpty ends an item as Skipped. It is not a failure.
	ContentEmpty Kind = "content_empty"
	// Configuration signals an operator problem such as a bad pricing
	// table or an embedding dimension mismatch.
	Configuration Kind = "configuration"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrContentEmpty        = errors.New("content empty")
	ErrNotFound            = errors.New("not found")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) error { return New(TransientIO, op, err) }

func Integrity(op string, err error) error { return New(DataIntegrity, op, err) }

func Config(op string, err error) error { return New(Configuration, op, err) }

// KindOf reports the classification of err. Sentinels are recognised even
// when unwrapped; anything unclassified is treated as TransientIO.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return InsufficientCredits
	case errors.Is(err, ErrContentEmpty):
		return ContentEmpty
	case errors.Is(err, ErrNotFound):
		return DataIntegrity
	}
	return TransientIO
}

// Retryable reports whether redelivering the job could succeed.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == TransientIO
}
