// Package errkind classifies failures so callers can contain them at the
// right granularity: mail errors abort a scan cycle, storage errors abort a
// single operation, parse errors skip a single message. Nothing here is ever
// fatal to the process.
package errkind

import "github.com/pkg/errors"

// A consume that affects zero rows is not part of this taxonomy: it is a
// regular outcome (the code was unknown or already used) and travels as a
// bool, not an error.
var (
	ErrMailUnavailable    = errors.New("mail unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrParseFailure       = errors.New("parse failure")
	ErrBusPublish         = errors.New("bus publish failure")
)

type taggedError struct {
	kind  error
	cause error
}

func (e *taggedError) Error() string   { return e.kind.Error() + ": " + e.cause.Error() }
func (e *taggedError) Unwrap() []error { return []error{e.kind, e.cause} }

func tag(kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &taggedError{kind: kind, cause: cause}
}

func Mail(cause error) error       { return tag(ErrMailUnavailable, cause) }
func Storage(cause error) error    { return tag(ErrStorageUnavailable, cause) }
func Parse(cause error) error      { return tag(ErrParseFailure, cause) }
func BusPublish(cause error) error { return tag(ErrBusPublish, cause) }

func IsMailUnavailable(err error) bool    { return errors.Is(err, ErrMailUnavailable) }
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }
func IsParseFailure(err error) bool       { return errors.Is(err, ErrParseFailure) }
