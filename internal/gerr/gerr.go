// Package gerr defines the error kinds shared across the gtags
// storage and parsing layers (spec §7). Components wrap one of these
// sentinels with github.com/pkg/errors so the call site is preserved
// while errors.Is/errors.As keep working through the chain.
package gerr

import "github.com/pkg/errors"

var (
	// IOError covers read/write/stat/open failures on paged files or
	// source files.
	IOError = errors.New("io error")

	// CorruptDatabase covers a wrong header, an impossible fid (past
	// nextkey), or a dangling forward/reverse mismatch. Always fatal
	// for the current operation.
	CorruptDatabase = errors.New("corrupt database")

	// VersionMismatch means an existing database was written by an
	// incompatible version. Fatal; the caller must recreate it.
	VersionMismatch = errors.New("version mismatch")

	// ParseWarning covers unbalanced braces, uneven #if arms, and
	// malformed symbols. Never aborts a run by itself.
	ParseWarning = errors.New("parse warning")

	// UsageError covers bad flag combinations. Only ever returned to
	// the driver, never produced deep inside a core component.
	UsageError = errors.New("usage error")

	// Overflow covers fid space exhaustion, #if stack overflow, and
	// symbol-too-long. Fid and #if overflow are fatal; symbol overflow
	// is downgraded to ParseWarning by the caller.
	Overflow = errors.New("overflow")
)

// Wrap annotates err with a message and marks it as belonging to kind,
// so that errors.Is(result, kind) holds.
func Wrap(kind error, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(join{kind, err}, msg)
}

// New builds a fresh error of the given kind carrying msg.
func New(kind error, msg string) error {
	return errors.WithMessage(kind, msg)
}

// Newf builds a fresh error of the given kind with a formatted message.
func Newf(kind error, format string, args ...any) error {
	return errors.WithMessagef(kind, format, args...)
}

// join lets errors.Is see both the original cause and the gtags error
// kind it is classified as.
type join struct {
	kind  error
	cause error
}

func (j join) Error() string { return j.cause.Error() }
func (j join) Unwrap() []error {
	return []error{j.kind, j.cause}
}
