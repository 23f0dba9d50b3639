// internal/remote/errors.go
package remote

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/settle/internal/locator"
)

// Kind tags a remote failure with the category the core cares about.
type Kind int

const (
	KindUnknown Kind = iota
	// Transient kinds: expected to resolve on their own as remote state changes.
	KindNotFound
	KindStale
	KindNoSuchFrame
	KindNoAlert
	// Fatal kinds.
	KindInvalidLocator
	KindInvalidWindow
	KindScript
	KindUnsupported
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindNotFound:       "not found",
	KindStale:          "stale reference",
	KindNoSuchFrame:    "no such frame",
	KindNoAlert:        "no alert present",
	KindInvalidLocator: "invalid locator",
	KindInvalidWindow:  "invalid window",
	KindScript:         "script error",
	KindUnsupported:    "unsupported",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Transient reports whether a failure of this kind is safe to retry.
func (k Kind) Transient() bool {
	switch k {
	case KindNotFound, KindStale, KindNoSuchFrame, KindNoAlert:
		return true
	}
	return false
}

// Error is the error type returned by Session implementations.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "find" or "dispatch switch-frame"
	Message string
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrStale          = &Error{Kind: KindStale}
	ErrNoSuchFrame    = &Error{Kind: KindNoSuchFrame}
	ErrNoAlert        = &Error{Kind: KindNoAlert}
	ErrInvalidLocator = &Error{Kind: KindInvalidLocator}
	ErrInvalidWindow  = &Error{Kind: KindInvalidWindow}
	ErrScript         = &Error{Kind: KindScript}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
)

// NewError builds an *Error.
func NewError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error around an underlying cause. It returns nil for a nil cause.
func WrapError(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return "remote: " + msg
	}
	return fmt.Sprintf("remote %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, ErrStale) works for any
// stale failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// Disposition is what a wait loop should do with an evaluation error.
type Disposition int

const (
	Propagate Disposition = iota
	Retry
)

func (d Disposition) String() string {
	if d == Retry {
		return "retry"
	}
	return "propagate"
}

// Classify maps an error to Retry or Propagate. It is a pure function of the
// error's Kind; anything that is not a transient *Error propagates.
func Classify(err error) Disposition {
	if err == nil {
		return Propagate
	}
	if KindOf(err).Transient() {
		return Retry
	}
	return Propagate
}

// IsTransient is shorthand for Classify(err) == Retry.
func IsTransient(err error) bool {
	return Classify(err) == Retry
}

// CheckLocator validates loc and converts a failure into a fatal InvalidLocator error.
func CheckLocator(loc locator.Locator) error {
	if err := loc.Validate(); err != nil {
		return WrapError(KindInvalidLocator, "locate", err)
	}
	return nil
}
