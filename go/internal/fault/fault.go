package fault

import "errors"

// Kind classifies a domain error.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is a domain error whose message is safe to show to an end user.
// Values are compared by identity, so package-level sentinels work with errors.Is.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// NotFound builds an error for an entity that no longer exists. Callers treat it
// as "already handled".
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

// InvalidState builds an error for a rejected state transition.
func InvalidState(msg string) *Error {
	return &Error{Kind: KindInvalidState, Msg: msg}
}

// IsNotFound reports whether any error in err's chain is a NotFound fault.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsInvalidState reports whether any error in err's chain is an InvalidState fault.
func IsInvalidState(err error) bool {
	return kindOf(err) == KindInvalidState
}

// UserMessage returns the user-facing text of the first fault in err's chain.
func UserMessage(err error) (string, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Msg, true
	}
	return "", false
}

func kindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
