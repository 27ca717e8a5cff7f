package inject

import "errors"

// Kind classifies a failed step. Every kind is fatal.
type Kind int

const (
	KindUsage Kind = iota + 1
	KindAccess
	KindCreate
	KindWrite
	KindEnv
	KindHandoff
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindAccess:
		return "access"
	case KindCreate:
		return "create"
	case KindWrite:
		return "write"
	case KindEnv:
		return "env"
	case KindHandoff:
		return "handoff"
	default:
		return "unknown"
	}
}

// Error is a failed step of Run.
type Error struct {
	Kind Kind
	// Op is the step context prefixed to the message; may be empty when
	// Err already names it.
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
