package ledger

import (
	"errors"
	"fmt"
)

// Store level sentinels. Implementations wrap these so callers can use errors.Is.
var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrAlreadyExists = errors.New("ledger: already exists")
)

// Kind classifies an operation failure by family.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreation
	KindGet
	KindPayment
	KindTask
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindCreation:
		return "creation error"
	case KindGet:
		return "get error"
	case KindPayment:
		return "payment error"
	case KindTask:
		return "task error"
	case KindInput:
		return "input error"
	default:
		return "error"
	}
}

// Entity tags the record family an error belongs to.
type Entity string

const (
	EntityMeter   Entity = "Meter"
	EntityReading Entity = "Reading"
	EntityBill    Entity = "Bill"
	EntityPrepay  Entity = "Prepay"
	EntityTask    Entity = "Task"
	EntityUser    Entity = "User"
)

// Error is the structured failure returned by every ledger operation.
type Error struct {
	Kind    Kind
	Entity  Entity
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Entity, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error without a cause.
func NewError(kind Kind, entity Entity, format string, args ...any) *Error {
	return &Error{Kind: kind, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a lower level fault, keeping its message.
func Wrap(err error, kind Kind, entity Entity, format string, args ...any) *Error {
	return &Error{Kind: kind, Entity: entity, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost ledger Error in err's chain.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
