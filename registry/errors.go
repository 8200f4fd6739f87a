package registry

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType   = errors.New("unknown type")
	ErrAmbiguousType = errors.New("ambiguous type")
	ErrInvalidValue  = errors.New("invalid value")
)

// TypeError reports a failure tied to one registry key.
type TypeError struct {
	Key string
	Err error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("registry: type %q: %v", e.Key, e.Err)
}

func (e *TypeError) Unwrap() error {
	return e.Err
}

func unknownType(key string) error {
	return &TypeError{Key: key, Err: ErrUnknownType}
}

func invalidValue(typeName string, format string, args ...any) error {
	return &TypeError{Key: typeName, Err: fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))}
}
