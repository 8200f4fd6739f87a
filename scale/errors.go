package scale

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when a read would go past the end of the input.
	ErrOutOfBounds = errors.New("read out of bounds")
	// ErrInvalidUTF8 is returned when a decoded string is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8 string")
	// ErrUnknownVariant is returned when an enum discriminant has no matching variant.
	ErrUnknownVariant = errors.New("unknown variant")
	// ErrNonCanonicalCompact is returned when a compact integer uses a longer mode than required.
	ErrNonCanonicalCompact = errors.New("non-canonical compact encoding")
	// ErrInvalidBool is returned when a boolean byte is neither 0x00 nor 0x01.
	ErrInvalidBool = errors.New("invalid boolean byte")
	// ErrNegativeCompact is returned when a negative integer is passed to the compact encoder.
	ErrNegativeCompact = errors.New("compact integers must be unsigned")
	// ErrOverflow is returned when a value does not fit the requested width.
	ErrOverflow = errors.New("value overflows target width")
)

// CodecError describes a failed encode or decode step.
type CodecError struct {
	Op     string
	Offset int
	Err    error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("scale: %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func newCodecError(op string, offset int, err error) error {
	return &CodecError{Op: op, Offset: offset, Err: err}
}
