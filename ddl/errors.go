package ddl

import "errors"

// ErrReturnShapeMismatch is returned when the declared return shape and the
// realized return value disagree structurally. The two are captured
// independently, so a mismatch means the declaration and the executed form
// drifted apart; rendering refuses to guess.
var ErrReturnShapeMismatch = errors.New("return shape mismatch")

// ErrInvalidOperatorArity is returned when operator metadata is attached to
// a callable without exactly two arguments.
var ErrInvalidOperatorArity = errors.New("invalid operator arity")

// ErrMissingCompositeName is returned when a composite-type reference has
// no retrievable runtime name, including a realized return value that was
// skipped.
var ErrMissingCompositeName = errors.New("missing composite type name")

// IsReturnShapeMismatch returns true if err is or wraps
// ErrReturnShapeMismatch.
func IsReturnShapeMismatch(err error) bool {
	return errors.Is(err, ErrReturnShapeMismatch)
}

// IsInvalidOperatorArity returns true if err is or wraps
// ErrInvalidOperatorArity.
func IsInvalidOperatorArity(err error) bool {
	return errors.Is(err, ErrInvalidOperatorArity)
}

// IsMissingCompositeName returns true if err is or wraps
// ErrMissingCompositeName.
func IsMissingCompositeName(err error) bool {
	return errors.Is(err, ErrMissingCompositeName)
}
