package ndarray

import "errors"

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrSizeMismatch  = errors.New("data size does not match shape")
	ErrUnknownAxis   = errors.New("unknown axis")
	ErrDuplicateAxis = errors.New("duplicate axis")
	ErrAxesMismatch  = errors.New("axes mismatch")
	ErrOutOfBounds   = errors.New("region out of bounds")
)
