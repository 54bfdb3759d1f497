package imageproc

import "errors"

var (
	ErrInvalidSigma   = errors.New("invalid sigma")
	ErrInvalidOrder   = errors.New("derivative order must be 0, 1 or 2")
	ErrUnknownFeature = errors.New("unknown feature")
	ErrShapeMismatch  = errors.New("shape mismatch")
	ErrNotSingleBand  = errors.New("expected a single channel")
)
